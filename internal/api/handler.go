// Package api provides HTTP handlers for the promptpot API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/promptpot/promptpot/internal/game"
	"github.com/promptpot/promptpot/internal/store"
	"github.com/promptpot/promptpot/internal/wallet"
)

const maxSnapshotBytes = 8 << 20

// Settings are the static values handlers need.
type Settings struct {
	MaxMessageBytes int
	IngestToken     string
	// GameContract and AgentAddress are echoed to the client by GET /api/config.
	GameContract string
	AgentAddress string
}

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	svc      *game.Service
	gate     *wallet.Gate
	settings Settings
	// maxBodyBytes bounds JSON request bodies other than snapshots.
	maxBodyBytes int64
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, svc *game.Service, gate *wallet.Gate, settings Settings) *Handler {
	return &Handler{
		repo:         repo,
		svc:          svc,
		gate:         gate,
		settings:     settings,
		maxBodyBytes: int64(settings.MaxMessageBytes) + 1024,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/session", h.GetSession)
		r.Post("/messages", h.PostMessage)

		r.Route("/wallet", func(r chi.Router) {
			r.Post("/challenge", h.PostChallenge)
			r.Post("/verify", h.PostVerify)
			r.Post("/disconnect", h.PostDisconnect)
		})
	})
}

// RegisterChainRoutes registers the Chain Reader ingest routes. They sit
// outside the identity middleware and are guarded by the ingest token.
func (h *Handler) RegisterChainRoutes(r chi.Router) {
	r.Route("/api/chain", func(r chi.Router) {
		r.Use(h.requireIngestToken)
		r.Post("/snapshot", h.PostSnapshot)
		r.Get("/intents", h.GetIntents)
		r.Post("/intents/{id}", h.PostIntentStatus)
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"game_contract":     h.settings.GameContract,
		"agent_address":     h.settings.AgentAddress,
		"max_message_bytes": h.settings.MaxMessageBytes,
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
