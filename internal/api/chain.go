package api

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/promptpot/promptpot/internal/chain"
	"github.com/promptpot/promptpot/internal/domain"
	"github.com/promptpot/promptpot/internal/game"
	"github.com/promptpot/promptpot/internal/store"
)

// IngestTokenHeader carries the shared secret of the Chain Reader.
const IngestTokenHeader = "X-Ingest-Token"

type intentStatusRequest struct {
	Status domain.IntentStatus `json:"status"`
}

func (h *Handler) requireIngestToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := h.settings.IngestToken; token != "" {
			got := r.Header.Get(IngestTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				Error(w, http.StatusUnauthorized, "invalid ingest token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func snapshotFormat(r *http.Request) chain.Format {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return chain.FormatJSON
	}
	if strings.Contains(mt, "yaml") {
		return chain.FormatYAML
	}
	return chain.FormatJSON
}

// PostSnapshot ingests a snapshot pushed by the Chain Reader.
func (h *Handler) PostSnapshot(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSnapshotBytes))
	if err != nil {
		Error(w, http.StatusRequestEntityTooLarge, "snapshot too large")
		return
	}

	snap, err := chain.Decode(bytes.NewReader(body), snapshotFormat(r))
	if err != nil {
		slog.Warn("Rejected undecodable snapshot", "error", err)
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted, err := h.svc.Ingest(r.Context(), snap)
	if err != nil {
		slog.Error("Failed to ingest snapshot", "block", snap.BlockNumber, "error", err)
		Error(w, http.StatusInternalServerError, "failed to ingest snapshot")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"accepted": accepted,
		"block":    snap.BlockNumber,
	})
}

// GetIntents lists pending send intents for relayers that poll.
func (h *Handler) GetIntents(w http.ResponseWriter, r *http.Request) {
	intents, err := h.svc.PendingIntents(r.Context())
	if err != nil {
		slog.Error("Failed to list pending intents", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list intents")
		return
	}
	if intents == nil {
		intents = []*domain.Intent{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"intents": intents})
}

// PostIntentStatus records the relayer's result for an intent.
func (h *Handler) PostIntentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req intentStatusRequest
	if err := decodeJSON(w, r, 1024, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.svc.ResolveIntent(r.Context(), id, req.Status)
	switch {
	case err == nil:
		JSON(w, http.StatusOK, map[string]string{"id": id, "status": string(req.Status)})
	case errors.Is(err, game.ErrInvalidStatus):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "intent not found")
	default:
		slog.Error("Failed to resolve intent", "intent_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to resolve intent")
	}
}
