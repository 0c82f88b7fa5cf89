package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/promptpot/promptpot/internal/game"
	"github.com/promptpot/promptpot/internal/identity"
	"github.com/promptpot/promptpot/internal/session"
)

type sendRequest struct {
	Content string `json:"content"`
}

// GetSession returns the chat session view for the caller.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	view, err := h.svc.View(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to derive session view", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	JSON(w, http.StatusOK, view)
}

// PostMessage sends a paid message for the caller.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req sendRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.svc.Send(r.Context(), userID, req.Content, nil)
	if err != nil && outcome.Kind == "" {
		if errors.Is(err, game.ErrUnknownUser) {
			Error(w, http.StatusUnauthorized, "user not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	JSON(w, OutcomeStatus(outcome), outcome)
}

// OutcomeStatus maps a send outcome to its HTTP status code.
func OutcomeStatus(o session.Outcome) int {
	switch o.Kind {
	case session.Dispatched:
		return http.StatusAccepted
	case session.Gated:
		return http.StatusPreconditionRequired
	}
	switch o.Reason {
	case session.ReasonInputDisabled:
		return http.StatusConflict
	case session.ReasonRateLimited:
		return http.StatusTooManyRequests
	case session.ReasonDispatchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}
