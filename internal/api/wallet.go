package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/promptpot/promptpot/internal/identity"
	"github.com/promptpot/promptpot/internal/wallet"
)

type verifyRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":          user.UserID,
		"username":         user.Username,
		"wallet_address":   user.WalletAddress,
		"wallet_connected": user.HasWallet(),
	})
}

// PostChallenge issues a sign-in message for the caller's wallet.
func (h *Handler) PostChallenge(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	c, err := h.gate.Issue(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to issue wallet challenge", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to issue challenge")
		return
	}
	JSON(w, http.StatusOK, c)
}

// PostVerify redeems a signed challenge and binds the wallet.
func (h *Handler) PostVerify(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req verifyRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	addr, err := h.gate.Verify(r.Context(), userID, req.Address, req.Signature)
	switch {
	case err == nil:
	case errors.Is(err, wallet.ErrInvalidAddress), errors.Is(err, wallet.ErrSignatureInvalid):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, wallet.ErrChallengeMissing), errors.Is(err, wallet.ErrChallengeExpired),
		errors.Is(err, wallet.ErrAddressMismatch):
		Error(w, http.StatusUnauthorized, err.Error())
		return
	default:
		slog.Error("Failed to verify wallet", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to verify wallet")
		return
	}

	h.svc.Feed().Touch()
	JSON(w, http.StatusOK, map[string]interface{}{
		"wallet_address":   addr.Hex(),
		"wallet_connected": true,
	})
}

// PostDisconnect removes the caller's wallet binding.
func (h *Handler) PostDisconnect(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if err := h.gate.Disconnect(r.Context(), userID); err != nil {
		slog.Error("Failed to disconnect wallet", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to disconnect wallet")
		return
	}
	h.svc.Feed().Touch()
	JSON(w, http.StatusOK, map[string]interface{}{"wallet_connected": false})
}
