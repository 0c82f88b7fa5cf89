package domain

import "time"

// WalletChallenge is a one-time message a user signs to bind a wallet.
type WalletChallenge struct {
	UserID    string    `json:"-"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the challenge can no longer be redeemed.
func (c *WalletChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
