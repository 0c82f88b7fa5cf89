// Package domain contains core domain types for the promptpot service.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// User represents an anonymous visitor and the wallet bound to them, if any.
type User struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasWallet returns true if a verified wallet is bound to the user.
func (u *User) HasWallet() bool {
	return u.WalletAddress != "" && common.IsHexAddress(u.WalletAddress)
}

// Wallet returns the bound wallet address.
func (u *User) Wallet() (common.Address, bool) {
	if !u.HasWallet() {
		return common.Address{}, false
	}
	return common.HexToAddress(u.WalletAddress), true
}
