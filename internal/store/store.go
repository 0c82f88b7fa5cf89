// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/promptpot/promptpot/internal/domain"
)

var (
	// ErrNotFound is returned by updates that matched no row.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write would duplicate a unique key.
	ErrConflict = errors.New("conflict")
)

// Repository defines the interface for persisting users, wallet bindings,
// chain snapshots and the send-message outbox.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil if missing.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// BindWallet attaches a verified wallet address to a user.
	BindWallet(ctx context.Context, userID, wallet string) error

	// ClearWallet detaches the user's wallet.
	ClearWallet(ctx context.Context, userID string) error

	// SaveChallenge stores the pending wallet challenge for a user, replacing any previous one.
	SaveChallenge(ctx context.Context, challenge *domain.WalletChallenge) error

	// GetChallenge returns the pending challenge. Returns nil, nil if missing.
	GetChallenge(ctx context.Context, userID string) (*domain.WalletChallenge, error)

	// DeleteChallenge removes the pending challenge.
	DeleteChallenge(ctx context.Context, userID string) error

	// SaveSnapshot stores the latest encoded chain snapshot.
	SaveSnapshot(ctx context.Context, block uint64, observedAt time.Time, payload []byte) error

	// LatestSnapshot returns the stored snapshot payload, or nil if none.
	LatestSnapshot(ctx context.Context) ([]byte, error)

	// CreateIntent inserts a new outbox entry.
	CreateIntent(ctx context.Context, intent *domain.Intent) error

	// PendingIntents lists pending intents, oldest first. An empty wallet lists all.
	PendingIntents(ctx context.Context, wallet string) ([]*domain.Intent, error)

	// UpdateIntentStatus moves an intent to a new status.
	UpdateIntentStatus(ctx context.Context, id string, status domain.IntentStatus) error

	// ConfirmIntent marks a pending intent confirmed by the chain message with
	// the given key. ErrConflict means the key already confirmed another intent.
	ConfirmIntent(ctx context.Context, id, chainKey string) error

	// ClaimedChainKeys returns the subset of keys that already confirmed an intent.
	ClaimedChainKeys(ctx context.Context, keys []string) (map[string]bool, error)

	// ExpireIntents marks pending intents older than ttl as expired.
	ExpireIntents(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
