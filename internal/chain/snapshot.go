// Package chain models what the external Chain Reader reports about the game
// contract and moves that data in and out of the service.
package chain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/promptpot/promptpot/internal/domain"
)

// Snapshot is one consistent set of chain reads. A nil field means the read
// has not resolved; nothing is coerced to a zero value.
type Snapshot struct {
	Messages     []domain.ChainMessage
	PrizePool    *big.Int
	MessagePrice *big.Int
	Phase        *domain.GamePhase
	AgentAddress *common.Address

	Loading   bool
	ReadError string

	BlockNumber uint64
	ObservedAt  time.Time
}

// Stale reports whether the snapshot is older than maxAge at now.
// A zero snapshot is always stale.
func (s *Snapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if s.ObservedAt.IsZero() {
		return true
	}
	return maxAge > 0 && now.Sub(s.ObservedAt) > maxAge
}

// Read is the loading/data/error envelope some reader libraries wrap results in.
type Read[T any] struct {
	Data    *T
	Loading bool
	Err     error
}

// Unwrap returns the data and true only for a settled, successful read.
func (r Read[T]) Unwrap() (T, bool) {
	var zero T
	if r.Loading || r.Err != nil || r.Data == nil {
		return zero, false
	}
	return *r.Data, true
}

// Ptr unwraps into a pointer, nil when unresolved.
func (r Read[T]) Ptr() *T {
	v, ok := r.Unwrap()
	if !ok {
		return nil
	}
	return &v
}
