package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptpot/promptpot/internal/shared"
)

const (
	conflictMaxRetries = 3
	conflictBaseDelay  = 50 * time.Millisecond
)

// retryOnConflict runs fn, retrying with exponential backoff while sqlite
// reports the database as busy or locked.
func retryOnConflict(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < conflictMaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == conflictMaxRetries-1 {
			break
		}

		delay := conflictBaseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
		slog.Debug("Database locked, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
