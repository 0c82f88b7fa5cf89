package game

import (
	"context"
	"log/slog"
	"time"

	"github.com/promptpot/promptpot/internal/store"
)

// ExpiryCallback is called after a sweep expired at least one intent.
type ExpiryCallback func(expired int64)

// StartExpiryWorker runs a background goroutine that periodically marks
// pending intents older than ttl as expired.
func StartExpiryWorker(ctx context.Context, repo store.Repository, interval, ttl time.Duration, onExpire ExpiryCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Intent expiry worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpiredIntents(ctx, repo, ttl, onExpire)
			case <-ctx.Done():
				slog.Info("Intent expiry worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredIntents(ctx context.Context, repo store.Repository, ttl time.Duration, onExpire ExpiryCallback) {
	var expired int64
	err := retryOnConflict(ctx, "expire intents", func() error {
		n, err := repo.ExpireIntents(ctx, ttl)
		expired = n
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Intent expiry sweep canceled", "error", err)
			return
		}
		slog.Error("Intent expiry sweep failed", "error", err)
		return
	}
	if expired == 0 {
		return
	}

	slog.Info("Expired stale send intents", "count", expired)
	if onExpire != nil {
		onExpire(expired)
	}
}
