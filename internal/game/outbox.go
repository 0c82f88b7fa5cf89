package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/promptpot/promptpot/internal/domain"
	"github.com/promptpot/promptpot/internal/session"
	"github.com/promptpot/promptpot/internal/store"
)

// IntentPublisher pushes intents to the relayer. chain.Bus implements it.
type IntentPublisher interface {
	PublishIntent(ctx context.Context, intent domain.Intent) error
}

// Outbox records paid send calls for the Chain Reader to submit. Intents are
// always persisted; publishing is best effort because the relayer can also
// poll the pending list.
type Outbox struct {
	repo      store.Repository
	publisher IntentPublisher
	now       func() time.Time
	newID     func() string
}

// maxIDAttempts bounds how often a colliding intent ID is regenerated.
const maxIDAttempts = 3

// NewOutbox creates an outbox. publisher may be nil.
func NewOutbox(repo store.Repository, publisher IntentPublisher) *Outbox {
	return &Outbox{repo: repo, publisher: publisher, now: time.Now, newID: uuid.NewString}
}

// SendMessage implements session.Dispatcher.
func (o *Outbox) SendMessage(ctx context.Context, call session.Call) (domain.Intent, error) {
	now := o.now()
	intent := domain.Intent{
		UserID:     call.UserID,
		Wallet:     call.Wallet.Hex(),
		Content:    call.Text,
		PriceEther: call.Price,
		Status:     domain.IntentPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if call.PriceWei != nil {
		intent.PriceWei = call.PriceWei.String()
	}

	if err := o.create(ctx, &intent); err != nil {
		return domain.Intent{}, err
	}

	if o.publisher != nil {
		if err := o.publisher.PublishIntent(ctx, intent); err != nil {
			slog.Warn("Failed to publish intent, relayer must poll",
				"intent_id", intent.ID,
				"user_id", intent.UserID,
				"error", err)
		}
	}

	slog.Info("Send intent recorded",
		"intent_id", intent.ID,
		"user_id", intent.UserID,
		"wallet", intent.Wallet,
		"price", intent.PriceEther)
	return intent, nil
}

// create inserts the intent under a fresh ID, drawing a new one if the ID is
// already taken.
func (o *Outbox) create(ctx context.Context, intent *domain.Intent) error {
	var err error
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		intent.ID = o.newID()
		err = retryOnConflict(ctx, "create intent", func() error {
			return o.repo.CreateIntent(ctx, intent)
		})
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		slog.Warn("Intent ID collision, drawing a new one",
			"intent_id", intent.ID,
			"attempt", attempt)
	}
	return fmt.Errorf("create intent after %d ID collisions: %w", maxIDAttempts, err)
}
