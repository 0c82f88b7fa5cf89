// Package game orchestrates the chain feed, the repository and the session
// adapter into the operations the API exposes.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/promptpot/promptpot/internal/chain"
	"github.com/promptpot/promptpot/internal/domain"
	"github.com/promptpot/promptpot/internal/session"
	"github.com/promptpot/promptpot/internal/store"
)

// ReasonMessageTooLong rejects sends over the configured byte limit.
const ReasonMessageTooLong session.Reason = "message_too_long"

// confirmSkew tolerates chain timestamps slightly behind the intent's clock.
const confirmSkew = time.Minute

var (
	// ErrUnknownUser is returned when the caller has no user record.
	ErrUnknownUser = errors.New("unknown user")
	// ErrInvalidStatus is returned when a relayer reports a non-final status.
	ErrInvalidStatus = errors.New("invalid intent status")
)

// Limiter throttles sends per user. api.RateLimiter implements it.
type Limiter interface {
	Allow(key string) bool
}

// Options configure a Service.
type Options struct {
	Session session.Options
	// AgentOverride fills in the agent address when a snapshot lacks it.
	AgentOverride   *common.Address
	MaxMessageBytes int
	StaleAfter      time.Duration
	// Limiter, when set, is charged only for sends from connected users.
	Limiter Limiter
}

// Service is the game backend. It is safe for concurrent use.
type Service struct {
	repo   store.Repository
	feed   *chain.Feed
	outbox session.Dispatcher
	opts   Options
	now    func() time.Time

	// ingestMu orders store writes, reconciliation and feed publishes.
	ingestMu sync.Mutex
}

// NewService creates a game service.
func NewService(repo store.Repository, feed *chain.Feed, outbox session.Dispatcher, opts Options) *Service {
	return &Service{
		repo:   repo,
		feed:   feed,
		outbox: outbox,
		opts:   opts,
		now:    time.Now,
	}
}

// Feed returns the snapshot feed the service publishes to.
func (s *Service) Feed() *chain.Feed {
	return s.feed
}

// Restore loads the last stored snapshot into the feed.
func (s *Service) Restore(ctx context.Context) error {
	payload, err := s.repo.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load latest snapshot: %w", err)
	}
	if payload == nil {
		slog.Info("No stored snapshot to restore")
		return nil
	}
	snap, err := chain.DecodeJSON(payload)
	if err != nil {
		return fmt.Errorf("decode stored snapshot: %w", err)
	}
	s.feed.Publish(s.withAgent(snap))
	slog.Info("Restored chain snapshot", "block", snap.BlockNumber, "messages", len(snap.Messages))
	return nil
}

// Ingest accepts a snapshot from the Chain Reader. It returns false when the
// snapshot is older than the one already held. The snapshot is stored before
// watchers see it, so a failed save leaves the feed untouched.
func (s *Service) Ingest(ctx context.Context, snap chain.Snapshot) (bool, error) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	if snap.ObservedAt.IsZero() {
		snap.ObservedAt = s.now()
	}
	snap = s.withAgent(snap)

	if !s.feed.Accepts(snap) {
		slog.Debug("Ignoring stale snapshot", "block", snap.BlockNumber)
		return false, nil
	}

	payload, err := chain.EncodeJSON(snap)
	if err != nil {
		return false, err
	}
	if err := retryOnConflict(ctx, "save snapshot", func() error {
		return s.repo.SaveSnapshot(ctx, snap.BlockNumber, snap.ObservedAt, payload)
	}); err != nil {
		return false, err
	}

	confirmed, err := s.reconcile(ctx, snap)
	if err != nil {
		slog.Error("Failed to reconcile intents", "block", snap.BlockNumber, "error", err)
	}
	s.feed.Publish(snap)

	slog.Debug("Ingested snapshot",
		"block", snap.BlockNumber,
		"messages", len(snap.Messages),
		"confirmed_intents", confirmed)
	return true, nil
}

func (s *Service) withAgent(snap chain.Snapshot) chain.Snapshot {
	if snap.AgentAddress == nil && s.opts.AgentOverride != nil {
		addr := *s.opts.AgentOverride
		snap.AgentAddress = &addr
	}
	return snap
}

type sentKey struct {
	wallet  common.Address
	content string
}

type sighting struct {
	key string
	at  time.Time
}

// reconcile confirms pending intents that now appear on chain. A chain message
// is identified by its session key and confirms at most one intent, across
// ingests as well as within one: the key is stored on the intent it confirms.
// Intents are matched oldest first, and only to messages mined after the
// intent was created.
func (s *Service) reconcile(ctx context.Context, snap chain.Snapshot) (int, error) {
	pending, err := s.repo.PendingIntents(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list pending intents: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	wanted := make(map[sentKey]bool, len(pending))
	for _, intent := range pending {
		if common.IsHexAddress(intent.Wallet) {
			wanted[sentKey{wallet: common.HexToAddress(intent.Wallet), content: intent.Content}] = true
		}
	}

	onChain := make(map[sentKey][]sighting)
	var keys []string
	for m := range session.Messages(snap, s.opts.Session) {
		addr, ok := domain.ChainMessage{Sender: m.Sender}.SenderAddress()
		if !ok {
			continue
		}
		k := sentKey{wallet: addr, content: m.Content}
		if !wanted[k] {
			continue
		}
		onChain[k] = append(onChain[k], sighting{key: m.Key, at: m.Timestamp})
		keys = append(keys, m.Key)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	claimed, err := s.repo.ClaimedChainKeys(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("list claimed chain messages: %w", err)
	}

	confirmed := 0
	for _, intent := range pending {
		if !common.IsHexAddress(intent.Wallet) {
			continue
		}
		k := sentKey{wallet: common.HexToAddress(intent.Wallet), content: intent.Content}
		var match *sighting
		for i := range onChain[k] {
			c := &onChain[k][i]
			if claimed[c.key] || c.at.Before(intent.CreatedAt.Add(-confirmSkew)) {
				continue
			}
			match = c
			break
		}
		if match == nil {
			continue
		}
		claimed[match.key] = true

		err := retryOnConflict(ctx, "confirm intent", func() error {
			return s.repo.ConfirmIntent(ctx, intent.ID, match.key)
		})
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			slog.Warn("Chain message already reconciled",
				"intent_id", intent.ID,
				"chain_key", match.key,
				"error", err)
			continue
		}
		if err != nil {
			return confirmed, err
		}
		confirmed++
		slog.Info("Send intent confirmed on chain",
			"intent_id", intent.ID,
			"user_id", intent.UserID,
			"chain_key", match.key,
			"block", snap.BlockNumber)
	}
	return confirmed, nil
}

func (s *Service) latest() chain.Snapshot {
	snap, ok := s.feed.Latest()
	if !ok {
		// Nothing observed yet: every read is still in flight.
		return chain.Snapshot{Loading: true}
	}
	return snap
}

// View derives the session the user sees right now.
func (s *Service) View(ctx context.Context, userID string) (session.View, error) {
	v := session.Derive(s.latest(), s.opts.Session)

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return session.View{}, fmt.Errorf("get user: %w", err)
	}
	if user == nil || !user.HasWallet() {
		return v, nil
	}

	wallet, _ := user.Wallet()
	pending, err := s.repo.PendingIntents(ctx, wallet.Hex())
	if err != nil {
		return session.View{}, fmt.Errorf("list pending intents: %w", err)
	}
	v.Status.Submitting = len(pending) > 0
	return v, nil
}

// Send submits a paid message on behalf of the user. prompt is called when
// the user has no wallet bound.
func (s *Service) Send(ctx context.Context, userID, text string, prompt session.ConnectPrompt) (session.Outcome, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return session.Outcome{}, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return session.Outcome{}, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	snap := s.latest()
	req := session.Request{
		Text:   text,
		Quote:  snap.MessagePrice,
		UserID: userID,
	}
	if addr, ok := user.Wallet(); ok {
		req.Wallet = session.Wallet{Connected: true, Address: addr}

		// Server-side policy only applies to connected users, so an
		// unconnected user is always prompted first.
		if !session.Status(snap).InputEnabled {
			return session.Outcome{Kind: session.Rejected, Reason: session.ReasonInputDisabled}, nil
		}
		if s.opts.MaxMessageBytes > 0 && len(strings.TrimSpace(text)) > s.opts.MaxMessageBytes {
			return session.Outcome{Kind: session.Rejected, Reason: ReasonMessageTooLong}, nil
		}
		if s.opts.Limiter != nil && !s.opts.Limiter.Allow(userID) {
			slog.Warn("Send rate limited", "user_id", userID)
			return session.Outcome{Kind: session.Rejected, Reason: session.ReasonRateLimited}, nil
		}
	}

	outcome, err := session.Submit(ctx, req, s.outbox, prompt)
	if err != nil {
		slog.Error("Send dispatch failed", "user_id", userID, "error", err)
		return outcome, err
	}
	if outcome.Kind == session.Dispatched {
		s.feed.Touch()
	}
	return outcome, nil
}

// PendingIntents lists intents the relayer has not yet resolved.
func (s *Service) PendingIntents(ctx context.Context) ([]*domain.Intent, error) {
	return s.repo.PendingIntents(ctx, "")
}

// ResolveIntent records the relayer's final word on an intent.
func (s *Service) ResolveIntent(ctx context.Context, id string, status domain.IntentStatus) error {
	switch status {
	case domain.IntentConfirmed, domain.IntentFailed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := retryOnConflict(ctx, "resolve intent", func() error {
		return s.repo.UpdateIntentStatus(ctx, id, status)
	}); err != nil {
		return err
	}
	slog.Info("Send intent resolved by relayer", "intent_id", id, "status", status)
	s.feed.Touch()
	return nil
}

// Fresh reports whether the held snapshot is recent enough to serve.
func (s *Service) Fresh() bool {
	snap, ok := s.feed.Latest()
	if !ok {
		return false
	}
	return !snap.Stale(s.now(), s.opts.StaleAfter)
}
