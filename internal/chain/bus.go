package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/promptpot/promptpot/internal/domain"
)

// SnapshotHandler receives every snapshot published by the Chain Reader.
type SnapshotHandler func(ctx context.Context, s Snapshot) error

// Bus connects the service to the Chain Reader over NATS. Snapshots arrive on
// plain subjects (latest wins); send intents go to a JetStream stream so the
// relayer can consume them durably.
type Bus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	logger *slog.Logger
}

// SnapshotSubject is where the Chain Reader publishes snapshots.
func SnapshotSubject(prefix string) string {
	return prefix + ".snapshot"
}

// IntentSubject is where send-message intents are published.
func IntentSubject(prefix string) string {
	return prefix + ".intent.send_message"
}

func streamName(prefix string) string {
	return "PROMPTPOT_INTENTS_" + sanitizeStreamName(prefix)
}

func sanitizeStreamName(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r == '.' || r == '*' || r == '>' || r == ' ' {
			out[i] = '_'
		}
	}
	return string(out)
}

// DialBus connects to NATS and makes sure the intent stream exists.
func DialBus(ctx context.Context, url, prefix string, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("promptpot"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(streamCtx, jetstream.StreamConfig{
		Name:        streamName(prefix),
		Description: "Paid send-message intents awaiting the chain relayer",
		Subjects:    []string{prefix + ".intent.>"},
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure intent stream: %w", err)
	}

	logger.Info("Connected to NATS", "url", nc.ConnectedUrl(), "prefix", prefix)
	return &Bus{nc: nc, js: js, prefix: prefix, logger: logger}, nil
}

// SubscribeSnapshots delivers decoded snapshots to handler until ctx is done.
func (b *Bus) SubscribeSnapshots(ctx context.Context, handler SnapshotHandler) error {
	sub, err := b.nc.Subscribe(SnapshotSubject(b.prefix), func(msg *nats.Msg) {
		snap, err := DecodeJSON(msg.Data)
		if err != nil {
			b.logger.Warn("Dropping undecodable snapshot", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, snap); err != nil {
			b.logger.Error("Snapshot handler failed", "block", snap.BlockNumber, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", SnapshotSubject(b.prefix), err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("register snapshot subscription: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Debug("Failed to unsubscribe snapshots", "error", err)
		}
	}()
	return nil
}

// PublishIntent hands an intent to the relayer. The intent ID doubles as the
// JetStream message ID so a republish after a timeout is deduplicated.
func (b *Bus) PublishIntent(ctx context.Context, intent domain.Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	subject := IntentSubject(b.prefix)
	if _, err := b.js.Publish(ctx, subject, data, jetstream.WithMsgID(intent.ID)); err != nil {
		return fmt.Errorf("publish intent to %s: %w", subject, err)
	}
	b.logger.Debug("Published intent", "subject", subject, "intent_id", intent.ID)
	return nil
}

// Close drains pending messages and closes the connection.
func (b *Bus) Close() {
	if b.nc == nil {
		return
	}
	if err := b.nc.Drain(); err != nil {
		b.logger.Warn("Failed to drain NATS connection", "error", err)
		b.nc.Close()
	}
}
