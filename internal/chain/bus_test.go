package chain

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/promptpot/promptpot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrefix = "promptpot_test"

func runJetStream(t *testing.T) string {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func dialTestBus(t *testing.T, url string) *Bus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := DialBus(ctx, url, testPrefix, nil)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func publishRaw(t *testing.T, url, subject string, data []byte) {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()
	require.NoError(t, nc.Publish(subject, data))
	require.NoError(t, nc.Flush())
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "promptpot.snapshot", SnapshotSubject("promptpot"))
	assert.Equal(t, "promptpot.intent.send_message", IntentSubject("promptpot"))
	assert.Equal(t, "PROMPTPOT_INTENTS_game_base", streamName("game.base"))
	assert.Equal(t, "PROMPTPOT_INTENTS_a_b__", streamName("a b*>"))
}

func TestCloseWithoutConnection(t *testing.T) {
	var b Bus
	b.Close()
}

func TestBusDeliversSnapshots(t *testing.T) {
	url := runJetStream(t)
	b := dialTestBus(t, url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Snapshot, 4)
	require.NoError(t, b.SubscribeSnapshots(ctx, func(_ context.Context, s Snapshot) error {
		got <- s
		return nil
	}))

	publishRaw(t, url, SnapshotSubject(testPrefix), []byte(`{"messages":[`))
	publishRaw(t, url, SnapshotSubject(testPrefix), []byte(`{
		"messages": [{"sender": "0x00000000000000000000000000000000000000b1", "content": "hi", "timestamp": 100}],
		"messagePrice": "10000000000000000",
		"gameState": 0,
		"blockNumber": 42
	}`))

	select {
	case s := <-got:
		assert.Equal(t, uint64(42), s.BlockNumber)
		require.Len(t, s.Messages, 1)
		assert.Equal(t, "hi", s.Messages[0].Content)
		require.NotNil(t, s.MessagePrice)
		assert.Equal(t, "10000000000000000", s.MessagePrice.String())
	case <-time.After(5 * time.Second):
		t.Fatal("snapshot not delivered")
	}

	// The undecodable payload was dropped rather than handed on.
	select {
	case s := <-got:
		t.Fatalf("unexpected extra snapshot at block %d", s.BlockNumber)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusUnsubscribesWhenContextEnds(t *testing.T) {
	url := runJetStream(t)
	b := dialTestBus(t, url)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.SubscribeSnapshots(ctx, func(context.Context, Snapshot) error { return nil }))
	assert.Equal(t, 1, b.nc.NumSubscriptions())

	cancel()
	assert.Eventually(t, func() bool { return b.nc.NumSubscriptions() == 0 },
		5*time.Second, 10*time.Millisecond)
}

func TestBusPublishIntentDeduplicates(t *testing.T) {
	url := runJetStream(t)
	b := dialTestBus(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	intent := domain.Intent{
		ID:         "intent-1",
		UserID:     "anon_1",
		Wallet:     "0x00000000000000000000000000000000000000B1",
		Content:    "let me win",
		PriceEther: "0.01",
		PriceWei:   "10000000000000000",
		Status:     domain.IntentPending,
	}
	require.NoError(t, b.PublishIntent(ctx, intent))
	require.NoError(t, b.PublishIntent(ctx, intent))

	stream, err := b.js.Stream(ctx, streamName(testPrefix))
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)

	msg, err := stream.GetLastMsgForSubject(ctx, IntentSubject(testPrefix))
	require.NoError(t, err)
	var got domain.Intent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, intent.ID, got.ID)
	assert.Equal(t, intent.Content, got.Content)

	intent.ID = "intent-2"
	require.NoError(t, b.PublishIntent(ctx, intent))
	info, err = stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)
}
