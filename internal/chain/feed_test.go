package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedPublishAndWatch(t *testing.T) {
	f := NewFeed()
	_, ok := f.Latest()
	assert.False(t, ok)

	ch, cancel := f.Watch()
	defer cancel()

	require.True(t, f.Publish(Snapshot{BlockNumber: 5}))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("watcher was not woken")
	}

	got, ok := f.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(5), got.BlockNumber)
}

func TestFeedIgnoresOlderBlocks(t *testing.T) {
	f := NewFeed()
	require.True(t, f.Publish(Snapshot{BlockNumber: 10}))
	assert.False(t, f.Publish(Snapshot{BlockNumber: 9}))
	assert.True(t, f.Publish(Snapshot{BlockNumber: 10}))

	got, _ := f.Latest()
	assert.Equal(t, uint64(10), got.BlockNumber)
}

func TestFeedWatchCoalescesAndCancels(t *testing.T) {
	f := NewFeed()
	ch, cancel := f.Watch()
	assert.Equal(t, 1, f.Watchers())

	f.Touch()
	f.Touch()
	f.Touch()
	assert.Len(t, ch, 1)

	cancel()
	cancel()
	assert.Equal(t, 0, f.Watchers())
}

func TestSnapshotStale(t *testing.T) {
	now := time.Now()
	var zero Snapshot
	assert.True(t, zero.Stale(now, time.Minute))

	s := Snapshot{ObservedAt: now.Add(-2 * time.Minute)}
	assert.True(t, s.Stale(now, time.Minute))
	assert.False(t, s.Stale(now, time.Hour))
	assert.False(t, s.Stale(now, 0))
}

func TestFeedAccepts(t *testing.T) {
	f := NewFeed()
	assert.True(t, f.Accepts(Snapshot{BlockNumber: 9}))
	require.True(t, f.Publish(Snapshot{BlockNumber: 9}))

	assert.False(t, f.Accepts(Snapshot{BlockNumber: 8}))
	assert.True(t, f.Accepts(Snapshot{BlockNumber: 9}))
	assert.True(t, f.Accepts(Snapshot{BlockNumber: 10}))
	assert.True(t, f.Accepts(Snapshot{}))

	latest, _ := f.Latest()
	assert.Equal(t, uint64(9), latest.BlockNumber)
}
