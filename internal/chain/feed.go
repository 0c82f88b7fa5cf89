package chain

import (
	"log/slog"
	"sync"
)

// Feed holds the latest snapshot and wakes watchers when it changes.
type Feed struct {
	mu       sync.RWMutex
	latest   Snapshot
	has      bool
	watchers map[int]chan struct{}
	nextID   int
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{watchers: make(map[int]chan struct{})}
}

// Latest returns the current snapshot and whether one was ever published.
func (f *Feed) Latest() (Snapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, f.has
}

// Accepts reports whether Publish would take s. Block zero means unknown and
// is always accepted.
func (f *Feed) Accepts(s Snapshot) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.accepts(s)
}

func (f *Feed) accepts(s Snapshot) bool {
	return !f.has || s.BlockNumber == 0 || s.BlockNumber >= f.latest.BlockNumber
}

// Publish replaces the latest snapshot. Snapshots from a block older than the
// current one are ignored so an out-of-order delivery cannot roll state back.
func (f *Feed) Publish(s Snapshot) bool {
	f.mu.Lock()
	if !f.accepts(s) {
		current := f.latest.BlockNumber
		f.mu.Unlock()
		slog.Debug("Ignoring stale snapshot", "block", s.BlockNumber, "current_block", current)
		return false
	}
	f.latest = s
	f.has = true
	f.mu.Unlock()

	f.Touch()
	return true
}

// Touch wakes every watcher without changing the snapshot. Used when derived
// per-user state changes, e.g. an intent was created or confirmed.
func (f *Feed) Touch() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch returns a channel that receives a signal after each change, plus a
// cancel func. Signals coalesce: a slow watcher sees at most one pending wake.
func (f *Feed) Watch() (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan struct{}, 1)
	f.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watchers, id)
			f.mu.Unlock()
		})
	}
}

// Watchers returns the number of active watchers.
func (f *Feed) Watchers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.watchers)
}
