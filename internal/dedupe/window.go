// Package dedupe implements a bounded retention window for idempotency keys.
//
// The leaderboard engine must reject a second application of the same bid ID
// (at-least-once retries from the bid service, optimistic client replays)
// without retaining every key forever. The window keeps the most recent N
// keys in insertion order; once a key is evicted, a duplicate that old can no
// longer be verified in memory and callers fall back to the durable store.
package dedupe

import (
	"sync"
)

// DefaultCapacity is the retention window used when callers pass a
// non-positive capacity.
const DefaultCapacity = 4096

// Window tracks recently observed keys with bounded memory.
// Safe for concurrent use.
type Window struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string // ring buffer of keys in arrival order
	head     int
	full     bool
}

// NewWindow creates a window retaining up to capacity keys.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
		order:    make([]string, capacity),
	}
}

// Observe records key and reports whether it was newly added.
// Returns false for a duplicate still inside the window.
func (w *Window) Observe(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.seen[key]; dup {
		return false
	}

	if w.full {
		// Evict the oldest key to make room.
		delete(w.seen, w.order[w.head])
	}
	w.order[w.head] = key
	w.seen[key] = struct{}{}
	w.head++
	if w.head == w.capacity {
		w.head = 0
		w.full = true
	}
	return true
}

// Contains reports whether key is still inside the window, without
// recording it.
func (w *Window) Contains(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[key]
	return ok
}

// Len returns the number of keys currently retained.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
