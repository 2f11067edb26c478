package channel

import (
	"fmt"
	"sync"
	"time"
)

// Tracker is in-memory bookkeeping of in-flight commands. No business
// logic: Begin before execution, Complete exactly once after, counters
// stay correct regardless of completion order.
type Tracker struct {
	mu        sync.Mutex
	active    map[string]time.Time
	total     int64
	succeeded int64
	failed    int64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]time.Time)}
}

// Begin registers a command as in flight. A duplicate sync id is a
// protocol violation and fails loudly; the existing entry is never
// overwritten.
func (t *Tracker) Begin(syncID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.active[syncID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSyncID, syncID)
	}
	t.active[syncID] = time.Now()
	t.total++
	return nil
}

// Complete removes the command from the active set and increments exactly
// one of the outcome counters. Safe to call even when the handler panicked
// upstream; completion of an unknown id only adjusts counters.
func (t *Tracker) Complete(syncID string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.active, syncID)
	if success {
		t.succeeded++
	} else {
		t.failed++
	}
}

// Clear drops every in-flight entry. Called when the connection closes:
// commands cannot complete meaningfully after a disconnect.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = make(map[string]time.Time)
}

// ActiveCount returns the number of in-flight commands.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// ActiveIDs returns a snapshot of in-flight sync ids.
func (t *Tracker) ActiveIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	return ids
}

// TotalProcessed returns the number of commands begun since startup.
func (t *Tracker) TotalProcessed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Succeeded returns the number of commands that completed successfully.
func (t *Tracker) Succeeded() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.succeeded
}

// Failed returns the number of commands that failed.
func (t *Tracker) Failed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}
