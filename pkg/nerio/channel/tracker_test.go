package channel

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestTrackerBeginComplete(t *testing.T) {
	tr := NewTracker()

	if err := tr.Begin("sync-1"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if got := tr.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}
	if got := tr.TotalProcessed(); got != 1 {
		t.Errorf("TotalProcessed = %d, want 1", got)
	}

	tr.Complete("sync-1", true)

	if got := tr.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after complete = %d, want 0", got)
	}
	if got := tr.Succeeded(); got != 1 {
		t.Errorf("Succeeded = %d, want 1", got)
	}
	if got := tr.Failed(); got != 0 {
		t.Errorf("Failed = %d, want 0", got)
	}
}

func TestTrackerDuplicateSyncID(t *testing.T) {
	tr := NewTracker()

	if err := tr.Begin("sync-1"); err != nil {
		t.Fatalf("first Begin failed: %v", err)
	}

	err := tr.Begin("sync-1")
	if err == nil {
		t.Fatal("expected error for duplicate sync id")
	}
	if !errors.Is(err, ErrDuplicateSyncID) {
		t.Errorf("error = %v, want ErrDuplicateSyncID", err)
	}

	// The original entry must survive the rejected duplicate.
	if got := tr.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}
	if got := tr.TotalProcessed(); got != 1 {
		t.Errorf("TotalProcessed = %d, want 1", got)
	}
}

func TestTrackerFailureCounter(t *testing.T) {
	tr := NewTracker()

	_ = tr.Begin("sync-1")
	tr.Complete("sync-1", false)

	if got := tr.Failed(); got != 1 {
		t.Errorf("Failed = %d, want 1", got)
	}
	if got := tr.Succeeded(); got != 0 {
		t.Errorf("Succeeded = %d, want 0", got)
	}
}

func TestTrackerClear(t *testing.T) {
	tr := NewTracker()

	_ = tr.Begin("sync-1")
	_ = tr.Begin("sync-2")
	tr.Clear()

	if got := tr.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after clear = %d, want 0", got)
	}
	// Counters survive a clear.
	if got := tr.TotalProcessed(); got != 2 {
		t.Errorf("TotalProcessed = %d, want 2", got)
	}

	// Cleared ids can be begun again.
	if err := tr.Begin("sync-1"); err != nil {
		t.Errorf("Begin after clear failed: %v", err)
	}
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewTracker()

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sync-%d", i)
			if err := tr.Begin(id); err != nil {
				t.Errorf("Begin(%s) failed: %v", id, err)
				return
			}
			tr.Complete(id, i%2 == 0)
		}(i)
	}
	wg.Wait()

	if got := tr.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
	if got := tr.TotalProcessed(); got != n {
		t.Errorf("TotalProcessed = %d, want %d", got, n)
	}
	if got := tr.Succeeded() + tr.Failed(); got != n {
		t.Errorf("Succeeded+Failed = %d, want %d", got, n)
	}
}
