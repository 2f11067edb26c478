package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultLogCapacity bounds the in-memory log ring served over the channel.
const DefaultLogCapacity = 500

// LogEntry is one captured log record.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// logRing is the shared bounded buffer behind every derived LogBuffer
// handler.
type logRing struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

// LogBuffer is a slog.Handler that tees records into a bounded in-memory
// ring on top of an inner handler, so recent logs can be served to the
// orchestrator without touching disk.
type LogBuffer struct {
	inner slog.Handler
	ring  *logRing
}

// NewLogBuffer wraps inner with a ring of the given capacity.
func NewLogBuffer(inner slog.Handler, capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogBuffer{
		inner: inner,
		ring:  &logRing{entries: make([]LogEntry, capacity)},
	}
}

// Enabled defers to the inner handler.
func (b *LogBuffer) Enabled(ctx context.Context, level slog.Level) bool {
	return b.inner.Enabled(ctx, level)
}

// Handle captures the record and forwards it.
func (b *LogBuffer) Handle(ctx context.Context, r slog.Record) error {
	message := r.Message
	r.Attrs(func(a slog.Attr) bool {
		message += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
		return true
	})

	b.ring.mu.Lock()
	b.ring.entries[b.ring.next] = LogEntry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: message,
	}
	b.ring.next = (b.ring.next + 1) % len(b.ring.entries)
	if b.ring.next == 0 {
		b.ring.full = true
	}
	b.ring.mu.Unlock()

	return b.inner.Handle(ctx, r)
}

// WithAttrs derives a handler sharing the same ring.
func (b *LogBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogBuffer{inner: b.inner.WithAttrs(attrs), ring: b.ring}
}

// WithGroup derives a handler sharing the same ring.
func (b *LogBuffer) WithGroup(name string) slog.Handler {
	return &LogBuffer{inner: b.inner.WithGroup(name), ring: b.ring}
}

// Recent returns up to limit captured entries, oldest first. A non-positive
// limit returns everything retained.
func (b *LogBuffer) Recent(limit int) []LogEntry {
	b.ring.mu.Lock()
	defer b.ring.mu.Unlock()

	var ordered []LogEntry
	if b.ring.full {
		ordered = append(ordered, b.ring.entries[b.ring.next:]...)
		ordered = append(ordered, b.ring.entries[:b.ring.next]...)
	} else {
		ordered = append(ordered, b.ring.entries[:b.ring.next]...)
	}

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}
