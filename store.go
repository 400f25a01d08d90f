package switchpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// EventStore persists raw events for later preparation into count series.
// Implementations must be safe for concurrent use.
type EventStore interface {
	// Append stores a batch of events.
	Append(ctx context.Context, events []Event) error

	// Scan returns events with timestamps in [from, to), ascending by
	// time. A zero bound leaves that side open.
	Scan(ctx context.Context, from, to time.Time) ([]Event, error)

	// Count returns the number of stored event records.
	Count(ctx context.Context) (int64, error)

	// Close releases resources held by the store.
	Close() error
}

// Compile-time interface checks.
var (
	_ EventStore = (*MemoryStore)(nil)
	_ EventStore = (*SQLiteStore)(nil)
)

// validateEvents rejects records no store should accept.
func validateEvents(events []Event) error {
	for i, ev := range events {
		if ev.Count < 0 {
			return newInputError("store", fmt.Sprintf("negative count %d at event %d", ev.Count, i))
		}
		if ev.Time.IsZero() {
			return newInputError("store", fmt.Sprintf("zero timestamp at event %d", i))
		}
		if err := ValidateLabel(ev.Label); err != nil {
			return err
		}
	}
	return nil
}

// MemoryStore keeps events in memory, ordered by time. Suitable for tests
// and short-lived sessions.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	closed bool
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a batch of events.
func (m *MemoryStore) Append(ctx context.Context, events []Event) error {
	if err := validateEvents(events); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.events = append(m.events, events...)
	sort.SliceStable(m.events, func(i, j int) bool {
		return m.events[i].Time.Before(m.events[j].Time)
	})
	return nil
}

// Scan returns events in [from, to), ascending by time.
func (m *MemoryStore) Scan(ctx context.Context, from, to time.Time) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	var out []Event
	for _, ev := range m.events {
		if !from.IsZero() && ev.Time.Before(from) {
			continue
		}
		if !to.IsZero() && !ev.Time.Before(to) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Count returns the number of stored events.
func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(m.events)), nil
}

// Close marks the store closed; further operations fail.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
