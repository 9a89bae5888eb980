// Package memory provides a fully in-memory queue backend. Safe for
// concurrent access. Intended for unit testing and development; it honors
// the same claim/lease/ack/nack contract as the table store.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/xraph/chanq/event"
	"github.com/xraph/chanq/id"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("chanq/memory: store closed")

// Ensure Store implements the backend contract at compile time.
var _ event.Backend = (*Store)(nil)

// Config controls lease and retention behaviour of the memory backend.
type Config struct {
	Lease     time.Duration
	Retention time.Duration
}

// Store is an in-memory event.Backend guarded by one mutex. The mutex
// makes every claim cycle atomic, which is the in-process analogue of the
// table store's conditional UPDATE.
type Store struct {
	mu     sync.Mutex
	events map[string]*event.Event

	lease     time.Duration
	retention time.Duration
	closed    bool
}

// New returns an empty memory backend.
func New(cfg Config) *Store {
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &Store{
		events:    make(map[string]*event.Event),
		lease:     cfg.Lease,
		retention: cfg.Retention,
	}
}

// Name returns the backend label used in diagnostics.
func (m *Store) Name() string { return "memory" }

// Capabilities reports support for both consumption styles.
func (m *Store) Capabilities() event.Capabilities {
	return event.Capabilities{Blocking: true, Async: true}
}

// Close marks the backend closed. Idempotent.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Publish stores a new pending event.
func (m *Store) Publish(_ context.Context, channel string, payload, metadata map[string]any) (id.EventID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return id.Nil, ErrClosed
	}

	eventID := id.NewEventID()
	now := time.Now().UTC()
	m.events[eventID.String()] = &event.Event{
		ID:          eventID,
		Channel:     channel,
		Payload:     payload,
		Metadata:    metadata,
		Status:      event.StatusPending,
		AvailableAt: now,
		CreatedAt:   now,
	}
	return eventID, nil
}

// Dequeue claims the oldest claimable event on the channel. The whole
// cycle runs under the store mutex, so concurrent callers can never claim
// the same event.
func (m *Store) Dequeue(_ context.Context, channel string) (*event.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	now := time.Now().UTC()

	candidates := make([]*event.Event, 0, len(m.events))
	for _, e := range m.events {
		if e.Channel != channel || e.AvailableAt.After(now) {
			continue
		}
		switch e.Status {
		case event.StatusPending:
			candidates = append(candidates, e)
		case event.StatusLeased:
			if e.LeaseExpiresAt == nil || !e.LeaseExpiresAt.After(now) {
				candidates = append(candidates, e)
			}
		case event.StatusAcked:
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	e := candidates[0]
	expires := now.Add(m.lease)
	e.Status = event.StatusLeased
	e.LeaseExpiresAt = &expires
	e.Attempts++

	return &event.Message{
		ID:             e.ID,
		Channel:        e.Channel,
		Payload:        e.Payload,
		Metadata:       e.Metadata,
		Attempts:       e.Attempts,
		AvailableAt:    e.AvailableAt,
		LeaseExpiresAt: expires,
		CreatedAt:      e.CreatedAt,
	}, nil
}

// Ack marks the event consumed and runs retention cleanup. Only a leased
// event can be acked; anything else (pending, already acked, unknown) is a
// no-op.
func (m *Store) Ack(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	now := time.Now().UTC()
	if e, ok := m.events[eventID.String()]; ok && e.Status == event.StatusLeased {
		e.Status = event.StatusAcked
		n := now
		e.AcknowledgedAt = &n
		e.LeaseExpiresAt = nil
	}

	cutoff := now.Add(-m.retention)
	for key, e := range m.events {
		if e.Status == event.StatusAcked && e.AcknowledgedAt != nil && !e.AcknowledgedAt.After(cutoff) {
			delete(m.events, key)
		}
	}
	return nil
}

// Nack returns a leased event to pending without touching its attempt
// counter. A no-op for events that are not currently leased.
func (m *Store) Nack(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if e, ok := m.events[eventID.String()]; ok && e.Status == event.StatusLeased {
		e.Status = event.StatusPending
		e.LeaseExpiresAt = nil
	}
	return nil
}

// ExpireLease force-expires an event's lease. Test hook: lease-driven
// redelivery can be exercised without sleeping through a real lease.
func (m *Store) ExpireLease(eventID id.EventID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.events[eventID.String()]; ok && e.Status == event.StatusLeased {
		past := time.Now().UTC().Add(-time.Second)
		e.LeaseExpiresAt = &past
	}
}

// Len reports how many events the store currently holds (all statuses).
func (m *Store) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
