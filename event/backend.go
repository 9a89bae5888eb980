package event

import (
	"context"
	"time"

	"github.com/xraph/chanq/id"
)

// Capabilities describes which consumption styles a backend supports.
// The table-backed fallback supports both; a native backend may support
// only one.
type Capabilities struct {
	// Blocking means the backend can serve dedicated-goroutine loops that
	// poll synchronously.
	Blocking bool
	// Async means the backend can serve cooperative, context-cancellable
	// consumers (every blocking point observes ctx).
	Async bool
}

// Backend is the uniform persistence contract for one event queue.
// Implementations must provide at-least-once delivery: a claimed event
// whose lease expires without an Ack or Nack becomes claimable again with
// its attempt counter already incremented.
//
// Dequeue returning (nil, nil) means no event is currently claimable —
// which covers both an empty channel and a claim lost to a competitor.
// Callers decide whether to sleep and retry.
type Backend interface {
	// Publish inserts a new pending event and returns its assigned ID.
	Publish(ctx context.Context, channel string, payload, metadata map[string]any) (id.EventID, error)

	// Dequeue atomically claims the oldest available event on the channel,
	// leasing it to the caller. Returns (nil, nil) when nothing is claimable.
	Dequeue(ctx context.Context, channel string) (*Message, error)

	// Ack marks the event as consumed. Acking an already-acked or unknown
	// ID is a no-op.
	Ack(ctx context.Context, eventID id.EventID) error

	// Nack returns a leased event to pending, making it immediately
	// claimable. Attempts are not changed. Idempotent like Ack.
	Nack(ctx context.Context, eventID id.EventID) error

	// Name is a diagnostic label, e.g. "table" or "postgres".
	Name() string

	// Capabilities reports the consumption styles this backend serves.
	Capabilities() Capabilities

	// Close releases backend resources. Safe to call more than once.
	Close() error
}

// Notifier is optionally implemented by backends that can block until a
// publish notification arrives instead of sleeping through a fixed poll
// interval. WaitForEvent returns when an event may have become claimable
// on the channel, when timeout elapses, or when ctx is done — a wake-up is
// a hint, not a delivery: the caller still has to win a claim.
type Notifier interface {
	WaitForEvent(ctx context.Context, channel string, timeout time.Duration) error
}
