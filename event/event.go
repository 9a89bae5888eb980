package event

import (
	"time"

	"github.com/xraph/chanq/id"
)

// Status represents the lifecycle state of a queued event.
type Status string

const (
	// StatusPending means the event is waiting to be claimed by a consumer.
	StatusPending Status = "pending"
	// StatusLeased means a consumer holds the event under a live lease.
	StatusLeased Status = "leased"
	// StatusAcked means the event was acknowledged and awaits retention cleanup.
	StatusAcked Status = "acked"
)

// Event is one durable message row. It is mutated only by backend
// operations; status moves along pending → leased → {pending, acked}.
// A nack or an expired lease returns a leased event to pending; acked is
// terminal until retention cleanup physically deletes the row.
type Event struct {
	ID             id.EventID     `json:"id"`
	Channel        string         `json:"channel"`
	Payload        map[string]any `json:"payload"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Status         Status         `json:"status"`
	AvailableAt    time.Time      `json:"available_at"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
	Attempts       int            `json:"attempts"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
}

// Message is the read-only projection of a claimed event handed to
// consumers. It is hydrated from the claimed row and never persisted
// separately.
type Message struct {
	ID             id.EventID     `json:"id"`
	Channel        string         `json:"channel"`
	Payload        map[string]any `json:"payload"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Attempts       int            `json:"attempts"`
	AvailableAt    time.Time      `json:"available_at"`
	LeaseExpiresAt time.Time      `json:"lease_expires_at"`
	CreatedAt      time.Time      `json:"created_at"`
}
