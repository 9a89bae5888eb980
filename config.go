package chanq

import (
	"time"

	"github.com/xraph/chanq/store/table"
)

// BackendTable is the name of the always-available table-backed backend.
const BackendTable = "table"

// BackendNative asks the registry for whatever backend is registered for
// the session's dialect.
const BackendNative = "native"

// Config holds configuration for a Channel. It is supplied once at
// construction; there are no process-wide mutable defaults.
type Config struct {
	// Table is the backing queue table name.
	Table string

	// Lease is how long a claimed event stays owned by one consumer.
	Lease time.Duration

	// Retention is how long acknowledged events are kept before the
	// post-ack cleanup deletes them.
	Retention time.Duration

	// SelectForUpdate adds a pessimistic row lock to the claim-candidate
	// select on dialects that support it.
	SelectForUpdate bool

	// SkipLocked adds SKIP LOCKED to the row lock. Effective only with
	// SelectForUpdate.
	SkipLocked bool

	// JSONPassthrough hands payload documents to the store as native
	// structures instead of serialized text.
	JSONPassthrough bool

	// MaxClaimAttempts bounds claim retries within one dequeue call.
	MaxClaimAttempts int

	// PollInterval is how long consumers wait after an empty poll.
	PollInterval time.Duration

	// Backend is the preferred backend: BackendTable, BackendNative, or a
	// registry name. Resolution failure falls back to the table backend
	// with a warning, never an error.
	Backend string
}

// DefaultConfig returns a Config with the standard queue defaults.
func DefaultConfig() Config {
	return Config{
		Table:            "sqlspec_event_queue",
		Lease:            30 * time.Second,
		Retention:        24 * time.Hour,
		MaxClaimAttempts: 5,
		PollInterval:     time.Second,
		Backend:          BackendTable,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Table == "" {
		c.Table = def.Table
	}
	if c.Lease <= 0 {
		c.Lease = def.Lease
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.MaxClaimAttempts <= 0 {
		c.MaxClaimAttempts = def.MaxClaimAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	return c
}

// tableConfig projects the channel configuration onto the table store.
func (c Config) tableConfig() table.Config {
	return table.Config{
		Table:            c.Table,
		Lease:            c.Lease,
		Retention:        c.Retention,
		SelectForUpdate:  c.SelectForUpdate,
		SkipLocked:       c.SkipLocked,
		JSONPassthrough:  c.JSONPassthrough,
		MaxClaimAttempts: c.MaxClaimAttempts,
	}
}
