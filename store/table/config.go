package table

import "time"

// Config controls the table-backed queue. Identifiers are validated once,
// at construction, never per call.
type Config struct {
	// Table is the backing table name.
	Table string

	// Lease is how long a claimed event stays owned by one consumer before
	// it becomes claimable again.
	Lease time.Duration

	// Retention is how long acknowledged events are kept before the
	// opportunistic cleanup after an ack deletes them.
	Retention time.Duration

	// SelectForUpdate adds FOR UPDATE to the claim-candidate select on
	// dialects that support it.
	SelectForUpdate bool

	// SkipLocked adds SKIP LOCKED to the row lock. Effective only when
	// SelectForUpdate is set and the dialect supports it.
	SkipLocked bool

	// JSONPassthrough hands payload and metadata documents to the session
	// as native values (driver-encoded JSON) instead of serialized text.
	JSONPassthrough bool

	// MaxClaimAttempts bounds the claim retry loop in one Dequeue call.
	// A lost race after the last attempt degrades to "no event", never an
	// error.
	MaxClaimAttempts int
}

// DefaultConfig returns a Config with the standard queue defaults.
func DefaultConfig() Config {
	return Config{
		Table:            "sqlspec_event_queue",
		Lease:            30 * time.Second,
		Retention:        24 * time.Hour,
		MaxClaimAttempts: 5,
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
	return c
}
