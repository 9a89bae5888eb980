package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/chanq/event"
	"github.com/xraph/chanq/id"
	"github.com/xraph/chanq/store"
)

// Ensure Store implements the backend contract at compile time.
var _ event.Backend = (*Store)(nil)

// Store is the table-backed queue: one relational table holds every event,
// and correctness under concurrent consumers rests entirely on the
// database's atomicity guarantee for the single conditional claim UPDATE.
// No in-process locking is used; any number of processes may poll the same
// table.
type Store struct {
	sess   store.Session
	cfg    Config
	logger *slog.Logger

	// SQL is rendered once at construction against the session dialect.
	// lockedClaimSQL is empty unless the configuration and dialect allow
	// pessimistic locking; when set it replaces the two-step claim.
	insertSQL      string
	candidateSQL   string
	claimSQL       string
	lockedClaimSQL string
	ackSQL         string
	cleanupSQL     string
	nackSQL        string
}

// ErrInvalidTable marks a table identifier that failed validation. It is a
// configuration error: construction fails, nothing is retried.
var ErrInvalidTable = errors.New("chanq/table: invalid table name")

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New builds a table-backed store over the given session. The table
// identifier is validated here, once; an invalid name is a configuration
// error and fails construction.
func New(sess store.Session, cfg Config, opts ...Option) (*Store, error) {
	cfg = cfg.withDefaults()
	if !event.ValidIdent(cfg.Table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, cfg.Table)
	}

	s := &Store{
		sess:   sess,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	d := sess.Dialect()
	s.insertSQL = render(insertQuery(cfg.Table), d)
	s.candidateSQL = render(candidateQuery(cfg.Table), d)
	s.claimSQL = render(claimQuery(cfg.Table), d)
	if lock := lockClause(cfg, d); lock != "" {
		s.lockedClaimSQL = render(lockedClaimQuery(cfg.Table, lock), d)
	}
	s.ackSQL = render(ackQuery(cfg.Table), d)
	s.cleanupSQL = render(cleanupQuery(cfg.Table), d)
	s.nackSQL = render(nackQuery(cfg.Table), d)

	return s, nil
}

// Name returns the backend label used in diagnostics.
func (s *Store) Name() string { return "table" }

// Capabilities reports that the table store serves both blocking and
// cooperative consumers.
func (s *Store) Capabilities() event.Capabilities {
	return event.Capabilities{Blocking: true, Async: true}
}

// Close releases the underlying session.
func (s *Store) Close() error { return s.sess.Close() }

// Publish inserts a new pending event and returns its ID. AvailableAt and
// CreatedAt are both the publish instant; AvailableAt is kept as a separate
// column so delayed delivery can build on it later.
func (s *Store) Publish(ctx context.Context, channel string, payload, metadata map[string]any) (id.EventID, error) {
	eventID := id.NewEventID()
	now := time.Now().UTC()

	payloadArg, err := s.docArg(payload)
	if err != nil {
		return id.Nil, fmt.Errorf("chanq/table: encode payload: %w", err)
	}
	metadataArg, err := s.docArg(metadata)
	if err != nil {
		return id.Nil, fmt.Errorf("chanq/table: encode metadata: %w", err)
	}

	_, err = s.sess.Exec(ctx, s.insertSQL,
		eventID.String(), channel, payloadArg, metadataArg, now, now,
	)
	if err != nil {
		return id.Nil, fmt.Errorf("chanq/table: publish: %w", err)
	}
	return eventID, nil
}

// Dequeue runs the claim algorithm: select the oldest claimable candidate,
// then attempt the atomic conditional UPDATE that leases it. A zero-row
// update means the claim was lost to a competitor; the loop retries up to
// MaxClaimAttempts and then reports no event — a lost race is
// indistinguishable from an empty channel by design.
//
// With SelectForUpdate the claim is a single UPDATE whose inner select
// takes the row lock, so the lock is held for the whole claim and no
// retry loop is needed.
func (s *Store) Dequeue(ctx context.Context, channel string) (*event.Message, error) {
	// One canonical "now" per logical operation. The same instant is the
	// availability cutoff in the select and the staleness cutoff in the
	// claim guard, so a competitor renewing the lease between the two
	// statements makes the guard fail instead of double-delivering.
	now := time.Now().UTC()
	leaseExpires := now.Add(s.cfg.Lease)

	if s.lockedClaimSQL != "" {
		return s.dequeueLocked(ctx, channel, now, leaseExpires)
	}

	for attempt := 0; attempt < s.cfg.MaxClaimAttempts; attempt++ {
		cand, err := s.selectCandidate(ctx, channel, now)
		if err != nil {
			return nil, err
		}
		if cand == nil {
			return nil, nil
		}

		affected, err := s.sess.Exec(ctx, s.claimSQL, leaseExpires, cand.id, now)
		if err != nil {
			return nil, fmt.Errorf("chanq/table: claim: %w", err)
		}
		if affected == 0 {
			// Lost the race; another consumer claimed it first.
			continue
		}

		return s.hydrate(channel, cand, cand.attempts+1, leaseExpires)
	}

	return nil, nil
}

// dequeueLocked claims with one statement: the inner select holds its row
// lock (optionally skipping locked rows) until the surrounding UPDATE
// commits, so no competitor can lease the candidate in between.
func (s *Store) dequeueLocked(ctx context.Context, channel string, now, leaseExpires time.Time) (*event.Message, error) {
	var c candidate
	row := s.sess.QueryRow(ctx, s.lockedClaimSQL, leaseExpires, channel, now, now)
	err := row.Scan(&c.id, &c.payload, &c.metadata, &c.attempts, &c.availableAt, &c.createdAt)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("chanq/table: claim: %w", err)
	}
	// RETURNING already reflects the claim's increment.
	return s.hydrate(channel, &c, c.attempts, leaseExpires)
}

// Ack marks the event consumed and then opportunistically deletes acked
// rows past retention. Only a leased event can be acked; an event that is
// pending, already acked, or unknown affects zero rows and is not an
// error.
func (s *Store) Ack(ctx context.Context, eventID id.EventID) error {
	now := time.Now().UTC()

	if _, err := s.sess.Exec(ctx, s.ackSQL, now, eventID.String()); err != nil {
		return fmt.Errorf("chanq/table: ack: %w", err)
	}

	cutoff := now.Add(-s.cfg.Retention)
	deleted, err := s.sess.Exec(ctx, s.cleanupSQL, cutoff)
	if err != nil {
		return fmt.Errorf("chanq/table: retention cleanup: %w", err)
	}
	if deleted > 0 {
		s.logger.Debug("retention cleanup removed acked events",
			slog.Int64("deleted", deleted),
			slog.String("table", s.cfg.Table),
		)
	}
	return nil
}

// Nack returns a leased event to pending and clears its lease. Attempts
// are untouched. Nacking an event that is not leased (already acked,
// already pending, unknown) affects zero rows and is not an error.
func (s *Store) Nack(ctx context.Context, eventID id.EventID) error {
	if _, err := s.sess.Exec(ctx, s.nackSQL, eventID.String()); err != nil {
		return fmt.Errorf("chanq/table: nack: %w", err)
	}
	return nil
}

// candidate is the row read in step 1 of the claim algorithm.
type candidate struct {
	id          string
	payload     any
	metadata    any
	attempts    int
	availableAt time.Time
	createdAt   time.Time
}

func (s *Store) selectCandidate(ctx context.Context, channel string, now time.Time) (*candidate, error) {
	var c candidate
	row := s.sess.QueryRow(ctx, s.candidateSQL, channel, now, now)
	err := row.Scan(&c.id, &c.payload, &c.metadata, &c.attempts, &c.availableAt, &c.createdAt)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("chanq/table: select candidate: %w", err)
	}
	return &c, nil
}

// hydrate builds the consumer-facing message from the claimed candidate.
// The lease expiry is the one just written by the claim UPDATE; attempts
// is passed in because the two claim paths read it on opposite sides of
// the increment. No extra read happens after a successful claim.
func (s *Store) hydrate(channel string, c *candidate, attempts int, leaseExpires time.Time) (*event.Message, error) {
	eventID, err := id.ParseEventID(c.id)
	if err != nil {
		return nil, fmt.Errorf("chanq/table: parse event id %q: %w", c.id, err)
	}

	payload, err := decodeDoc(c.payload)
	if err != nil {
		return nil, fmt.Errorf("chanq/table: decode payload: %w", err)
	}
	metadata, err := decodeDoc(c.metadata)
	if err != nil {
		return nil, fmt.Errorf("chanq/table: decode metadata: %w", err)
	}

	return &event.Message{
		ID:             eventID,
		Channel:        channel,
		Payload:        payload,
		Metadata:       metadata,
		Attempts:       attempts,
		AvailableAt:    c.availableAt,
		LeaseExpiresAt: leaseExpires,
		CreatedAt:      c.createdAt,
	}, nil
}
