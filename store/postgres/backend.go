package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/chanq"
	"github.com/xraph/chanq/event"
	"github.com/xraph/chanq/id"
	"github.com/xraph/chanq/store"
	"github.com/xraph/chanq/store/table"
)

// The native backend registers under the dialect name so that
// chanq.BackendNative (or an explicit "postgres" preference) resolves it.
func init() {
	chanq.RegisterBackend("postgres", func(sess store.Session, cfg chanq.Config, logger *slog.Logger) (event.Backend, error) {
		pool, ok := sess.Raw().(*pgxpool.Pool)
		if !ok {
			return nil, fmt.Errorf("chanq/postgres: session is not pgx-backed (%T)", sess.Raw())
		}
		return NewBackend(sess, pool, table.Config{
			Table:            cfg.Table,
			Lease:            cfg.Lease,
			Retention:        cfg.Retention,
			SelectForUpdate:  cfg.SelectForUpdate,
			SkipLocked:       cfg.SkipLocked,
			JSONPassthrough:  cfg.JSONPassthrough,
			MaxClaimAttempts: cfg.MaxClaimAttempts,
		}, WithLogger(logger))
	})
}

// Ensure the backend satisfies both contracts at compile time.
var (
	_ event.Backend  = (*Backend)(nil)
	_ event.Notifier = (*Backend)(nil)
)

// Backend is the native PostgreSQL backend: the table store's claim
// algorithm with LISTEN/NOTIFY layered on top, so idle consumers wake on
// publish instead of waiting out their full poll interval. The at-least-
// once claim/ack/nack contract is exactly the table store's — a
// notification is only a wake-up hint.
type Backend struct {
	*table.Store

	pool       *pgxpool.Pool
	notifyChan string
	logger     *slog.Logger
}

// Option configures the Backend.
type Option func(*Backend)

// WithLogger sets the logger for the backend.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// NewBackend builds the native backend over an existing session and its
// pgx pool. The session must be pgx-backed; both wrap the same pool so
// claims and notifications share connection resources.
func NewBackend(sess store.Session, pool *pgxpool.Pool, cfg table.Config, opts ...Option) (*Backend, error) {
	b := &Backend{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	ts, err := table.New(sess, cfg, table.WithLogger(b.logger))
	if err != nil {
		return nil, err
	}
	b.Store = ts
	// The table identifier was validated by table.New, so embedding it in
	// the LISTEN channel name is safe.
	tableName := cfg.Table
	if tableName == "" {
		tableName = table.DefaultConfig().Table
	}
	b.notifyChan = "chanq_" + tableName

	return b, nil
}

// Name returns the backend label used in diagnostics.
func (b *Backend) Name() string { return "postgres" }

// Publish inserts the event through the table store and then notifies
// idle waiters. A failed notify is logged, not fatal: the event is
// persisted and pollers will still find it.
func (b *Backend) Publish(ctx context.Context, channel string, payload, metadata map[string]any) (id.EventID, error) {
	eventID, err := b.Store.Publish(ctx, channel, payload, metadata)
	if err != nil {
		return id.Nil, err
	}

	if _, notifyErr := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, b.notifyChan, channel); notifyErr != nil {
		b.logger.Warn("failed to notify event waiters",
			slog.String("channel", channel),
			slog.String("error", notifyErr.Error()),
		)
	}

	return eventID, nil
}

// WaitForEvent blocks until a publish notification for the channel
// arrives, the timeout elapses, or ctx is done. Returning nil means "worth
// trying a claim", nothing more.
func (b *Backend) WaitForEvent(ctx context.Context, channel string, timeout time.Duration) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("chanq/postgres: acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+b.notifyChan); err != nil {
		return fmt.Errorf("chanq/postgres: listen: %w", err)
	}
	// The connection goes back to the pool; it must stop listening first
	// or stale notifications leak into unrelated queries.
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN "+b.notifyChan)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		n, err := conn.Conn().WaitForNotification(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil // timeout is a normal wake-up
			}
			return err
		}
		if n.Payload == channel {
			return nil
		}
		// Notification for another channel on the same table; keep waiting.
	}
}
