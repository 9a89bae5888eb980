// Package bunstore provides a store.Session over an uptrace/bun database
// handle. Bun is dialect-agnostic, so one session type covers PostgreSQL
// (pgdialect) and SQLite (sqlitedialect); the queue SQL is rendered for
// whichever dialect the *bun.DB was built with. The caller owns the
// *bun.DB lifecycle in the usual way, but Close is forwarded so a Channel
// shutdown releases the handle it was given.
package bunstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/xraph/chanq/store"
)

// Ensure Session implements the seam at compile time.
var _ store.Session = (*Session)(nil)

// Session is a bun-backed store.Session.
type Session struct {
	db *bun.DB
}

// NewSession wraps an existing *bun.DB.
func NewSession(db *bun.DB) *Session {
	return &Session{db: db}
}

// Exec runs a statement and returns the affected row count.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // supported drivers always return a count
	return rows, nil
}

// QueryRow runs a single-row query.
func (s *Session) QueryRow(ctx context.Context, query string, args ...any) store.Row {
	return sqlRow{row: s.db.QueryRowContext(ctx, query, args...)}
}

// Dialect maps bun's dialect onto the queue seam's. Every profile binds
// with '?' regardless of what the server speaks: bun formats queries
// client-side, substituting values for '?' placeholders and forwarding no
// args to the driver, so a server-native placeholder like $1 would reach
// the database unbound. Lock support still follows the real dialect.
func (s *Session) Dialect() store.Dialect {
	switch s.db.Dialect().Name() {
	case dialect.PG:
		return store.Dialect{
			Name:               "postgres",
			Placeholder:        questionPlaceholder,
			SupportsForUpdate:  true,
			SupportsSkipLocked: true,
		}
	case dialect.SQLite:
		return store.SQLite()
	default:
		// Unknown dialects get the conservative profile: no row locks,
		// claims protected by the conditional UPDATE alone.
		return store.Dialect{
			Name:        s.db.Dialect().Name().String(),
			Placeholder: questionPlaceholder,
		}
	}
}

func questionPlaceholder(int) string { return "?" }

// Raw returns the underlying *bun.DB.
func (s *Session) Raw() any { return s.db }

// Close closes the bun handle.
func (s *Session) Close() error { return s.db.Close() }

// sqlRow maps database/sql's no-rows sentinel onto the seam's.
type sqlRow struct {
	row *sql.Row
}

func (r sqlRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNoRows
	}
	return err
}
