// Package store defines the SQL execution seam the table-backed queue is
// built on. The queue core needs exactly three things from a database
// session: execute a statement and learn the affected row count, select at
// most one row, and know enough about the dialect to render placeholders
// and row locks. Connection, transaction, and pool management stay with
// the session implementation (store/postgres, store/bun).
package store

import (
	"context"
	"errors"
	"strconv"
)

// ErrNoRows is returned by Row.Scan when the query matched nothing.
// Session implementations map their driver's no-rows sentinel to this one.
var ErrNoRows = errors.New("chanq/store: no rows in result set")

// Row is a single-row result. Scan copies column values into dest in
// query order, returning ErrNoRows when the query matched nothing.
type Row interface {
	Scan(dest ...any) error
}

// Session executes parameterized SQL against one database. Implementations
// are safe for concurrent use (they wrap a pool). Queries are written with
// '?' placeholders and rebound per dialect before execution.
type Session interface {
	// Exec runs a statement and returns the number of rows affected.
	Exec(ctx context.Context, query string, args ...any) (int64, error)

	// QueryRow runs a query expected to return at most one row.
	QueryRow(ctx context.Context, query string, args ...any) Row

	// Dialect describes the SQL dialect this session speaks.
	Dialect() Dialect

	// Raw exposes the underlying driver handle (*pgxpool.Pool, *bun.DB, …)
	// for native backends layered on the same connection resources.
	Raw() any

	// Close releases the session's connection resources.
	Close() error
}

// Dialect captures the per-database knobs the queue SQL depends on.
type Dialect struct {
	// Name identifies the dialect ("postgres", "sqlite", …) and keys the
	// native backend registry.
	Name string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string

	// SupportsForUpdate reports whether SELECT … FOR UPDATE is available.
	SupportsForUpdate bool

	// SupportsSkipLocked reports whether FOR UPDATE SKIP LOCKED is available.
	SupportsSkipLocked bool
}

// Postgres is the dialect for PostgreSQL ($n placeholders, full row
// locking support).
func Postgres() Dialect {
	return Dialect{
		Name:               "postgres",
		Placeholder:        dollarPlaceholder,
		SupportsForUpdate:  true,
		SupportsSkipLocked: true,
	}
}

// SQLite is the dialect for SQLite ('?' placeholders, no row locks —
// claims rely on the conditional UPDATE alone).
func SQLite() Dialect {
	return Dialect{
		Name:        "sqlite",
		Placeholder: questionPlaceholder,
	}
}

func dollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

func questionPlaceholder(int) string { return "?" }
