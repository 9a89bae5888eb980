// Package postgres provides the pgx/v5 store.Session and the native
// PostgreSQL backend.
//
// The Session is a thin pgxpool wrapper satisfying the store seam. The
// Backend embeds the table store's claim algorithm and layers LISTEN/
// NOTIFY on top: publishes fire pg_notify on a channel derived from the
// queue table name, and idle consumers block in WaitForEvent instead of
// sleeping out their poll interval. It registers itself under "postgres"
// at init, so a Channel opened with Backend: chanq.BackendNative over a
// pgx session picks it up automatically.
package postgres
