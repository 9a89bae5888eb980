package table

import (
	"strings"

	"github.com/xraph/chanq/store"
)

// Queries are written with '?' placeholders and rendered once per store
// against the session dialect. Status literals are compile-time constants,
// never user data; everything user-supplied is bound.

func insertQuery(table string) string {
	return `
		INSERT INTO ` + table + ` (
			event_id, channel, payload_json, metadata_json, status,
			available_at, lease_expires_at, attempts, created_at, acknowledged_at
		) VALUES (?, ?, ?, ?, 'pending', ?, NULL, 0, ?, NULL)`
}

func candidateQuery(table string) string {
	return `
		SELECT event_id, payload_json, metadata_json, attempts, available_at, created_at
		FROM ` + table + `
		WHERE channel = ?
		  AND available_at <= ?
		  AND (status = 'pending'
		       OR (status = 'leased'
		           AND (lease_expires_at IS NULL OR lease_expires_at <= ?)))
		ORDER BY created_at ASC
		LIMIT 1`
}

// lockedClaimQuery is the pessimistic single-statement claim: the row lock
// taken by the inner select is held by the UPDATE's own transaction, so it
// actually spans the claim. RETURNING hands back the claimed row with
// attempts already incremented.
func lockedClaimQuery(table, lock string) string {
	return `
		UPDATE ` + table + `
		SET status = 'leased', lease_expires_at = ?, attempts = attempts + 1
		WHERE event_id = (
			SELECT event_id
			FROM ` + table + `
			WHERE channel = ?
			  AND available_at <= ?
			  AND (status = 'pending'
			       OR (status = 'leased'
			           AND (lease_expires_at IS NULL OR lease_expires_at <= ?)))
			ORDER BY created_at ASC
			LIMIT 1` + lock + `
		)
		RETURNING event_id, payload_json, metadata_json, attempts, available_at, created_at`
}

func claimQuery(table string) string {
	return `
		UPDATE ` + table + `
		SET status = 'leased', lease_expires_at = ?, attempts = attempts + 1
		WHERE event_id = ?
		  AND (status = 'pending'
		       OR (status = 'leased'
		           AND (lease_expires_at IS NULL OR lease_expires_at <= ?)))`
}

func ackQuery(table string) string {
	return `
		UPDATE ` + table + `
		SET status = 'acked', acknowledged_at = ?, lease_expires_at = NULL
		WHERE event_id = ? AND status = 'leased'`
}

func cleanupQuery(table string) string {
	return `
		DELETE FROM ` + table + `
		WHERE status = 'acked' AND acknowledged_at <= ?`
}

func nackQuery(table string) string {
	return `
		UPDATE ` + table + `
		SET status = 'pending', lease_expires_at = NULL
		WHERE event_id = ? AND status = 'leased'`
}

// lockClause returns the row-lock suffix for the candidate select, or an
// empty string when the configuration or dialect rules it out.
func lockClause(cfg Config, d store.Dialect) string {
	if !cfg.SelectForUpdate || !d.SupportsForUpdate {
		return ""
	}
	if cfg.SkipLocked && d.SupportsSkipLocked {
		return " FOR UPDATE SKIP LOCKED"
	}
	return " FOR UPDATE"
}

// render replaces each '?' with the dialect's positional placeholder.
func render(query string, d store.Dialect) string {
	var b strings.Builder
	b.Grow(len(query) + 16)

	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
