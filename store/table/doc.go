// Package table implements the fallback, table-backed queue over the
// store.Session seam. It owns the publish/claim/ack/nack/cleanup SQL and
// the atomic claim algorithm:
//
//  1. Select one candidate — pending, or leased with an expired lease —
//     ordered by creation time.
//  2. Attempt a conditional UPDATE that leases the candidate, guarded by
//     the same timestamps read in step 1.
//  3. A zero-row update is a lost race, not an error: retry, bounded by
//     MaxClaimAttempts, then report no event.
//
// When the configuration and dialect allow SelectForUpdate, the claim is
// instead a single UPDATE whose inner select takes the row lock under
// FOR UPDATE [SKIP LOCKED] and holds it until the statement commits; the
// claimed row comes back via RETURNING and no retry loop is needed.
//
// The schema it expects (DDL is owned by the application / migrations):
//
//	event_id        TEXT PRIMARY KEY
//	channel         TEXT NOT NULL
//	payload_json    JSONB / TEXT
//	metadata_json   JSONB / TEXT
//	status          TEXT NOT NULL          -- pending | leased | acked
//	available_at    TIMESTAMPTZ NOT NULL
//	lease_expires_at TIMESTAMPTZ
//	attempts        INTEGER NOT NULL DEFAULT 0
//	created_at      TIMESTAMPTZ NOT NULL
//	acknowledged_at TIMESTAMPTZ
//
// plus an index on (channel, status, available_at) to keep the candidate
// scan cheap.
package table
