// Package event defines the durable queue entities — Event rows, the
// read-only Message projection handed to consumers — and the Backend
// interface every queue implementation satisfies.
//
// Backends live under store/: the table-backed fallback (store/table)
// works against any relational session, store/postgres adds LISTEN/NOTIFY
// wake-ups, store/redis is a non-relational alternative, and store/memory
// backs tests. All of them honor the same at-least-once claim/ack/nack
// contract.
package event
