// Package redis provides a native, non-relational queue backend on Redis.
// It honors the same at-least-once claim/lease/ack/nack contract as the
// table store: claims are atomic (one Lua script per claim cycle), leases
// expire by score on the leased Sorted Set, and acked events are deleted
// after retention. Use it with chanq.OpenBackend; it is not part of the
// dialect registry since there is no relational session to resolve from.
package redis
