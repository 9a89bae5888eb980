// Package chanq provides a durable, at-least-once message queue layered on
// a relational store, exposed through a channel-based publish/subscribe
// API. There is no broker process: producers insert rows, consumers claim
// them with an atomic conditional update, and crashed consumers recover
// purely by lease expiry.
//
// chanq is designed as a library, not a service. Open a Channel over a
// database session, publish structured events to named channels, and
// consume them with background listeners or a pull iterator.
//
// # Quick Start
//
//	sess, err := postgres.NewSession(ctx, "postgres://localhost/app")
//	ch, err := chanq.Open(sess)
//
//	eventID, err := ch.Publish(ctx, "orders", map[string]any{"order_id": 1}, nil)
//
//	lsn, err := ch.Listen("orders", func(ctx context.Context, msg *event.Message) error {
//	    return process(msg.Payload)
//	})
//	defer ch.Shutdown(context.Background())
//
// # Delivery semantics
//
// Delivery is at-least-once; idempotency is the consumer's job. Within a
// single consumer and no lease contention, events arrive in publish order
// per channel. Across concurrent consumers there is no ordering guarantee:
// claim races are resolved by whichever conditional update commits first.
// There is no dead-letter cutoff — an unacked event is redelivered each
// time its lease expires, with its attempt counter growing.
//
// # Backends
//
// The table-backed store (store/table) works on any relational session and
// is always available. Native backends registered for a dialect — such as
// the LISTEN/NOTIFY-assisted Postgres backend (store/postgres) — are
// picked up at construction when configured; any resolution failure logs a
// warning and falls back to the table store.
package chanq
