package redis

// Redis key naming conventions for queue data.
// All keys are prefixed with "chanq:" to avoid collisions.

const keyPrefix = "chanq:"

// eventKey returns the Hash key for an event entity: chanq:event:{id}
func eventKey(id string) string { return keyPrefix + "event:" + id }

// pendingKey returns the Sorted Set of claimable event IDs for a channel,
// scored by availability time: chanq:chan:{name}:pending
func pendingKey(channel string) string { return keyPrefix + "chan:" + channel + ":pending" }

// leasedKey returns the Sorted Set of leased event IDs for a channel,
// scored by lease expiry: chanq:chan:{name}:leased
func leasedKey(channel string) string { return keyPrefix + "chan:" + channel + ":leased" }

// ackedKey returns the Sorted Set of acknowledged event IDs for a channel,
// scored by ack time, consumed by retention cleanup: chanq:chan:{name}:acked
func ackedKey(channel string) string { return keyPrefix + "chan:" + channel + ":acked" }
