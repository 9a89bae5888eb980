package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/chanq/event"
	"github.com/xraph/chanq/id"
)

// Ensure Backend implements the contract at compile time.
var _ event.Backend = (*Backend)(nil)

// Config controls lease and retention behaviour of the redis backend.
type Config struct {
	Lease     time.Duration
	Retention time.Duration
}

// Backend is a native, non-relational queue backend on Redis. Events live
// in Hashes; per-channel Sorted Sets index them by availability (pending),
// lease expiry (leased), and ack time (acked). The claim cycle — reclaim
// expired leases, pop the oldest available event, lease it — runs as one
// Lua script, which gives the same single-claimer guarantee the table
// store gets from its conditional UPDATE.
type Backend struct {
	client goredis.UniversalClient
	logger *slog.Logger

	lease     time.Duration
	retention time.Duration
}

// Option configures the Backend.
type Option func(*Backend)

// WithLogger sets the logger for the backend.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New creates a redis backend over an existing client.
func New(client goredis.UniversalClient, cfg Config, opts ...Option) *Backend {
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	b := &Backend{
		client:    client,
		logger:    slog.Default(),
		lease:     cfg.Lease,
		retention: cfg.Retention,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the backend label used in diagnostics.
func (b *Backend) Name() string { return "redis" }

// Capabilities reports support for both consumption styles.
func (b *Backend) Capabilities() event.Capabilities {
	return event.Capabilities{Blocking: true, Async: true}
}

// Close is a no-op: the caller owns the client lifecycle. Matching the
// session convention would close a shared client out from under other
// users.
func (b *Backend) Close() error { return nil }

// Publish stores the event Hash and indexes it as pending, in one
// transaction.
func (b *Backend) Publish(ctx context.Context, channel string, payload, metadata map[string]any) (id.EventID, error) {
	eventID := id.NewEventID()
	now := time.Now().UTC()

	payloadJSON, err := encodeDoc(payload)
	if err != nil {
		return id.Nil, fmt.Errorf("chanq/redis: encode payload: %w", err)
	}
	metadataJSON, err := encodeDoc(metadata)
	if err != nil {
		return id.Nil, fmt.Errorf("chanq/redis: encode metadata: %w", err)
	}

	eID := eventID.String()
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, eventKey(eID),
		"id", eID,
		"channel", channel,
		"payload", payloadJSON,
		"metadata", metadataJSON,
		"status", string(event.StatusPending),
		"attempts", "0",
		"available_at", strconv.FormatInt(now.UnixMilli(), 10),
		"created_at", strconv.FormatInt(now.UnixMilli(), 10),
	)
	pipe.ZAdd(ctx, pendingKey(channel), goredis.Z{
		Score:  float64(now.UnixMilli()),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return id.Nil, fmt.Errorf("chanq/redis: publish: %w", err)
	}
	return eventID, nil
}

// claimScript reclaims expired leases, then atomically claims the oldest
// available event. KEYS: pending, leased. ARGV: now_ms, lease_expires_ms,
// event key prefix. Returns the claimed event ID or false.
var claimScript = goredis.NewScript(`
	local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
	for _, eid in ipairs(expired) do
		redis.call('ZREM', KEYS[2], eid)
		local avail = redis.call('HGET', ARGV[3] .. eid, 'available_at')
		if avail then
			redis.call('ZADD', KEYS[1], tonumber(avail), eid)
			redis.call('HSET', ARGV[3] .. eid, 'status', 'pending')
			redis.call('HDEL', ARGV[3] .. eid, 'lease_expires_at')
		end
	end

	local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
	if #ids == 0 then
		return false
	end
	local eid = ids[1]
	redis.call('ZREM', KEYS[1], eid)
	redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), eid)
	redis.call('HSET', ARGV[3] .. eid, 'status', 'leased', 'lease_expires_at', ARGV[2])
	redis.call('HINCRBY', ARGV[3] .. eid, 'attempts', 1)
	return eid
`)

// Dequeue claims the oldest available event on the channel.
func (b *Backend) Dequeue(ctx context.Context, channel string) (*event.Message, error) {
	now := time.Now().UTC()
	leaseExpires := now.Add(b.lease)

	res, err := claimScript.Run(ctx, b.client,
		[]string{pendingKey(channel), leasedKey(channel)},
		now.UnixMilli(), leaseExpires.UnixMilli(), keyPrefix+"event:",
	).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("chanq/redis: claim: %w", err)
	}

	eID, ok := res.(string)
	if !ok || eID == "" {
		return nil, nil
	}
	return b.hydrate(ctx, channel, eID)
}

// Ack marks the event consumed and runs retention cleanup for the channel.
// Only a leased event can be acked; anything else is a no-op.
func (b *Backend) Ack(ctx context.Context, eventID id.EventID) error {
	eID := eventID.String()
	now := time.Now().UTC()

	fields, err := b.client.HMGet(ctx, eventKey(eID), "channel", "status").Result()
	if err != nil {
		return fmt.Errorf("chanq/redis: ack lookup: %w", err)
	}
	channel, _ := fields[0].(string)
	status, _ := fields[1].(string)
	if channel == "" || status != string(event.StatusLeased) {
		return nil // unknown, pending, or already acked: no-op
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, eventKey(eID),
		"status", string(event.StatusAcked),
		"acknowledged_at", strconv.FormatInt(now.UnixMilli(), 10),
	)
	pipe.HDel(ctx, eventKey(eID), "lease_expires_at")
	pipe.ZRem(ctx, pendingKey(channel), eID)
	pipe.ZRem(ctx, leasedKey(channel), eID)
	pipe.ZAdd(ctx, ackedKey(channel), goredis.Z{Score: float64(now.UnixMilli()), Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("chanq/redis: ack: %w", err)
	}

	return b.cleanup(ctx, channel, now)
}

// Nack returns a leased event to pending without touching attempts.
func (b *Backend) Nack(ctx context.Context, eventID id.EventID) error {
	eID := eventID.String()

	fields, err := b.client.HMGet(ctx, eventKey(eID), "channel", "status", "available_at").Result()
	if err != nil {
		return fmt.Errorf("chanq/redis: nack lookup: %w", err)
	}
	channel, _ := fields[0].(string)
	status, _ := fields[1].(string)
	availRaw, _ := fields[2].(string)
	if channel == "" || status != string(event.StatusLeased) {
		return nil // only a leased event can be nacked
	}
	avail, _ := strconv.ParseInt(availRaw, 10, 64)

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, eventKey(eID), "status", string(event.StatusPending))
	pipe.HDel(ctx, eventKey(eID), "lease_expires_at")
	pipe.ZRem(ctx, leasedKey(channel), eID)
	pipe.ZAdd(ctx, pendingKey(channel), goredis.Z{Score: float64(avail), Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("chanq/redis: nack: %w", err)
	}
	return nil
}

// cleanup deletes acked events past retention for one channel.
func (b *Backend) cleanup(ctx context.Context, channel string, now time.Time) error {
	cutoff := strconv.FormatInt(now.Add(-b.retention).UnixMilli(), 10)

	expired, err := b.client.ZRangeByScore(ctx, ackedKey(channel), &goredis.ZRangeBy{
		Min: "-inf", Max: cutoff,
	}).Result()
	if err != nil {
		return fmt.Errorf("chanq/redis: retention scan: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	pipe := b.client.TxPipeline()
	for _, eID := range expired {
		pipe.Del(ctx, eventKey(eID))
	}
	pipe.ZRemRangeByScore(ctx, ackedKey(channel), "-inf", cutoff)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("chanq/redis: retention cleanup: %w", err)
	}

	b.logger.Debug("retention cleanup removed acked events",
		slog.Int("deleted", len(expired)),
		slog.String("channel", channel),
	)
	return nil
}

// hydrate reads the claimed event Hash into a Message.
func (b *Backend) hydrate(ctx context.Context, channel, eID string) (*event.Message, error) {
	fields, err := b.client.HGetAll(ctx, eventKey(eID)).Result()
	if err != nil {
		return nil, fmt.Errorf("chanq/redis: hydrate: %w", err)
	}

	eventID, err := id.ParseEventID(eID)
	if err != nil {
		return nil, fmt.Errorf("chanq/redis: parse event id %q: %w", eID, err)
	}

	payload, err := decodeDoc(fields["payload"])
	if err != nil {
		return nil, fmt.Errorf("chanq/redis: decode payload: %w", err)
	}
	metadata, err := decodeDoc(fields["metadata"])
	if err != nil {
		return nil, fmt.Errorf("chanq/redis: decode metadata: %w", err)
	}

	attempts, _ := strconv.Atoi(fields["attempts"])

	return &event.Message{
		ID:             eventID,
		Channel:        channel,
		Payload:        payload,
		Metadata:       metadata,
		Attempts:       attempts,
		AvailableAt:    msTime(fields["available_at"]),
		LeaseExpiresAt: msTime(fields["lease_expires_at"]),
		CreatedAt:      msTime(fields["created_at"]),
	}, nil
}

func encodeDoc(doc map[string]any) (string, error) {
	if doc == nil {
		return "", nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeDoc(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
