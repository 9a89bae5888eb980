package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/xraph/chanq/store"
)

// ──────────────────────────────────────────────────
// Scripted session fake
// ──────────────────────────────────────────────────

type execCall struct {
	query string
	args  []any
}

type stubRow struct {
	vals []any
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.vals[i].(string)
		case *int:
			*p = r.vals[i].(int)
		case *time.Time:
			*p = r.vals[i].(time.Time)
		case *any:
			*p = r.vals[i]
		default:
			return fmt.Errorf("stubRow: unsupported dest %T", d)
		}
	}
	return nil
}

// fakeSession records every statement and plays back scripted results.
type fakeSession struct {
	dialect store.Dialect

	execs       []execCall
	execResults []int64 // consumed in order; missing entries default to 1

	queries []execCall
	rows    []stubRow // consumed in order; missing entries mean no rows
}

func newFakeSession() *fakeSession {
	return &fakeSession{dialect: store.Postgres()}
}

func (f *fakeSession) Exec(_ context.Context, query string, args ...any) (int64, error) {
	f.execs = append(f.execs, execCall{query: query, args: args})
	if len(f.execResults) == 0 {
		return 1, nil
	}
	res := f.execResults[0]
	f.execResults = f.execResults[1:]
	return res, nil
}

func (f *fakeSession) QueryRow(_ context.Context, query string, args ...any) store.Row {
	f.queries = append(f.queries, execCall{query: query, args: args})
	if len(f.rows) == 0 {
		return stubRow{err: store.ErrNoRows}
	}
	row := f.rows[0]
	f.rows = f.rows[1:]
	return row
}

func (f *fakeSession) Dialect() store.Dialect { return f.dialect }
func (f *fakeSession) Raw() any               { return nil }
func (f *fakeSession) Close() error           { return nil }

func candidateRow(eventID string, attempts int, created time.Time) stubRow {
	return stubRow{vals: []any{
		eventID,
		`{"order_id":1}`,
		nil,
		attempts,
		created,
		created,
	}}
}

func mustStore(t *testing.T, sess store.Session, cfg Config) *Store {
	t.Helper()
	s, err := New(sess, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNewRejectsBadTableName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"1table", "bad-name", "t;drop", "sp ace"} {
		if _, err := New(newFakeSession(), Config{Table: name}); !errors.Is(err, ErrInvalidTable) {
			t.Errorf("table name %q: got %v, want ErrInvalidTable", name, err)
		}
	}
}

func TestNewRendersDialectPlaceholders(t *testing.T) {
	t.Parallel()
	s := mustStore(t, newFakeSession(), Config{})

	if !strings.Contains(s.claimSQL, "$1") || strings.Contains(s.claimSQL, "?") {
		t.Errorf("postgres claim SQL not rendered: %s", s.claimSQL)
	}

	sqlite := &fakeSession{dialect: store.SQLite()}
	s2 := mustStore(t, sqlite, Config{})
	if strings.Contains(s2.claimSQL, "$") {
		t.Errorf("sqlite claim SQL should use '?': %s", s2.claimSQL)
	}
}

func TestLockClause(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		dialect store.Dialect
		want    string
	}{
		{"disabled", Config{}, store.Postgres(), ""},
		{"for update", Config{SelectForUpdate: true}, store.Postgres(), " FOR UPDATE"},
		{"skip locked", Config{SelectForUpdate: true, SkipLocked: true}, store.Postgres(), " FOR UPDATE SKIP LOCKED"},
		{"skip locked without for update", Config{SkipLocked: true}, store.Postgres(), ""},
		{"unsupported dialect", Config{SelectForUpdate: true, SkipLocked: true}, store.SQLite(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lockClause(tt.cfg, tt.dialect); got != tt.want {
				t.Errorf("lockClause = %q, want %q", got, tt.want)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Publish
// ──────────────────────────────────────────────────

func TestPublishSerializesDocuments(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	s := mustStore(t, sess, Config{})

	eventID, err := s.Publish(context.Background(), "orders", map[string]any{"order_id": 1}, nil)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if eventID.IsNil() {
		t.Fatal("expected non-nil event ID")
	}

	if len(sess.execs) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(sess.execs))
	}
	call := sess.execs[0]
	if !strings.Contains(call.query, "INSERT INTO sqlspec_event_queue") {
		t.Errorf("unexpected insert SQL: %s", call.query)
	}

	payload, ok := call.args[2].(string)
	if !ok {
		t.Fatalf("expected serialized payload string, got %T", call.args[2])
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if call.args[3] != nil {
		t.Errorf("nil metadata should bind NULL, got %v", call.args[3])
	}
}

func TestPublishPassthroughBindsNative(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	s := mustStore(t, sess, Config{JSONPassthrough: true})

	if _, err := s.Publish(context.Background(), "orders", map[string]any{"order_id": 1}, nil); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if _, ok := sess.execs[0].args[2].(map[string]any); !ok {
		t.Fatalf("expected native map payload, got %T", sess.execs[0].args[2])
	}
}

// ──────────────────────────────────────────────────
// Dequeue / claim algorithm
// ──────────────────────────────────────────────────

func TestDequeueEmpty(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	s := mustStore(t, sess, Config{})

	msg, err := s.Dequeue(context.Background(), "orders")
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected no event, got %v", msg.ID)
	}
	if len(sess.execs) != 0 {
		t.Errorf("no claim should be attempted on an empty channel, got %d execs", len(sess.execs))
	}
}

func TestDequeueClaimsAndHydrates(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	s := mustStore(t, sess, Config{Lease: time.Minute})

	created := time.Now().UTC().Add(-time.Second)
	sess.rows = []stubRow{candidateRow("evt_01h455vb4pex5vsknk084sn02q", 2, created)}

	before := time.Now().UTC()
	msg, err := s.Dequeue(context.Background(), "orders")
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if msg == nil {
		t.Fatal("expected an event")
	}

	if msg.Attempts != 3 {
		t.Errorf("expected attempts 3 (candidate 2 + claim), got %d", msg.Attempts)
	}
	if msg.Payload["order_id"] != float64(1) {
		t.Errorf("payload not hydrated: %v", msg.Payload)
	}
	if msg.Metadata != nil {
		t.Errorf("expected nil metadata, got %v", msg.Metadata)
	}
	if msg.LeaseExpiresAt.Before(before.Add(time.Minute - time.Second)) {
		t.Errorf("lease expiry not derived from claim: %v", msg.LeaseExpiresAt)
	}

	if len(sess.execs) != 1 {
		t.Fatalf("expected exactly 1 claim update, got %d", len(sess.execs))
	}
	claim := sess.execs[0]
	if !strings.Contains(claim.query, "attempts = attempts + 1") {
		t.Errorf("claim must increment attempts: %s", claim.query)
	}
	if claim.args[1] != "evt_01h455vb4pex5vsknk084sn02q" {
		t.Errorf("claim must target the candidate row, got %v", claim.args[1])
	}
}

func TestDequeueCutoffReuse(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	s := mustStore(t, sess, Config{})

	sess.rows = []stubRow{candidateRow("evt_01h455vb4pex5vsknk084sn02q", 0, time.Now().UTC())}

	if _, err := s.Dequeue(context.Background(), "orders"); err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}

	// The staleness cutoff in the claim guard must be the same instant the
	// candidate select used, not a fresh read.
	selectCutoff := sess.queries[0].args[1].(time.Time)
	claimCutoff := sess.execs[0].args[2].(time.Time)
	if !selectCutoff.Equal(claimCutoff) {
		t.Errorf("claim cutoff %v differs from select cutoff %v", claimCutoff, selectCutoff)
	}
}

func TestDequeueRetriesLostRace(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	s := mustStore(t, sess, Config{})

	created := time.Now().UTC()
	sess.rows = []stubRow{
		candidateRow("evt_01h455vb4pex5vsknk084sn02q", 0, created),
		candidateRow("evt_01h455vb4pex5vsknk084sn02q", 0, created),
	}
	sess.execResults = []int64{0, 1} // first claim lost, second wins

	msg, err := s.Dequeue(context.Background(), "orders")
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if msg == nil {
		t.Fatal("expected the retried claim to succeed")
	}
	if len(sess.queries) != 2 || len(sess.execs) != 2 {
		t.Errorf("expected 2 selects and 2 claims, got %d/%d", len(sess.queries), len(sess.execs))
	}
}

func TestDequeueGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	s := mustStore(t, sess, Config{MaxClaimAttempts: 3})

	created := time.Now().UTC()
	sess.rows = []stubRow{
		candidateRow("evt_01h455vb4pex5vsknk084sn02q", 0, created),
		candidateRow("evt_01h455vb4pex5vsknk084sn02q", 0, created),
		candidateRow("evt_01h455vb4pex5vsknk084sn02q", 0, created),
	}
	sess.execResults = []int64{0, 0, 0} // every claim lost

	msg, err := s.Dequeue(context.Background(), "orders")
	if err != nil {
		t.Fatalf("a lost race must not be an error, got: %v", err)
	}
	if msg != nil {
		t.Fatal("expected no event after exhausting claim attempts")
	}
	if len(sess.execs) != 3 {
		t.Errorf("expected exactly 3 claim attempts, got %d", len(sess.execs))
	}
}

func TestDequeueLockedClaimIsSingleStatement(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	s := mustStore(t, sess, Config{Lease: time.Minute, SelectForUpdate: true, SkipLocked: true})

	created := time.Now().UTC().Add(-time.Second)
	sess.rows = []stubRow{candidateRow("evt_01h455vb4pex5vsknk084sn02q", 3, created)}

	msg, err := s.Dequeue(context.Background(), "orders")
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if msg == nil {
		t.Fatal("expected an event")
	}

	// The whole claim must be one statement so the row lock taken by the
	// inner select is still held when the UPDATE fires.
	if len(sess.execs) != 0 {
		t.Fatalf("locked claim must not issue separate updates, got %d execs", len(sess.execs))
	}
	if len(sess.queries) != 1 {
		t.Fatalf("expected exactly 1 claim statement, got %d", len(sess.queries))
	}
	q := sess.queries[0].query
	if !strings.Contains(q, "FOR UPDATE SKIP LOCKED") {
		t.Errorf("claim select must lock the row: %s", q)
	}
	if !strings.Contains(q, "RETURNING") || !strings.Contains(q, "attempts = attempts + 1") {
		t.Errorf("claim must update and return in one statement: %s", q)
	}

	// RETURNING reports the post-increment count; it must not be bumped again.
	if msg.Attempts != 3 {
		t.Errorf("expected attempts 3 straight from RETURNING, got %d", msg.Attempts)
	}
}

func TestDequeueLockedClaimEmpty(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	s := mustStore(t, sess, Config{SelectForUpdate: true})

	msg, err := s.Dequeue(context.Background(), "orders")
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected no event, got %v", msg.ID)
	}
}

// ──────────────────────────────────────────────────
// Ack / Nack
// ──────────────────────────────────────────────────

func TestAckRunsRetentionCleanup(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	s := mustStore(t, sess, Config{Retention: time.Hour})

	eventID, _ := s.Publish(context.Background(), "orders", map[string]any{"k": "v"}, nil)
	sess.execs = nil

	if err := s.Ack(context.Background(), eventID); err != nil {
		t.Fatalf("ack failed: %v", err)
	}

	if len(sess.execs) != 2 {
		t.Fatalf("expected ack + cleanup, got %d statements", len(sess.execs))
	}
	if !strings.Contains(sess.execs[0].query, "SET status = 'acked'") {
		t.Errorf("unexpected ack SQL: %s", sess.execs[0].query)
	}
	if !strings.Contains(sess.execs[0].query, "status = 'leased'") {
		t.Errorf("ack must be guarded on leased status: %s", sess.execs[0].query)
	}
	if !strings.HasPrefix(strings.TrimSpace(sess.execs[1].query), "DELETE FROM") {
		t.Errorf("expected cleanup delete, got: %s", sess.execs[1].query)
	}

	cutoff := sess.execs[1].args[0].(time.Time)
	ackedAt := sess.execs[0].args[0].(time.Time)
	if got := ackedAt.Sub(cutoff); got != time.Hour {
		t.Errorf("cleanup cutoff should trail the ack instant by retention, got %v", got)
	}
}

func TestAckIdempotentOnZeroRows(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	s := mustStore(t, sess, Config{})

	eventID, _ := s.Publish(context.Background(), "orders", map[string]any{"k": "v"}, nil)
	sess.execResults = []int64{0, 0} // already acked; nothing to clean

	if err := s.Ack(context.Background(), eventID); err != nil {
		t.Fatalf("re-ack must be a no-op, got: %v", err)
	}
}

func TestNackOnlyTouchesLeasedRows(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	s := mustStore(t, sess, Config{})

	eventID, _ := s.Publish(context.Background(), "orders", map[string]any{"k": "v"}, nil)
	sess.execs = nil

	if err := s.Nack(context.Background(), eventID); err != nil {
		t.Fatalf("nack failed: %v", err)
	}

	q := sess.execs[0].query
	if !strings.Contains(q, "status = 'leased'") {
		t.Errorf("nack must be guarded on leased status: %s", q)
	}
	if strings.Contains(q, "attempts") {
		t.Errorf("nack must not touch attempts: %s", q)
	}
}
