package offline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justirc/justirc-go/wire"
)

func newTestQueue(t *testing.T, dir string) *Queue {
	t.Helper()
	q, err := New(Config{Dir: dir, MaxPerUser: 5, TTL: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func envelope(i int) []byte {
	return []byte(fmt.Sprintf(`{"version":"1.0","type":"private_message","timestamp":1,"seq":%d}`, i))
}

func TestFIFO(t *testing.T) {
	q := newTestQueue(t, t.TempDir())
	for i := 0; i < 3; i++ {
		if !q.Enqueue("user_carol", "user_alice", "alice", wire.TypePrivateMessage, envelope(i)) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	if got := q.Pending("user_carol"); got != 3 {
		t.Fatalf("pending = %d", got)
	}

	msgs := q.DequeueAll("user_carol")
	if len(msgs) != 3 {
		t.Fatalf("dequeued %d messages", len(msgs))
	}
	for i, m := range msgs {
		if string(m.Envelope) != string(envelope(i)) {
			t.Fatalf("message %d out of order: %s", i, m.Envelope)
		}
		if m.SenderNickname != "alice" || m.MessageType != "private_message" {
			t.Fatalf("message %d metadata: %+v", i, m)
		}
	}
	if q.Pending("user_carol") != 0 {
		t.Fatal("queue not drained")
	}
	if again := q.DequeueAll("user_carol"); again != nil {
		t.Fatalf("second dequeue returned %d messages", len(again))
	}
}

func TestCapacityDropsOldest(t *testing.T) {
	q := newTestQueue(t, t.TempDir()) // cap 5
	for i := 0; i < 8; i++ {
		q.Enqueue("user_t", "user_s", "s", wire.TypePrivateMessage, envelope(i))
	}
	msgs := q.DequeueAll("user_t")
	if len(msgs) != 5 {
		t.Fatalf("dequeued %d, want 5", len(msgs))
	}
	// Delivered messages form a suffix of the input stream.
	for i, m := range msgs {
		if want := envelope(i + 3); string(m.Envelope) != string(want) {
			t.Fatalf("message %d = %s, want %s", i, m.Envelope, want)
		}
	}
	st := q.Stats()
	if st.TotalDropped != 3 {
		t.Fatalf("dropped = %d", st.TotalDropped)
	}
	if st.TotalQueued != 8 || st.TotalDelivered != 5 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestTTLExpiry(t *testing.T) {
	q := newTestQueue(t, t.TempDir())
	base := time.Unix(1700000000, 0)
	now := base
	q.now = func() time.Time { return now }

	q.Enqueue("user_t", "user_s", "s", wire.TypePrivateMessage, envelope(0))
	now = base.Add(30 * time.Minute)
	q.Enqueue("user_t", "user_s", "s", wire.TypePrivateMessage, envelope(1))

	// Only the first message is past its one-hour TTL.
	now = base.Add(90 * time.Minute)
	msgs := q.DequeueAll("user_t")
	if len(msgs) != 1 || string(msgs[0].Envelope) != string(envelope(1)) {
		t.Fatalf("msgs = %v", msgs)
	}
	if st := q.Stats(); st.TotalExpired != 1 {
		t.Fatalf("expired = %d", st.TotalExpired)
	}
}

func TestCleanupExpired(t *testing.T) {
	q := newTestQueue(t, t.TempDir())
	base := time.Unix(1700000000, 0)
	now := base
	q.now = func() time.Time { return now }

	q.Enqueue("user_a", "user_s", "s", wire.TypePrivateMessage, envelope(0))
	q.Enqueue("user_b", "user_s", "s", wire.TypePrivateMessage, envelope(1))
	now = base.Add(30 * time.Minute)
	q.Enqueue("user_b", "user_s", "s", wire.TypePrivateMessage, envelope(2))

	now = base.Add(70 * time.Minute)
	if removed := q.CleanupExpired(); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if q.ActiveQueues() != 1 || q.Pending("user_b") != 1 {
		t.Fatalf("queues = %d pending_b = %d", q.ActiveQueues(), q.Pending("user_b"))
	}
}

func TestFlushAndReload(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, dir)
	q.Enqueue("user_carol", "user_alice", "alice", wire.TypePrivateMessage, envelope(0))
	q.Enqueue("user_carol", "user_alice", "alice", wire.TypePrivateMessage, envelope(1))
	q.Enqueue("user_dave", "user_alice", "alice", wire.TypeChannelMessage, envelope(2))
	if err := q.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "user_carol.json")); err != nil {
		t.Fatalf("queue file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, statsFile)); err != nil {
		t.Fatalf("stats file missing: %v", err)
	}

	q2 := newTestQueue(t, dir)
	if q2.Pending("user_carol") != 2 || q2.Pending("user_dave") != 1 {
		t.Fatalf("reloaded pending: carol=%d dave=%d", q2.Pending("user_carol"), q2.Pending("user_dave"))
	}
	msgs := q2.DequeueAll("user_carol")
	if len(msgs) != 2 || string(msgs[0].Envelope) != string(envelope(0)) {
		t.Fatalf("reloaded order broken: %v", msgs)
	}
	if st := q2.Stats(); st.TotalQueued != 3 {
		t.Fatalf("reloaded stats = %+v", st)
	}

	// Draining a queue removes its file on the next flush.
	if err := q2.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "user_carol.json")); !os.IsNotExist(err) {
		t.Fatalf("drained queue file still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "user_dave.json")); err != nil {
		t.Fatalf("undrained queue file lost: %v", err)
	}
}

func TestLoadDiscardsExpired(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, dir)
	q.Enqueue("user_t", "user_s", "s", wire.TypePrivateMessage, envelope(0))
	q.Enqueue("user_t", "user_s", "s", wire.TypePrivateMessage, envelope(1))
	if err := q.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Age the first stored message past its TTL by rewriting its timestamp.
	path := filepath.Join(dir, "user_t.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msgs []*Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	msgs[0].Timestamp = float64(time.Now().Add(-2 * time.Hour).Unix())
	aged, _ := json.Marshal(msgs)
	if err := os.WriteFile(path, aged, 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	q2 := newTestQueue(t, dir)
	if got := q2.Pending("user_t"); got != 1 {
		t.Fatalf("pending = %d, want the unexpired message only", got)
	}

	// A file whose every message has expired is removed at load time.
	msgs[1].Timestamp = msgs[0].Timestamp
	aged, _ = json.Marshal(msgs)
	if err := os.WriteFile(path, aged, 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if _, err := New(Config{Dir: dir, MaxPerUser: 5, TTL: time.Hour}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("all-expired queue file not removed on load")
	}
}

func TestEnvelopePreservedVerbatim(t *testing.T) {
	q := newTestQueue(t, t.TempDir())
	raw := []byte(`{"version":"1.0","type":"private_message","timestamp":2.5,"from_id":"user_a","to_id":"user_b","encrypted_data":"YWJj","nonce":"bm9uY2U="}`)
	q.Enqueue("user_b", "user_a", "a", wire.TypePrivateMessage, raw)
	msgs := q.DequeueAll("user_b")
	if len(msgs) != 1 {
		t.Fatalf("dequeued %d", len(msgs))
	}
	if string(msgs[0].Envelope) != string(raw) {
		t.Fatalf("envelope transformed:\n got %s\nwant %s", msgs[0].Envelope, raw)
	}
}
