// Package offline queues envelopes for recipients who are not connected.
// Each recipient has a bounded FIFO with drop-oldest overflow and a per
// message TTL; queues spill to one JSON file per recipient plus a counters
// file, flushed on a timer and at shutdown.
package offline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/justirc/justirc-go/internal/securefile"
	"github.com/justirc/justirc-go/wire"
)

// Queue defaults.
const (
	DefaultMaxPerUser = 1000
	DefaultTTL        = 7 * 24 * time.Hour
)

// statsFile sorts before any "user_" queue file and is skipped on load.
const statsFile = "_stats.json"

// Message is one queued envelope. Envelope holds the frame exactly as it
// would have been delivered live; the broker never transforms it.
type Message struct {
	MessageID      string          `json:"message_id"`
	RecipientID    string          `json:"recipient_id"`
	SenderID       string          `json:"sender_id"`
	SenderNickname string          `json:"sender_nickname"`
	MessageType    string          `json:"message_type"`
	Envelope       json.RawMessage `json:"encrypted_content"`
	Timestamp      float64         `json:"timestamp"`
	TTL            float64         `json:"ttl"`
}

// Expired reports whether the message's TTL has lapsed at unix time now.
func (m *Message) Expired(now float64) bool {
	return now > m.Timestamp+m.TTL
}

// Stats counts queue activity since the stats file was created.
type Stats struct {
	TotalQueued    uint64 `json:"total_queued"`
	TotalDelivered uint64 `json:"total_delivered"`
	TotalExpired   uint64 `json:"total_expired"`
	TotalDropped   uint64 `json:"total_dropped"`
}

// Config configures a Queue.
type Config struct {
	// Dir is the queue spill directory. Empty disables persistence.
	Dir string
	// MaxPerUser caps each recipient's queue; overflow drops the oldest.
	MaxPerUser int
	// TTL is the lifetime applied to newly enqueued messages.
	TTL time.Duration
	// LoggerFactory provides the component logger; nil uses the default.
	LoggerFactory logging.LoggerFactory
}

// DefaultConfig returns the standard queue configuration, less the
// directory, which has no sensible default.
func DefaultConfig() Config {
	return Config{MaxPerUser: DefaultMaxPerUser, TTL: DefaultTTL}
}

// Queue is the offline message store. All methods are safe for concurrent
// use.
type Queue struct {
	mu     sync.Mutex
	dir    string
	max    int
	ttl    time.Duration
	queues map[string][]*Message
	dirty  map[string]struct{}
	stats  Stats
	log    logging.LeveledLogger
	now    func() time.Time
}

// New builds a Queue and loads spilled messages from cfg.Dir, discarding
// any whose TTL lapsed while the broker was down.
func New(cfg Config) (*Queue, error) {
	def := DefaultConfig()
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = def.MaxPerUser
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	q := &Queue{
		dir:    cfg.Dir,
		max:    cfg.MaxPerUser,
		ttl:    cfg.TTL,
		queues: make(map[string][]*Message),
		dirty:  make(map[string]struct{}),
		log:    loggerFactory.NewLogger("offline"),
		now:    time.Now,
	}
	if q.dir != "" {
		if err := securefile.MkdirAllOwnerOnly(q.dir); err != nil {
			return nil, err
		}
		if err := q.load(); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Enqueue appends an envelope to recipientID's queue. When the queue is at
// capacity the oldest message is dropped to make room; Enqueue still
// reports true, and the drop is visible in Stats.
func (q *Queue) Enqueue(recipientID, senderID, senderNickname string, messageType wire.Type, envelope []byte) bool {
	msg := &Message{
		MessageID:      wire.NewID(),
		RecipientID:    recipientID,
		SenderID:       senderID,
		SenderNickname: senderNickname,
		MessageType:    string(messageType),
		Envelope:       append(json.RawMessage(nil), envelope...),
		Timestamp:      q.unix(q.now()),
		TTL:            q.ttl.Seconds(),
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	queue := q.queues[recipientID]
	if len(queue) >= q.max {
		drop := len(queue) - q.max + 1
		queue = queue[drop:]
		q.stats.TotalDropped += uint64(drop)
		q.log.Warnf("queue full for %s, dropped %d oldest", recipientID, drop)
	}
	q.queues[recipientID] = append(queue, msg)
	q.stats.TotalQueued++
	q.dirty[recipientID] = struct{}{}
	return true
}

// DequeueAll removes and returns recipientID's pending messages in enqueue
// order, skipping any that expired while queued.
func (q *Queue) DequeueAll(recipientID string) []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue, ok := q.queues[recipientID]
	if !ok {
		return nil
	}
	now := q.unix(q.now())
	out := make([]*Message, 0, len(queue))
	for _, m := range queue {
		if m.Expired(now) {
			q.stats.TotalExpired++
			continue
		}
		out = append(out, m)
	}
	q.stats.TotalDelivered += uint64(len(out))
	delete(q.queues, recipientID)
	q.dirty[recipientID] = struct{}{}
	return out
}

// Pending returns the number of messages waiting for recipientID.
func (q *Queue) Pending(recipientID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[recipientID])
}

// CleanupExpired removes lapsed messages from every queue and returns how
// many were dropped.
func (q *Queue) CleanupExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.unix(q.now())
	removed := 0
	for recipient, queue := range q.queues {
		kept := queue[:0]
		for _, m := range queue {
			if m.Expired(now) {
				removed++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == len(queue) {
			continue
		}
		q.dirty[recipient] = struct{}{}
		if len(kept) == 0 {
			delete(q.queues, recipient)
		} else {
			q.queues[recipient] = kept
		}
	}
	q.stats.TotalExpired += uint64(removed)
	return removed
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// ActiveQueues returns how many recipients have messages waiting.
func (q *Queue) ActiveQueues() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues)
}

// Waiting returns the total number of queued messages.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, queue := range q.queues {
		n += len(queue)
	}
	return n
}

// Flush writes every changed queue to disk: one file per recipient, removed
// when the queue drained, plus the stats file.
func (q *Queue) Flush() error {
	if q.dir == "" {
		return nil
	}
	type write struct {
		path string
		data []byte // nil removes the file
	}
	q.mu.Lock()
	writes := make([]write, 0, len(q.dirty)+1)
	var err error
	for recipient := range q.dirty {
		w := write{path: q.queueFile(recipient)}
		if queue, ok := q.queues[recipient]; ok {
			w.data, err = json.Marshal(queue)
			if err != nil {
				q.mu.Unlock()
				return err
			}
		}
		writes = append(writes, w)
	}
	q.dirty = make(map[string]struct{})
	statsData, err := json.Marshal(q.stats)
	q.mu.Unlock()
	if err != nil {
		return err
	}

	var firstErr error
	for _, w := range writes {
		if w.data == nil {
			if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := securefile.WriteFileAtomic(w.path, w.data, 0o600); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := securefile.WriteFileAtomic(filepath.Join(q.dir, statsFile), statsData, 0o600); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close expires what it can and flushes everything to disk.
func (q *Queue) Close() error {
	q.CleanupExpired()
	return q.Flush()
}

func (q *Queue) queueFile(recipient string) string {
	return filepath.Join(q.dir, recipient+".json")
}

func (q *Queue) unix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func (q *Queue) load() error {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return err
	}
	now := q.unix(q.now())
	loaded := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == statsFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(q.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var msgs []*Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			q.log.Warnf("skipping unreadable queue file %s: %v", name, err)
			continue
		}
		kept := msgs[:0]
		for _, m := range msgs {
			if m.Expired(now) {
				q.stats.TotalExpired++
				continue
			}
			kept = append(kept, m)
		}
		recipient := strings.TrimSuffix(name, ".json")
		if len(kept) == 0 {
			// Every message lapsed while the broker was down.
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				q.log.Warnf("removing drained queue file %s: %v", name, err)
			}
			continue
		}
		if len(kept) > q.max {
			q.stats.TotalDropped += uint64(len(kept) - q.max)
			kept = kept[len(kept)-q.max:]
		}
		q.queues[recipient] = kept
		loaded += len(kept)
	}
	if data, err := os.ReadFile(filepath.Join(q.dir, statsFile)); err == nil {
		var st Stats
		if err := json.Unmarshal(data, &st); err == nil {
			// Keep counters accumulated before this process, folding in
			// what load itself expired or dropped.
			st.TotalExpired += q.stats.TotalExpired
			st.TotalDropped += q.stats.TotalDropped
			q.stats = st
		}
	}
	if loaded > 0 {
		q.log.Infof("loaded %d queued message(s) for %d recipient(s)", loaded, len(q.queues))
	}
	return nil
}
