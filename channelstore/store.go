// Package channelstore keeps the durable channel records: password hashes,
// the owner, per-user role credentials, bans, topic, modes and the channel
// AEAD key. The whole store serializes to a single JSON document that is
// atomically replaced at every durable-write point; in-memory state stays
// authoritative when a write fails.
package channelstore

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/justirc/justirc-go/internal/securefile"
)

var (
	// ErrExists indicates a Create for a channel that already has a record.
	ErrExists = errors.New("channelstore: channel exists")
	// ErrUnknown indicates an operation on a channel without a record.
	ErrUnknown = errors.New("channelstore: unknown channel")
)

// Config configures a Store.
type Config struct {
	// Path locates channels.json. Empty disables persistence.
	Path string
	// LoggerFactory provides the component logger; nil uses the default.
	LoggerFactory logging.LoggerFactory
}

// Store holds every channel record. All methods are safe for concurrent
// use; each mutation is atomic and persists before returning.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]*Record
	log     logging.LeveledLogger
	now     func() time.Time
}

// New builds a Store and loads records from cfg.Path. A missing file is an
// empty store; an unparseable one is an error.
func New(cfg Config) (*Store, error) {
	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	s := &Store{
		path:    cfg.Path,
		records: make(map[string]*Record),
		log:     loggerFactory.NewLogger("channels"),
		now:     time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Len returns the number of channel records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Exists reports whether channel has a record.
func (s *Store) Exists(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[channel]
	return ok
}

// Names returns all channel names in sorted order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for name := range s.records {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Get returns a deep copy of channel's record.
func (s *Store) Get(channel string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Create inserts a record for a new channel. Passwords arrive in the clear
// and are hashed here; an empty joinPassword leaves the channel open.
func (s *Store) Create(channel, owner, creatorPassword, joinPassword, channelKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[channel]; ok {
		return ErrExists
	}
	r := newRecord()
	r.Owner = owner
	r.CreatorPasswordHash = HashPassword(creatorPassword)
	if joinPassword != "" {
		r.JoinPasswordHash = HashPassword(joinPassword)
	}
	r.ChannelKey = channelKey
	s.records[channel] = r
	s.persistLocked()
	return nil
}

// IsProtected reports whether channel requires a join password.
func (s *Store) IsProtected(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	return ok && r.JoinPasswordHash != ""
}

// VerifyJoinPassword checks password against the stored join hash. It is
// false when the channel is unknown or has no join password.
func (s *Store) VerifyJoinPassword(channel, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	return ok && hashEqual(r.JoinPasswordHash, password)
}

// VerifyCreatorPassword checks the channel master secret. Legacy records
// without a stored creator hash never verify; owner recovery is disabled
// for them rather than inventing a secret.
func (s *Store) VerifyCreatorPassword(channel, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	return ok && hashEqual(r.CreatorPasswordHash, password)
}

// Owner returns the owner user id, empty for unknown or legacy records.
func (s *Store) Owner(channel string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return ""
	}
	return r.Owner
}

// SetOwner reassigns the channel owner.
func (s *Store) SetOwner(channel, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return ErrUnknown
	}
	r.Owner = owner
	s.persistLocked()
	return nil
}

// ChannelKey returns the stored channel AEAD key (base64). The key is
// written once at creation and never rotated.
func (s *Store) ChannelKey(channel string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return ""
	}
	return r.ChannelKey
}

// Credential returns the stored role credential for uid in channel.
func (s *Store) Credential(channel, uid string) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return Credential{}, false
	}
	c, ok := r.Credentials[uid]
	return c, ok
}

// SetCredential stores a role credential, hashing the password.
func (s *Store) SetCredential(channel, uid, password, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return ErrUnknown
	}
	r.Credentials[uid] = Credential{PasswordHash: HashPassword(password), Role: role}
	s.persistLocked()
	return nil
}

// VerifyCredential checks password against uid's stored role credential.
func (s *Store) VerifyCredential(channel, uid, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return false
	}
	c, ok := r.Credentials[uid]
	return ok && hashEqual(c.PasswordHash, password)
}

// DeleteCredential removes uid's role credential, e.g. on revoke.
func (s *Store) DeleteCredential(channel, uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return
	}
	if _, had := r.Credentials[uid]; !had {
		return
	}
	delete(r.Credentials, uid)
	s.persistLocked()
}

// AddBan records a ban for uid.
func (s *Store) AddBan(channel, uid string, b Ban) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return ErrUnknown
	}
	r.Bans[uid] = b
	s.persistLocked()
	return nil
}

// RemoveBan deletes uid's ban and reports whether one existed.
func (s *Store) RemoveBan(channel, uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return false
	}
	if _, had := r.Bans[uid]; !had {
		return false
	}
	delete(r.Bans, uid)
	s.persistLocked()
	return true
}

// ActiveBan returns uid's ban when it is still in force. An expired ban is
// removed here, lazily, in addition to the background sweep.
func (s *Store) ActiveBan(channel, uid string) (Ban, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return Ban{}, false
	}
	b, ok := r.Bans[uid]
	if !ok {
		return Ban{}, false
	}
	if b.Expired(s.nowUnix()) {
		delete(r.Bans, uid)
		s.persistLocked()
		return Ban{}, false
	}
	return b, true
}

// SweepExpiredBans removes lapsed bans across all channels and returns how
// many were dropped.
func (s *Store) SweepExpiredBans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowUnix()
	removed := 0
	for _, r := range s.records {
		for uid, b := range r.Bans {
			if b.Expired(now) {
				delete(r.Bans, uid)
				removed++
			}
		}
	}
	if removed > 0 {
		s.persistLocked()
	}
	return removed
}

// Topic returns the channel topic.
func (s *Store) Topic(channel string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return ""
	}
	return r.Topic
}

// SetTopic stores the channel topic.
func (s *Store) SetTopic(channel, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return ErrUnknown
	}
	r.Topic = topic
	s.persistLocked()
	return nil
}

// HasMode reports whether a mode flag is enabled on channel.
func (s *Store) HasMode(channel, mode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	return ok && r.Modes[mode]
}

// SetMode enables or disables a mode flag.
func (s *Store) SetMode(channel, mode string, enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return ErrUnknown
	}
	if enable {
		r.Modes[mode] = true
	} else {
		delete(r.Modes, mode)
	}
	s.persistLocked()
	return nil
}

// Modes returns channel's enabled mode flags, sorted.
func (s *Store) Modes(channel string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[channel]
	if !ok {
		return nil
	}
	return r.ModeList()
}

func (s *Store) nowUnix() float64 {
	return float64(s.now().UnixNano()) / float64(time.Second)
}

// Save flushes the store unconditionally, returning the write error. Used
// at shutdown; routine durable points flush internally and only log.
func (s *Store) Save() error {
	s.mu.Lock()
	data, err := s.marshalLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.write(data)
}

// persistLocked flushes after a mutation. Failures are logged; the
// in-memory state remains authoritative and the next flush supersedes.
func (s *Store) persistLocked() {
	if s.path == "" {
		return
	}
	data, err := s.marshalLocked()
	if err != nil {
		s.log.Errorf("marshal channels: %v", err)
		return
	}
	if err := s.write(data); err != nil {
		s.log.Errorf("write %s: %v", s.path, err)
	}
}

func (s *Store) write(data []byte) error {
	if s.path == "" {
		return nil
	}
	return securefile.WriteFileAtomic(s.path, data, 0o600)
}
