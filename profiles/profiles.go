// Package profiles persists user-facing identity data: nickname profiles
// (bio, status message, avatar) with NickServ-style registration, and
// optional password-protected accounts with lockout and session tokens.
// Each store is one JSON document rewritten atomically on mutation.
package profiles

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/justirc/justirc-go/internal/securefile"
	"github.com/justirc/justirc-go/wire"
)

// Profile is the stored per-nickname record. Timestamps are RFC 3339 UTC.
// Credential fields are stripped before a record leaves the store.
type Profile struct {
	Nickname         string `json:"nickname"`
	Registered       bool   `json:"registered"`
	PasswordHash     string `json:"password_hash,omitempty"`
	Salt             string `json:"salt,omitempty"`
	RegistrationDate string `json:"registration_date,omitempty"`
	Bio              string `json:"bio,omitempty"`
	StatusMessage    string `json:"status_message,omitempty"`
	Avatar           string `json:"avatar,omitempty"`
	LastSeen         string `json:"last_seen,omitempty"`
	LastUpdated      string `json:"last_updated,omitempty"`
}

// ProfileConfig configures a Profiles store.
type ProfileConfig struct {
	// Path is the profiles file. Empty keeps profiles in memory only.
	Path string
	// LoggerFactory provides the component logger; nil uses the default.
	LoggerFactory logging.LoggerFactory
}

// Profiles manages per-nickname profile data. All methods are safe for
// concurrent use.
type Profiles struct {
	mu       sync.Mutex
	path     string
	profiles map[string]*Profile
	log      logging.LeveledLogger
	now      func() time.Time
}

// NewProfiles builds the store and loads cfg.Path when it exists. A
// present but unparseable file is an error.
func NewProfiles(cfg ProfileConfig) (*Profiles, error) {
	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	p := &Profiles{
		path:     cfg.Path,
		profiles: make(map[string]*Profile),
		log:      loggerFactory.NewLogger("profiles"),
		now:      time.Now,
	}
	if p.path != "" {
		if err := p.load(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Register protects nickname with a password. Re-registering an already
// registered nickname fails; registering over an unregistered profile
// keeps its existing bio and avatar.
func (p *Profiles) Register(nickname, password string) error {
	if len(password) < wire.MinAccountPasswordChars {
		return ErrWeakPassword
	}
	salt, err := newSalt()
	if err != nil {
		return err
	}
	hash := hashPassword(password, salt)

	p.mu.Lock()
	defer p.mu.Unlock()
	prof := p.profiles[nickname]
	if prof != nil && prof.Registered {
		return ErrExists
	}
	if prof == nil {
		prof = &Profile{Nickname: nickname}
		p.profiles[nickname] = prof
	}
	now := p.now().UTC().Format(time.RFC3339)
	prof.Registered = true
	prof.PasswordHash = hex.EncodeToString(hash)
	prof.Salt = hex.EncodeToString(salt)
	prof.RegistrationDate = now
	prof.LastSeen = now
	p.persistLocked()
	return nil
}

// IsRegistered reports whether nickname is registered.
func (p *Profiles) IsRegistered(nickname string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[nickname]
	return ok && prof.Registered
}

// VerifyPassword checks a registered nickname's password. Unregistered
// nicknames always verify false.
func (p *Profiles) VerifyPassword(nickname, password string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[nickname]
	if !ok || !prof.Registered {
		return false
	}
	return verifyHash(password, prof.PasswordHash, prof.Salt)
}

// Update applies the non-nil fields to nickname's profile, creating an
// unregistered profile when none exists. Field limits follow the wire
// bounds.
func (p *Profiles) Update(nickname string, bio, statusMessage, avatar *string) error {
	if bio != nil {
		if err := wire.CheckLen("bio", *bio, wire.MaxBioChars); err != nil {
			return err
		}
	}
	if statusMessage != nil {
		if err := wire.CheckLen("status_message", *statusMessage, wire.MaxStatusChars); err != nil {
			return err
		}
	}
	if avatar != nil {
		if err := wire.CheckLen("avatar", *avatar, wire.MaxAvatarChars); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	prof := p.profiles[nickname]
	if prof == nil {
		prof = &Profile{Nickname: nickname}
		p.profiles[nickname] = prof
	}
	if bio != nil {
		prof.Bio = *bio
	}
	if statusMessage != nil {
		prof.StatusMessage = *statusMessage
	}
	if avatar != nil {
		prof.Avatar = *avatar
	}
	prof.LastUpdated = p.now().UTC().Format(time.RFC3339)
	p.persistLocked()
	return nil
}

// Get returns the profile with credential fields stripped.
func (p *Profiles) Get(nickname string) (Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[nickname]
	if !ok {
		return Profile{}, false
	}
	out := *prof
	out.PasswordHash = ""
	out.Salt = ""
	return out, true
}

// TouchLastSeen stamps last_seen on an existing profile. Nicknames that
// never registered or updated a profile are not tracked.
func (p *Profiles) TouchLastSeen(nickname string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[nickname]
	if !ok {
		return
	}
	prof.LastSeen = p.now().UTC().Format(time.RFC3339)
	p.persistLocked()
}

// Delete removes a profile. Registered profiles require their password.
func (p *Profiles) Delete(nickname, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[nickname]
	if !ok {
		return ErrUnknown
	}
	if prof.Registered && !verifyHash(password, prof.PasswordHash, prof.Salt) {
		return ErrBadCredentials
	}
	delete(p.profiles, nickname)
	p.persistLocked()
	return nil
}

// RegisteredNicknames returns every registered nickname, sorted.
func (p *Profiles) RegisteredNicknames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for nick, prof := range p.profiles {
		if prof.Registered {
			out = append(out, nick)
		}
	}
	sort.Strings(out)
	return out
}

// Search returns up to max profiles whose nickname or bio contains query,
// case-insensitively, credential fields stripped.
func (p *Profiles) Search(query string, max int) []Profile {
	query = strings.ToLower(query)
	p.mu.Lock()
	defer p.mu.Unlock()
	var nicks []string
	for nick := range p.profiles {
		nicks = append(nicks, nick)
	}
	sort.Strings(nicks)

	var out []Profile
	for _, nick := range nicks {
		if len(out) >= max {
			break
		}
		prof := p.profiles[nick]
		if !strings.Contains(strings.ToLower(nick), query) &&
			!strings.Contains(strings.ToLower(prof.Bio), query) {
			continue
		}
		c := *prof
		c.PasswordHash = ""
		c.Salt = ""
		out = append(out, c)
	}
	return out
}

// Len returns the number of tracked profiles.
func (p *Profiles) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.profiles)
}

// Save flushes unconditionally, for shutdown.
func (p *Profiles) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path == "" {
		return nil
	}
	return securefile.WriteJSONAtomic(p.path, p.profiles, 0o600)
}

func (p *Profiles) load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	profiles := make(map[string]*Profile)
	if err := json.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("parse %s: %w", p.path, err)
	}
	p.profiles = profiles
	if len(profiles) > 0 {
		p.log.Infof("loaded %d profile(s)", len(profiles))
	}
	return nil
}

func (p *Profiles) persistLocked() {
	if p.path == "" {
		return
	}
	if err := securefile.WriteJSONAtomic(p.path, p.profiles, 0o600); err != nil {
		p.log.Errorf("write %s: %v", p.path, err)
	}
}
