package profiles

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/justirc/justirc-go/internal/securefile"
	"github.com/justirc/justirc-go/wire"
)

// Lockout and session defaults.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutWindow    = 15 * time.Minute
	DefaultSessionTTL       = 24 * time.Hour

	// failureRetention bounds how long failed attempts are remembered at
	// all; only attempts inside the lockout window count toward the
	// threshold.
	failureRetention = time.Hour

	sessionTokenBytes = 32
)

// Store errors, shared by Accounts and Profiles.
var (
	ErrExists         = errors.New("already registered")
	ErrUnknown        = errors.New("not found")
	ErrBadCredentials = errors.New("invalid username or password")
	ErrLocked         = errors.New("account temporarily locked")
	ErrDisabled       = errors.New("account disabled")
	ErrWeakPassword   = fmt.Errorf("password must be at least %d characters", wire.MinAccountPasswordChars)
	ErrAuthRequired   = errors.New("authentication required")
)

// AccountConfig configures an Accounts store.
type AccountConfig struct {
	// Path is the accounts file. Empty keeps accounts in memory only.
	Path string
	// RequireAuth rejects nicknames with no account in Admit.
	RequireAuth bool
	// LockoutThreshold is the failed-attempt count that locks an account.
	LockoutThreshold int
	// LockoutWindow is how far back failures count toward the threshold.
	LockoutWindow time.Duration
	// SessionTTL is the session token lifetime.
	SessionTTL time.Duration
	// LoggerFactory provides the component logger; nil uses the default.
	LoggerFactory logging.LoggerFactory
}

// account is the stored form. Timestamps are RFC 3339 UTC.
type account struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	Salt         string `json:"salt"`
	Email        string `json:"email,omitempty"`
	CreatedAt    string `json:"created_at"`
	LastLogin    string `json:"last_login,omitempty"`
	Disabled     bool   `json:"disabled"`
}

// AccountInfo is the credential-free view handed to callers.
type AccountInfo struct {
	Username  string
	Email     string
	CreatedAt string
	LastLogin string
	Disabled  bool
}

type session struct {
	username string
	expires  time.Time
}

// Accounts manages optional nickname accounts: PBKDF2 password
// verification, failed-attempt lockout, and session tokens. Sessions are
// memory only and do not survive a restart. All methods are safe for
// concurrent use.
type Accounts struct {
	mu               sync.Mutex
	path             string
	requireAuth      bool
	lockoutThreshold int
	lockoutWindow    time.Duration
	sessionTTL       time.Duration
	accounts         map[string]*account
	sessions         map[string]session
	failures         map[string][]time.Time
	log              logging.LeveledLogger
	now              func() time.Time
}

// NewAccounts builds the store and loads cfg.Path when it exists. A
// present but unparseable file is an error.
func NewAccounts(cfg AccountConfig) (*Accounts, error) {
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = DefaultLockoutThreshold
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = DefaultLockoutWindow
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	a := &Accounts{
		path:             cfg.Path,
		requireAuth:      cfg.RequireAuth,
		lockoutThreshold: cfg.LockoutThreshold,
		lockoutWindow:    cfg.LockoutWindow,
		sessionTTL:       cfg.SessionTTL,
		accounts:         make(map[string]*account),
		sessions:         make(map[string]session),
		failures:         make(map[string][]time.Time),
		log:              loggerFactory.NewLogger("accounts"),
		now:              time.Now,
	}
	if a.path != "" {
		if err := a.load(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Create registers a new account.
func (a *Accounts) Create(username, password, email string) error {
	if len(password) < wire.MinAccountPasswordChars {
		return ErrWeakPassword
	}
	salt, err := newSalt()
	if err != nil {
		return err
	}
	hash := hashPassword(password, salt)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.accounts[username]; ok {
		return ErrExists
	}
	a.accounts[username] = &account{
		Username:     username,
		PasswordHash: hex.EncodeToString(hash),
		Salt:         hex.EncodeToString(salt),
		Email:        email,
		CreatedAt:    a.now().UTC().Format(time.RFC3339),
	}
	a.persistLocked()
	return nil
}

// Authenticate verifies the password and mints a session token. Lockout is
// checked first, so a locked account rejects even the correct password.
func (a *Accounts) Authenticate(username, password string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if a.lockedLocked(username, now) {
		return "", ErrLocked
	}
	acct, ok := a.accounts[username]
	if !ok || !verifyHash(password, acct.PasswordHash, acct.Salt) {
		a.failures[username] = append(a.pruneFailuresLocked(username, now), now)
		return "", ErrBadCredentials
	}
	if acct.Disabled {
		return "", ErrDisabled
	}
	delete(a.failures, username)
	acct.LastLogin = now.UTC().Format(time.RFC3339)
	token, err := newSessionToken()
	if err != nil {
		return "", err
	}
	a.sessions[token] = session{username: username, expires: now.Add(a.sessionTTL)}
	a.persistLocked()
	return token, nil
}

// Admit runs the connect-time gate for a nickname. A still-valid session
// token for the same nickname passes without minting a new one. Otherwise
// nicknames with an account must authenticate; nicknames without one pass
// unless RequireAuth is set. The returned token is non-empty only when a
// fresh session was minted.
func (a *Accounts) Admit(nickname, password, token string) (string, error) {
	if token != "" {
		if user, ok := a.VerifySession(token); ok && user == nickname {
			return "", nil
		}
	}
	a.mu.Lock()
	_, exists := a.accounts[nickname]
	a.mu.Unlock()
	if !exists {
		if a.requireAuth {
			return "", ErrAuthRequired
		}
		return "", nil
	}
	return a.Authenticate(nickname, password)
}

// VerifySession resolves a session token to its username, dropping it if
// expired.
func (a *Accounts) VerifySession(token string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[token]
	if !ok {
		return "", false
	}
	if a.now().After(s.expires) {
		delete(a.sessions, token)
		return "", false
	}
	return s.username, true
}

// Logout invalidates a session token.
func (a *Accounts) Logout(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[token]; !ok {
		return false
	}
	delete(a.sessions, token)
	return true
}

// SweepSessions drops expired session tokens and returns how many were
// removed.
func (a *Accounts) SweepSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	removed := 0
	for token, s := range a.sessions {
		if now.After(s.expires) {
			delete(a.sessions, token)
			removed++
		}
	}
	return removed
}

// ChangePassword rotates the stored hash after verifying the old password.
func (a *Accounts) ChangePassword(username, oldPassword, newPassword string) error {
	if len(newPassword) < wire.MinAccountPasswordChars {
		return ErrWeakPassword
	}
	salt, err := newSalt()
	if err != nil {
		return err
	}
	hash := hashPassword(newPassword, salt)

	a.mu.Lock()
	defer a.mu.Unlock()
	acct, ok := a.accounts[username]
	if !ok || !verifyHash(oldPassword, acct.PasswordHash, acct.Salt) {
		return ErrBadCredentials
	}
	acct.PasswordHash = hex.EncodeToString(hash)
	acct.Salt = hex.EncodeToString(salt)
	a.persistLocked()
	return nil
}

// SetDisabled flips the disabled flag. Disabled accounts fail Authenticate;
// existing sessions stay valid until they expire.
func (a *Accounts) SetDisabled(username string, disabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct, ok := a.accounts[username]
	if !ok {
		return ErrUnknown
	}
	acct.Disabled = disabled
	a.persistLocked()
	return nil
}

// Exists reports whether username has an account.
func (a *Accounts) Exists(username string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.accounts[username]
	return ok
}

// Locked reports whether username is currently locked out.
func (a *Accounts) Locked(username string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lockedLocked(username, a.now())
}

// Info returns the credential-free account record.
func (a *Accounts) Info(username string) (AccountInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct, ok := a.accounts[username]
	if !ok {
		return AccountInfo{}, false
	}
	return AccountInfo{
		Username:  acct.Username,
		Email:     acct.Email,
		CreatedAt: acct.CreatedAt,
		LastLogin: acct.LastLogin,
		Disabled:  acct.Disabled,
	}, true
}

// Len returns the number of accounts.
func (a *Accounts) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.accounts)
}

// Save flushes unconditionally, for shutdown.
func (a *Accounts) Save() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.path == "" {
		return nil
	}
	return securefile.WriteJSONAtomic(a.path, a.accounts, 0o600)
}

// pruneFailuresLocked drops attempts older than the retention horizon and
// returns what is left.
func (a *Accounts) pruneFailuresLocked(username string, now time.Time) []time.Time {
	cutoff := now.Add(-failureRetention)
	kept := a.failures[username][:0]
	for _, t := range a.failures[username] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(a.failures, username)
		return nil
	}
	a.failures[username] = kept
	return kept
}

func (a *Accounts) lockedLocked(username string, now time.Time) bool {
	cutoff := now.Add(-a.lockoutWindow)
	recent := 0
	for _, t := range a.pruneFailuresLocked(username, now) {
		if t.After(cutoff) {
			recent++
		}
	}
	return recent >= a.lockoutThreshold
}

func newSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (a *Accounts) load() error {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	accounts := make(map[string]*account)
	if err := json.Unmarshal(data, &accounts); err != nil {
		return fmt.Errorf("parse %s: %w", a.path, err)
	}
	a.accounts = accounts
	if len(accounts) > 0 {
		a.log.Infof("loaded %d account(s)", len(accounts))
	}
	return nil
}

// persistLocked flushes after a mutation. Failures are logged; the
// in-memory state stays authoritative.
func (a *Accounts) persistLocked() {
	if a.path == "" {
		return
	}
	if err := securefile.WriteJSONAtomic(a.path, a.accounts, 0o600); err != nil {
		a.log.Errorf("write %s: %v", a.path, err)
	}
}
