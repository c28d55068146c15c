package channelstore

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
)

// Roles carried by stored credentials.
const (
	RoleOperator = "operator"
	RoleMod      = "mod"
)

// Credential proves a user once held a role in a channel. The password hash
// gates re-acquisition of the role on a later join.
type Credential struct {
	PasswordHash string `json:"password"`
	Role         string `json:"role"`
}

// Ban is one ban-list entry. A nil ExpiresAt means permanent.
type Ban struct {
	BannedBy         string   `json:"banned_by"`
	BannedByNickname string   `json:"banned_by_nickname"`
	Reason           string   `json:"reason"`
	Timestamp        float64  `json:"timestamp"`
	ExpiresAt        *float64 `json:"expires_at"`
}

// Expired reports whether the ban has lapsed at unix time now.
func (b Ban) Expired(now float64) bool {
	return b.ExpiresAt != nil && now > *b.ExpiresAt
}

// Record is the durable state of one channel. Live membership and live role
// sets are session state owned by the broker, not part of the record.
type Record struct {
	JoinPasswordHash    string
	CreatorPasswordHash string
	Owner               string
	Credentials         map[string]Credential
	Bans                map[string]Ban
	Topic               string
	Modes               map[string]bool
	ChannelKey          string
}

func newRecord() *Record {
	return &Record{
		Credentials: make(map[string]Credential),
		Bans:        make(map[string]Ban),
		Modes:       make(map[string]bool),
	}
}

// clone returns a deep copy safe to hand outside the store's lock.
func (r *Record) clone() Record {
	out := *r
	out.Credentials = make(map[string]Credential, len(r.Credentials))
	for k, v := range r.Credentials {
		out.Credentials[k] = v
	}
	out.Bans = make(map[string]Ban, len(r.Bans))
	for k, v := range r.Bans {
		out.Bans[k] = v
	}
	out.Modes = make(map[string]bool, len(r.Modes))
	for k, v := range r.Modes {
		out.Modes[k] = v
	}
	return out
}

// ModeList returns the enabled mode flags in sorted order.
func (r *Record) ModeList() []string {
	out := make([]string, 0, len(r.Modes))
	for m, on := range r.Modes {
		if on {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// HashPassword is the channel-credential hash: SHA-256 hex. Account
// passwords use the stronger PBKDF2 path in the profiles package; channel
// passwords keep this scheme so existing records keep verifying.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// hashEqual compares a stored hex hash against the hash of a candidate in
// constant time.
func hashEqual(storedHex, password string) bool {
	if storedHex == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHex), []byte(HashPassword(password))) == 1
}
