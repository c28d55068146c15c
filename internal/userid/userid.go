package userid

import (
	"errors"
	"strings"
)

// Prefix is prepended to a nickname to form the stable user id.
const Prefix = "user_"

const (
	MinNicknameLen = 3
	MaxNicknameLen = 20
)

var (
	ErrEmpty    = errors.New("empty nickname")
	ErrLength   = errors.New("nickname length out of range")
	ErrBadChar  = errors.New("nickname has invalid characters")
	ErrReserved = errors.New("nickname is reserved")
)

// reserved nicknames are refused regardless of case.
var reserved = map[string]struct{}{
	"server": {},
	"admin":  {},
	"root":   {},
	"system": {},
}

// FromNickname derives the deterministic user id for a nickname. The same
// nickname always maps to the same id, so role credentials and queued
// messages survive reconnects.
func FromNickname(nickname string) string {
	return Prefix + nickname
}

// Nickname recovers the nickname from a user id. The second return is false
// when id does not carry the expected prefix.
func Nickname(id string) (string, bool) {
	if !strings.HasPrefix(id, Prefix) {
		return "", false
	}
	return id[len(Prefix):], true
}

// ValidateNickname checks length, charset ([A-Za-z0-9_-]) and the reserved
// list. It does not normalize: nicknames are case-sensitive identities.
func ValidateNickname(nickname string) error {
	if nickname == "" {
		return ErrEmpty
	}
	if len(nickname) < MinNicknameLen || len(nickname) > MaxNicknameLen {
		return ErrLength
	}
	for i := 0; i < len(nickname); i++ {
		c := nickname[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return ErrBadChar
		}
	}
	if _, ok := reserved[strings.ToLower(nickname)]; ok {
		return ErrReserved
	}
	return nil
}
