package channelname

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MinLen and MaxLen bound a normalized channel name, '#' included.
	MinLen = 2
	MaxLen = 51
)

var (
	// ErrMissing indicates the channel name is empty after normalization.
	ErrMissing = errors.New("missing channel name")
	// ErrTooShort indicates the name is shorter than MinLen.
	ErrTooShort = errors.New("channel name too short")
	// ErrTooLong indicates the name exceeds MaxLen.
	ErrTooLong = errors.New("channel name too long")
	// ErrBadChar indicates the name contains a character outside [a-z0-9_-].
	ErrBadChar = errors.New("channel name has invalid characters")
)

// Normalize lowercases a channel name, converts interior spaces to hyphens,
// and guarantees a single leading '#'. Normalizing an already-normalized
// name returns it unchanged.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "-")
	if !strings.HasPrefix(n, "#") {
		n = "#" + n
	}
	return n
}

// Validate validates a normalized channel name.
func Validate(name string) error {
	if name == "" || name == "#" {
		return ErrMissing
	}
	if len(name) < MinLen {
		return fmt.Errorf("%w (min=%d)", ErrTooShort, MinLen)
	}
	if len(name) > MaxLen {
		return fmt.Errorf("%w (max=%d)", ErrTooLong, MaxLen)
	}
	if name[0] != '#' {
		return ErrBadChar
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return ErrBadChar
		}
	}
	return nil
}
