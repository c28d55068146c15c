package wire

import (
	"errors"
	"fmt"
)

// Validation bounds for user-supplied text fields. Encrypted payload fields
// are exempt: they are bounded by the frame size alone.
const (
	MaxMessageChars  = 4096
	MaxTopicChars    = 256
	MaxPasswordChars = 256
	MaxReasonChars   = 256
	MaxStatusChars   = 100
	MaxBioChars      = 500
	MaxAvatarChars   = 64 * 1024
)

// MinRolePasswordChars is the minimum length for creator and role passwords.
const MinRolePasswordChars = 4

// MinAccountPasswordChars is the minimum length for account registration.
const MinAccountPasswordChars = 6

var ErrFieldTooLong = errors.New("wire: field too long")

// CheckLen returns a descriptive error when s exceeds max characters.
func CheckLen(field, s string, max int) error {
	if len(s) > max {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrFieldTooLong, field, max)
	}
	return nil
}

// Statuses a session may advertise.
const (
	StatusOnline = "online"
	StatusAway   = "away"
	StatusBusy   = "busy"
	StatusDND    = "dnd"
)

// ValidStatus reports whether s is a recognized presence value.
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusDND:
		return true
	}
	return false
}

// Channel mode flags.
const (
	ModeModerated  = "m"
	ModeSecret     = "s"
	ModeInviteOnly = "i"
	ModeNoExternal = "n"
	ModePrivate    = "p"
)

// ValidMode reports whether m is one of the recognized channel mode flags.
func ValidMode(m string) bool {
	switch m {
	case ModeModerated, ModeSecret, ModeInviteOnly, ModeNoExternal, ModePrivate:
		return true
	}
	return false
}
