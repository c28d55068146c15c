package ircerrors

import "fmt"

// Code is a stable, programmatic error identifier carried alongside the
// human-readable text of an error envelope.
type Code string

const (
	CodeProtocol        Code = "protocol_error"
	CodeFrameTooLarge   Code = "frame_too_large"
	CodeUnknownType     Code = "unknown_type"
	CodeInvalidInput    Code = "invalid_input"
	CodeNotRegistered   Code = "not_registered"
	CodeNicknameInUse   Code = "nickname_in_use"
	CodeInvalidNickname Code = "invalid_nickname"
	CodeAuthRequired    Code = "auth_required"
	CodeAuthFailed      Code = "auth_failed"
	CodeAccountLocked   Code = "account_locked"
	CodeInvalidPassword Code = "invalid_password"
	CodeBanned          Code = "banned"
	CodeInvalidChannel  Code = "invalid_channel"
	CodeUnknownChannel  Code = "unknown_channel"
	CodeNotInChannel    Code = "not_in_channel"
	CodeUnknownUser     Code = "unknown_user"
	CodeUserOffline     Code = "user_offline"
	CodeNotOperator     Code = "not_operator"
	CodeNotOwner        Code = "not_owner"
	CodeModerated       Code = "moderated"
	CodeRateLimited     Code = "rate_limited"
	CodeQueueFull       Code = "queue_full"
	CodeServerFull      Code = "server_full"
	CodeInternal        Code = "internal_error"
)

// Error pairs a Code with the text sent to the client. The broker converts
// every handler failure into one of these before replying.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Msg, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Msg, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a coded error whose Msg is safe to put on the wire.
func E(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and wire-safe message to an underlying error.
func Wrap(code Code, msg string, err error) error {
	return &Error{Code: code, Msg: msg, Err: err}
}
