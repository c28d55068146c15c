package ircerrors

import "errors"

// CodeOf extracts the Code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf extracts the wire-safe message from err. Uncoded errors map to a
// generic message so internal detail never leaks to clients.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal server error"
}

// Fatal reports whether the session must be closed after the error envelope
// is written. The only fatal disposition is a failed password verification
// for previously stored role credentials, which would otherwise invite
// online probing.
func Fatal(err error) bool {
	return CodeOf(err) == CodeInvalidPassword
}
