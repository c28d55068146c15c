package client

import "errors"

var (
	ErrMissingNickname    = errors.New("missing nickname")
	ErrMissingAddress     = errors.New("missing broker address")
	ErrNotConnected       = errors.New("client is not connected")
	ErrClosed             = errors.New("client is closed")
	ErrUnknownPeer        = errors.New("no key material for peer")
	ErrNotInChannel       = errors.New("not a member of the channel")
	ErrCredentialRequired = errors.New("a role password is required and no credential callback is set")
)
