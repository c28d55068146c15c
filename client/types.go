package client

import (
	"fmt"
	"time"

	"github.com/justirc/justirc-go/ircerrors"
	"github.com/justirc/justirc-go/wire"
)

// Code identifies a broker rejection programmatically.
type Code = ircerrors.Code

const (
	CodeProtocol        = ircerrors.CodeProtocol
	CodeFrameTooLarge   = ircerrors.CodeFrameTooLarge
	CodeUnknownType     = ircerrors.CodeUnknownType
	CodeInvalidInput    = ircerrors.CodeInvalidInput
	CodeNotRegistered   = ircerrors.CodeNotRegistered
	CodeNicknameInUse   = ircerrors.CodeNicknameInUse
	CodeInvalidNickname = ircerrors.CodeInvalidNickname
	CodeAuthRequired    = ircerrors.CodeAuthRequired
	CodeAuthFailed      = ircerrors.CodeAuthFailed
	CodeAccountLocked   = ircerrors.CodeAccountLocked
	CodeInvalidPassword = ircerrors.CodeInvalidPassword
	CodeBanned          = ircerrors.CodeBanned
	CodeInvalidChannel  = ircerrors.CodeInvalidChannel
	CodeUnknownChannel  = ircerrors.CodeUnknownChannel
	CodeNotInChannel    = ircerrors.CodeNotInChannel
	CodeUnknownUser     = ircerrors.CodeUnknownUser
	CodeUserOffline     = ircerrors.CodeUserOffline
	CodeNotOperator     = ircerrors.CodeNotOperator
	CodeNotOwner        = ircerrors.CodeNotOwner
	CodeModerated       = ircerrors.CodeModerated
	CodeRateLimited     = ircerrors.CodeRateLimited
	CodeQueueFull       = ircerrors.CodeQueueFull
	CodeServerFull      = ircerrors.CodeServerFull
	CodeInternal        = ircerrors.CodeInternal
)

// ProtocolError is a broker error envelope surfaced to a caller. RetryAfter
// is non-zero only for rate-limit rejections.
type ProtocolError struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func protocolError(msg *wire.Error) *ProtocolError {
	return &ProtocolError{
		Code:       Code(msg.Code),
		Message:    msg.Error,
		RetryAfter: time.Duration(msg.RetryAfter * float64(time.Second)),
	}
}

// Peer is one entry of the client's key and presence cache.
type Peer struct {
	UserID        string
	Nickname      string
	PublicKey     string
	Status        string
	StatusMessage string
	Online        bool
}

// ChannelInfo describes a channel the client is a member of, as of the
// latest broker state seen.
type ChannelInfo struct {
	Name      string
	Topic     string
	Members   []wire.MemberInfo
	Protected bool
	Operator  bool
	Owner     bool
}

// CredentialRequest is an op_password_request the broker parked an action
// on: setting a role password after a grant or channel creation, or
// verifying a stored one before a join completes.
type CredentialRequest struct {
	Channel   string
	Action    string // wire.OpPasswordActionSet or wire.OpPasswordActionVerify
	GrantedBy string
	Mod       bool
}

// JoinOptions carries the optional passwords for a join. Password answers a
// channel's join gate; CreatorPassword creates the channel or, on an
// existing one, restores the creator's operator standing. RolePassword
// answers a verify prompt for a previously stored role credential, and
// Credential handles any prompt the other fields do not cover, taking
// precedence over the client-wide callback.
type JoinOptions struct {
	Password        string
	CreatorPassword string
	RolePassword    string
	Credential      func(CredentialRequest) (string, error)
}

// WhoisInfo is the broker's answer to a Whois. Channels omits channels with
// the private mode set.
type WhoisInfo struct {
	Nickname      string
	UserID        string
	Channels      []string
	Online        bool
	Status        string
	StatusMessage string
}

// Profile is a stored nickname profile.
type Profile struct {
	Nickname         string
	Registered       bool
	Bio              string
	StatusMessage    string
	Avatar           string
	RegistrationDate string
}
