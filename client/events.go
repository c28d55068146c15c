package client

import (
	"time"

	"github.com/justirc/justirc-go/transfer"
	"github.com/justirc/justirc-go/wire"
)

// Event is a broker-originated envelope surfaced to the application after
// the client has applied it to its own state. The concrete types below are
// the only implementations.
type Event interface {
	event()
}

// MessageEvent is a decrypted private or channel message. Channel is empty
// for private messages.
type MessageEvent struct {
	FromID  string
	From    string
	Channel string
	Text    string
	Time    time.Time
}

// NoticeEvent is a broker announcement into a channel, such as a kick or
// ban report.
type NoticeEvent struct {
	Channel string
	Text    string
}

// RosterEvent reports users now known to be online: the full roster right
// after registration, or a single entry when a user appears.
type RosterEvent struct {
	Users []Peer
}

// ChannelJoinedEvent reports a join completed outside a Join call, e.g.
// after accepting an invite.
type ChannelJoinedEvent struct {
	Info ChannelInfo
}

// UserJoinedEvent reports another user joining a shared channel.
type UserJoinedEvent struct {
	Channel string
	Member  wire.MemberInfo
}

// UserLeftEvent reports another user leaving a shared channel.
type UserLeftEvent struct {
	Channel  string
	UserID   string
	Nickname string
}

// DisconnectedEvent reports a user with no shared channel going offline.
type DisconnectedEvent struct {
	UserID   string
	Nickname string
}

// PresenceEvent reports a status change.
type PresenceEvent struct {
	UserID   string
	Nickname string
	Status   string
	Message  string
}

// RoleEvent reports an operator or moderator grant or revocation in a
// shared channel.
type RoleEvent struct {
	Channel  string
	UserID   string
	Nickname string
	By       string
	Mod      bool
	Granted  bool
}

// CredentialEvent surfaces a role password prompt when no credential
// callback is configured. Answer it with RespondCredential.
type CredentialEvent struct {
	Request CredentialRequest
}

// KickedEvent reports this client being removed from a channel.
type KickedEvent struct {
	Channel string
	By      string
	Reason  string
}

// BannedEvent reports this client being banned from a channel. A zero
// Duration is permanent.
type BannedEvent struct {
	Channel  string
	By       string
	Reason   string
	Duration time.Duration
}

// InviteEvent is an invitation into a channel. Answer it with AcceptInvite
// or DeclineInvite.
type InviteEvent struct {
	Channel   string
	Inviter   string
	InviterID string
}

// TopicEvent reports a topic change.
type TopicEvent struct {
	Channel string
	Topic   string
	By      string
}

// ModeEvent reports a channel mode flag change.
type ModeEvent struct {
	Channel string
	Mode    string
	Enabled bool
	By      string
}

// OwnershipEvent reports this client becoming a channel's owner.
type OwnershipEvent struct {
	Channel string
}

// PeerRekeyedEvent reports fresh pairwise key material for a peer after a
// rekey exchange.
type PeerRekeyedEvent struct {
	UserID   string
	Nickname string
}

// AckEvent is a broker acknowledgement not consumed by a pending call.
type AckEvent struct {
	Message string
}

// ErrorEvent is a broker rejection not consumed by a pending call, e.g. a
// rate limit on a fire-and-forget send.
type ErrorEvent struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
}

// FileOfferEvent reports an incoming transfer offer and the accept
// decision already applied to it.
type FileOfferEvent struct {
	TransferID string
	FromID     string
	From       string
	Meta       transfer.Metadata
	Accepted   bool
}

// FileEvent delivers a fully reassembled incoming file.
type FileEvent struct {
	TransferID string
	FromID     string
	From       string
	Meta       transfer.Metadata
	Data       []byte
}

func (MessageEvent) event()       {}
func (NoticeEvent) event()        {}
func (RosterEvent) event()        {}
func (ChannelJoinedEvent) event() {}
func (UserJoinedEvent) event()    {}
func (UserLeftEvent) event()      {}
func (DisconnectedEvent) event()  {}
func (PresenceEvent) event()      {}
func (RoleEvent) event()          {}
func (CredentialEvent) event()    {}
func (KickedEvent) event()        {}
func (BannedEvent) event()        {}
func (InviteEvent) event()        {}
func (TopicEvent) event()         {}
func (ModeEvent) event()          {}
func (OwnershipEvent) event()     {}
func (PeerRekeyedEvent) event()   {}
func (AckEvent) event()           {}
func (ErrorEvent) event()         {}
func (FileOfferEvent) event()     {}
func (FileEvent) event()          {}
