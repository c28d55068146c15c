// Package wire implements the newline-delimited JSON envelope protocol spoken
// between clients and the routing broker. The broker never inspects encrypted
// payload fields; it routes envelopes by type and addressing keys only.
package wire

import (
	"time"

	"github.com/google/uuid"
)

// Version is the protocol version carried in every envelope.
const Version = "1.0"

// DefaultMaxFrameBytes bounds a single envelope on the wire, newline included.
const DefaultMaxFrameBytes = 64 * 1024

// Type tags an envelope. Unknown tags are answered with an error envelope and
// dropped; they never terminate the session.
type Type string

const (
	// Connection management.
	TypeRegister   Type = "register"
	TypeDisconnect Type = "disconnect"

	// Key distribution and rekeying.
	TypePublicKeyRequest  Type = "public_key_request"
	TypePublicKeyResponse Type = "public_key_response"
	TypeRekeyRequest      Type = "rekey_request"
	TypeRekeyResponse     Type = "rekey_response"

	// Messaging.
	TypePrivateMessage Type = "private_message"
	TypeChannelMessage Type = "channel_message"

	// Channel management.
	TypeJoinChannel       Type = "join_channel"
	TypeLeaveChannel      Type = "leave_channel"
	TypeOpUser            Type = "op_user"
	TypeUnopUser          Type = "unop_user"
	TypeModUser           Type = "mod_user"
	TypeUnmodUser         Type = "unmod_user"
	TypeKickUser          Type = "kick_user"
	TypeBanUser           Type = "ban_user"
	TypeUnbanUser         Type = "unban_user"
	TypeKickbanUser       Type = "kickban_user"
	TypeInviteUser        Type = "invite_user"
	TypeInviteResponse    Type = "invite_response"
	TypeSetMode           Type = "set_mode"
	TypeModeChange        Type = "mode_change"
	TypeSetTopic          Type = "set_topic"
	TypeTransferOwnership Type = "transfer_ownership"
	TypeOpPasswordRequest Type = "op_password_request"
	TypeOpPasswordReply   Type = "op_password_response"

	// Information requests.
	TypeWhois               Type = "whois"
	TypeWhoisResponse       Type = "whois_response"
	TypeListChannels        Type = "list_channels"
	TypeChannelListResponse Type = "channel_list_response"

	// Presence.
	TypeSetStatus    Type = "set_status"
	TypeStatusUpdate Type = "status_update"

	// Profiles and accounts.
	TypeRegisterNickname Type = "register_nickname"
	TypeUpdateProfile    Type = "update_profile"
	TypeGetProfile       Type = "get_profile"
	TypeProfileResponse  Type = "profile_response"

	// File transfer.
	TypeImageStart Type = "image_start"
	TypeImageChunk Type = "image_chunk"
	TypeImageEnd   Type = "image_end"

	// Broker responses.
	TypeAck      Type = "ack"
	TypeError    Type = "error"
	TypeUserList Type = "user_list"
)

var knownTypes = map[Type]struct{}{
	TypeRegister: {}, TypeDisconnect: {},
	TypePublicKeyRequest: {}, TypePublicKeyResponse: {},
	TypeRekeyRequest: {}, TypeRekeyResponse: {},
	TypePrivateMessage: {}, TypeChannelMessage: {},
	TypeJoinChannel: {}, TypeLeaveChannel: {},
	TypeOpUser: {}, TypeUnopUser: {}, TypeModUser: {}, TypeUnmodUser: {},
	TypeKickUser: {}, TypeBanUser: {}, TypeUnbanUser: {}, TypeKickbanUser: {},
	TypeInviteUser: {}, TypeInviteResponse: {},
	TypeSetMode: {}, TypeModeChange: {}, TypeSetTopic: {}, TypeTransferOwnership: {},
	TypeOpPasswordRequest: {}, TypeOpPasswordReply: {},
	TypeWhois: {}, TypeWhoisResponse: {}, TypeListChannels: {}, TypeChannelListResponse: {},
	TypeSetStatus: {}, TypeStatusUpdate: {},
	TypeRegisterNickname: {}, TypeUpdateProfile: {}, TypeGetProfile: {}, TypeProfileResponse: {},
	TypeImageStart: {}, TypeImageChunk: {}, TypeImageEnd: {},
	TypeAck: {}, TypeError: {}, TypeUserList: {},
}

// Known reports whether t is a recognized envelope type.
func Known(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

// Header is the fixed part of every envelope. Payload structs embed it so a
// single json.Marshal produces the flat key layout the protocol requires.
type Header struct {
	Version   string  `json:"version"`
	Type      Type    `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// NewHeader stamps a header for an outgoing envelope.
func NewHeader(t Type) Header {
	return Header{Version: Version, Type: t, Timestamp: Now()}
}

// Now returns the wire representation of the current time: fractional unix
// seconds, matching the `timestamp` key.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// NewID returns a fresh unique id for messages and transfers.
func NewID() string {
	return uuid.NewString()
}
