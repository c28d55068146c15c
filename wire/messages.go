package wire

// Register announces a nickname and long-term public key for a new session.
// Password and SessionToken are consulted only when the broker runs with
// account authentication enabled.
type Register struct {
	Header
	Nickname     string `json:"nickname"`
	PublicKey    string `json:"public_key"`
	Password     string `json:"password,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
}

// Ack is the broker's positive response. Context-specific keys are populated
// depending on the operation acknowledged.
type Ack struct {
	Header
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Description string `json:"description,omitempty"`

	// Join completion context.
	Channel     string       `json:"channel,omitempty"`
	Members     []MemberInfo `json:"members,omitempty"`
	IsProtected bool         `json:"is_protected,omitempty"`
	IsOperator  bool         `json:"is_operator,omitempty"`
	IsOwner     bool         `json:"is_owner,omitempty"`
	Topic       string       `json:"topic,omitempty"`
	ChannelKey  string       `json:"channel_key,omitempty"`

	// Account context.
	SessionToken string `json:"session_token,omitempty"`
}

// Error carries a human-readable message plus a stable code. RetryAfter is
// set only for rate-limit rejections.
type Error struct {
	Header
	Error      string  `json:"error"`
	Code       string  `json:"code,omitempty"`
	RetryAfter float64 `json:"retry_after_seconds,omitempty"`
}

// MemberInfo describes one live channel member in a join ack.
type MemberInfo struct {
	UserID     string `json:"user_id"`
	Nickname   string `json:"nickname"`
	PublicKey  string `json:"public_key"`
	IsOperator bool   `json:"is_operator"`
	IsMod      bool   `json:"is_mod"`
	IsOwner    bool   `json:"is_owner"`
}

// UserInfo describes one connected user in a user_list envelope.
type UserInfo struct {
	UserID        string `json:"user_id"`
	Nickname      string `json:"nickname"`
	PublicKey     string `json:"public_key"`
	Status        string `json:"status,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`
}

// UserList delivers a roster increment: the full roster after registration,
// or a single entry when a user appears.
type UserList struct {
	Header
	Users []UserInfo `json:"users"`
}

// PublicKeyRequest asks the broker for a peer's long-term public key.
type PublicKeyRequest struct {
	Header
	TargetNickname string `json:"target_nickname"`
}

// PublicKeyResponse answers a PublicKeyRequest.
type PublicKeyResponse struct {
	Header
	UserID    string `json:"user_id"`
	Nickname  string `json:"nickname"`
	PublicKey string `json:"public_key"`
}

// Rekey carries a fresh identity public key between two peers. The broker
// forwards it verbatim apart from stamping FromNickname.
type Rekey struct {
	Header
	FromID       string `json:"from_id"`
	ToID         string `json:"to_id"`
	NewPublicKey string `json:"new_public_key"`
	FromNickname string `json:"from_nickname,omitempty"`
}

// Encrypted is a private or channel message. For channel messages ToID is the
// channel name. The broker routes on the addressing keys and never touches
// EncryptedData or Nonce.
type Encrypted struct {
	Header
	FromID        string `json:"from_id,omitempty"`
	ToID          string `json:"to_id,omitempty"`
	EncryptedData string `json:"encrypted_data,omitempty"`
	Nonce         string `json:"nonce,omitempty"`

	// Broker-originated channel announcements use these instead.
	Channel string `json:"channel,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Text    string `json:"text,omitempty"`
}

// ServerSender marks broker-originated channel announcements.
const ServerSender = "SERVER"

// JoinChannel is both the C→B join request (Password/CreatorPassword set) and
// the B→C membership fan-out (UserID/Nickname/role flags set).
type JoinChannel struct {
	Header
	Channel         string `json:"channel"`
	Password        string `json:"password,omitempty"`
	CreatorPassword string `json:"creator_password,omitempty"`

	UserID     string `json:"user_id,omitempty"`
	Nickname   string `json:"nickname,omitempty"`
	PublicKey  string `json:"public_key,omitempty"`
	IsOperator bool   `json:"is_operator,omitempty"`
	IsMod      bool   `json:"is_mod,omitempty"`
	IsOwner    bool   `json:"is_owner,omitempty"`
}

// LeaveChannel is the C→B leave request and the B→C fan-out.
type LeaveChannel struct {
	Header
	Channel  string `json:"channel"`
	UserID   string `json:"user_id,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}

// RoleChange covers op_user/unop_user/mod_user/unmod_user in both directions:
// requests carry Channel+TargetNickname; broadcasts carry the subject and the
// acting user.
type RoleChange struct {
	Header
	Channel        string `json:"channel"`
	TargetNickname string `json:"target_nickname,omitempty"`

	UserID    string `json:"user_id,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	GrantedBy string `json:"granted_by,omitempty"`
	RemovedBy string `json:"removed_by,omitempty"`
}

// OpPasswordRequest asks a client to set or verify a role password before a
// join completes or a grant takes effect.
type OpPasswordRequest struct {
	Header
	Channel   string `json:"channel"`
	Action    string `json:"action"` // "set" or "verify"
	GrantedBy string `json:"granted_by,omitempty"`
	IsMod     bool   `json:"is_mod,omitempty"`
}

// Role password actions.
const (
	OpPasswordActionSet    = "set"
	OpPasswordActionVerify = "verify"
)

// OpPasswordResponse carries the password for a pending set or verify.
type OpPasswordResponse struct {
	Header
	Channel  string `json:"channel"`
	Password string `json:"password"`
}

// KickUser is the C→B kick request and the B→target notification.
type KickUser struct {
	Header
	Channel        string `json:"channel"`
	TargetNickname string `json:"target_nickname,omitempty"`
	Reason         string `json:"reason,omitempty"`
	KickedBy       string `json:"kicked_by,omitempty"`
}

// BanUser covers ban_user/unban_user/kickban_user requests and the B→target
// notification. Duration is in seconds; zero means permanent.
type BanUser struct {
	Header
	Channel        string  `json:"channel"`
	TargetNickname string  `json:"target_nickname,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	BannedBy       string  `json:"banned_by,omitempty"`
}

// InviteUser is the C→B invite request and the B→target notification.
type InviteUser struct {
	Header
	Channel         string `json:"channel"`
	TargetNickname  string `json:"target_nickname,omitempty"`
	InviterNickname string `json:"inviter_nickname,omitempty"`
	InviterID       string `json:"inviter_id,omitempty"`
}

// InviteResponse is the target's decision, routed back through the broker.
type InviteResponse struct {
	Header
	Channel         string `json:"channel"`
	InviterNickname string `json:"inviter_nickname,omitempty"`
	Accepted        bool   `json:"accepted"`
}

// TransferOwnership reassigns a channel's owner to an existing operator.
type TransferOwnership struct {
	Header
	Channel        string `json:"channel"`
	TargetNickname string `json:"target_nickname"`
}

// SetTopic is the C→B topic request and the B→C broadcast (SetBy stamped).
type SetTopic struct {
	Header
	Channel string `json:"channel"`
	Topic   string `json:"topic"`
	SetBy   string `json:"set_by,omitempty"`
}

// SetMode toggles a channel mode flag; ModeChange broadcasts the result.
type SetMode struct {
	Header
	Channel string `json:"channel"`
	Mode    string `json:"mode"`
	Enable  bool   `json:"enable"`
	SetBy   string `json:"set_by,omitempty"`
}

// SetStatus updates the sender's presence; StatusUpdate broadcasts it.
type SetStatus struct {
	Header
	Status        string `json:"status"`
	CustomMessage string `json:"custom_message,omitempty"`
}

// StatusUpdate announces a presence change to all connected users.
type StatusUpdate struct {
	Header
	UserID        string `json:"user_id"`
	Nickname      string `json:"nickname"`
	Status        string `json:"status"`
	CustomMessage string `json:"custom_message,omitempty"`
}

// Whois requests information about a nickname.
type Whois struct {
	Header
	TargetNickname string `json:"target_nickname"`
}

// WhoisResponse answers a Whois for a connected user. Channels omits channels
// with the private mode set.
type WhoisResponse struct {
	Header
	Nickname      string   `json:"nickname"`
	UserID        string   `json:"user_id"`
	Channels      []string `json:"channels"`
	Online        bool     `json:"online"`
	Status        string   `json:"status,omitempty"`
	StatusMessage string   `json:"status_message,omitempty"`
}

// ListChannels requests the public channel directory.
type ListChannels struct {
	Header
}

// ChannelSummary is one directory entry; secret channels are omitted.
type ChannelSummary struct {
	Name      string `json:"name"`
	Users     int    `json:"users"`
	Protected bool   `json:"protected"`
	Topic     string `json:"topic"`
}

// ChannelListResponse answers a ListChannels request.
type ChannelListResponse struct {
	Header
	Channels []ChannelSummary `json:"channels"`
}

// RegisterNickname claims a nickname durably with a profile password.
type RegisterNickname struct {
	Header
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

// UpdateProfile modifies the sender's stored profile. Nil-able semantics are
// carried by pointers: absent keys leave the field untouched.
type UpdateProfile struct {
	Header
	Bio           *string `json:"bio,omitempty"`
	StatusMessage *string `json:"status_message,omitempty"`
	Avatar        *string `json:"avatar,omitempty"`
}

// GetProfile requests a stored profile by nickname.
type GetProfile struct {
	Header
	TargetNickname string `json:"target_nickname"`
}

// ProfileResponse answers a GetProfile.
type ProfileResponse struct {
	Header
	Nickname         string `json:"nickname"`
	Registered       bool   `json:"registered"`
	Bio              string `json:"bio,omitempty"`
	StatusMessage    string `json:"status_message,omitempty"`
	Avatar           string `json:"avatar,omitempty"`
	RegistrationDate string `json:"registration_date,omitempty"`
}

// ImageStart opens a chunked encrypted file transfer toward a peer.
type ImageStart struct {
	Header
	FromID            string `json:"from_id"`
	ToID              string `json:"to_id"`
	TransferID        string `json:"transfer_id"`
	TotalChunks       int    `json:"total_chunks"`
	EncryptedMetadata string `json:"encrypted_metadata"`
	Nonce             string `json:"nonce"`
}

// ImageChunk carries one AEAD-sealed chunk of a transfer.
type ImageChunk struct {
	Header
	FromID        string `json:"from_id"`
	ToID          string `json:"to_id"`
	TransferID    string `json:"transfer_id"`
	ChunkIndex    int    `json:"chunk_index"`
	EncryptedData string `json:"encrypted_data"`
	Nonce         string `json:"nonce"`
}

// ImageEnd closes a transfer; the receiver assembles on accept.
type ImageEnd struct {
	Header
	FromID     string `json:"from_id"`
	ToID       string `json:"to_id"`
	TransferID string `json:"transfer_id"`
}

// Disconnect asks the broker to close the session cleanly (C→B, no payload).
// The B→C departure broadcast carries the leaving user's identity.
type Disconnect struct {
	Header
	UserID   string `json:"user_id,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}
