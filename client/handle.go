package client

import (
	"context"
	"time"

	"github.com/justirc/justirc-go/internal/userid"
	"github.com/justirc/justirc-go/wire"
)

// pendingOp is one in-flight call waiting for the broker's reply. channel
// and prompt are set by Join so role password prompts for that channel are
// answered without surfacing.
type pendingOp struct {
	match   func(typ wire.Type, env any) bool
	channel string
	prompt  func(CredentialRequest) (string, error)
	ch      chan pendingReply
}

type pendingReply struct {
	val any
	err error
}

// call sends req and waits for the reply selected by match. Calls are
// serialized; the broker answers in request order.
func (c *Client) call(ctx context.Context, req any, p *pendingOp) (any, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	p.ch = make(chan pendingReply, 1)
	c.mu.Lock()
	c.pend = p
	c.mu.Unlock()
	clear := func() {
		c.mu.Lock()
		if c.pend == p {
			c.pend = nil
		}
		c.mu.Unlock()
	}
	if err := c.write(req); err != nil {
		clear()
		return nil, err
	}
	select {
	case r := <-p.ch:
		return r.val, r.err
	case <-ctx.Done():
		clear()
		return nil, ctx.Err()
	case <-c.closed:
		clear()
		return nil, ErrClosed
	}
}

// deliver hands env to the pending call when its matcher accepts it.
func (c *Client) deliver(typ wire.Type, env any) bool {
	c.mu.Lock()
	p := c.pend
	if p == nil || !p.match(typ, env) {
		c.mu.Unlock()
		return false
	}
	c.pend = nil
	c.mu.Unlock()
	p.ch <- pendingReply{val: env}
	return true
}

// fail resolves the pending call with an error.
func (c *Client) fail(err error) bool {
	c.mu.Lock()
	p := c.pend
	c.pend = nil
	c.mu.Unlock()
	if p == nil {
		return false
	}
	p.ch <- pendingReply{err: err}
	return true
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.events)
	for {
		frame, err := c.r.ReadFrame()
		if err != nil {
			c.finishRead(err)
			return
		}
		c.handleFrame(frame)
	}
}

// finishRead records why the stream ended and releases any waiting call.
func (c *Client) finishRead(err error) {
	select {
	case <-c.closed:
		err = nil
	default:
	}
	c.errMu.Lock()
	c.readErr = err
	c.errMu.Unlock()
	if err == nil {
		c.fail(ErrClosed)
	} else {
		c.fail(err)
	}
}

func (c *Client) handleFrame(frame []byte) {
	hdr, err := wire.DecodeHeader(frame)
	if err != nil {
		c.log.Warnf("bad frame from broker: %v", err)
		return
	}
	switch hdr.Type {
	case wire.TypeAck:
		var msg wire.Ack
		if wire.Unmarshal(frame, &msg) == nil {
			c.handleAck(&msg)
		}
	case wire.TypeError:
		var msg wire.Error
		if wire.Unmarshal(frame, &msg) == nil {
			perr := protocolError(&msg)
			if !c.fail(perr) {
				c.emit(ErrorEvent{Code: perr.Code, Message: perr.Message, RetryAfter: perr.RetryAfter})
			}
		}
	case wire.TypeUserList:
		var msg wire.UserList
		if wire.Unmarshal(frame, &msg) == nil {
			c.handleUserList(&msg)
		}
	case wire.TypePublicKeyResponse:
		var msg wire.PublicKeyResponse
		if wire.Unmarshal(frame, &msg) == nil {
			c.mu.Lock()
			c.upsertPeerLocked(msg.UserID, msg.Nickname, msg.PublicKey, true)
			c.mu.Unlock()
			c.deliver(hdr.Type, &msg)
		}
	case wire.TypePrivateMessage:
		var msg wire.Encrypted
		if wire.Unmarshal(frame, &msg) == nil {
			c.handlePrivate(&msg)
		}
	case wire.TypeChannelMessage:
		var msg wire.Encrypted
		if wire.Unmarshal(frame, &msg) == nil {
			c.handleChannelMessage(&msg)
		}
	case wire.TypeRekeyRequest, wire.TypeRekeyResponse:
		var msg wire.Rekey
		if wire.Unmarshal(frame, &msg) == nil {
			c.handleRekey(hdr.Type, &msg)
		}
	case wire.TypeJoinChannel:
		var msg wire.JoinChannel
		if wire.Unmarshal(frame, &msg) == nil {
			c.handleJoinFanout(&msg)
		}
	case wire.TypeLeaveChannel:
		var msg wire.LeaveChannel
		if wire.Unmarshal(frame, &msg) == nil {
			c.handleLeaveFanout(&msg)
		}
	case wire.TypeOpUser, wire.TypeUnopUser, wire.TypeModUser, wire.TypeUnmodUser:
		var msg wire.RoleChange
		if wire.Unmarshal(frame, &msg) == nil {
			c.handleRoleChange(hdr.Type, &msg)
		}
	case wire.TypeOpPasswordRequest:
		var msg wire.OpPasswordRequest
		if wire.Unmarshal(frame, &msg) == nil {
			c.handleCredentialPrompt(&msg)
		}
	case wire.TypeKickUser:
		var msg wire.KickUser
		if wire.Unmarshal(frame, &msg) == nil {
			c.dropChannel(msg.Channel)
			c.emit(KickedEvent{Channel: msg.Channel, By: msg.KickedBy, Reason: msg.Reason})
		}
	case wire.TypeBanUser, wire.TypeKickbanUser:
		var msg wire.BanUser
		if wire.Unmarshal(frame, &msg) == nil {
			c.dropChannel(msg.Channel)
			c.emit(BannedEvent{
				Channel:  msg.Channel,
				By:       msg.BannedBy,
				Reason:   msg.Reason,
				Duration: time.Duration(msg.Duration * float64(time.Second)),
			})
		}
	case wire.TypeInviteUser:
		var msg wire.InviteUser
		if wire.Unmarshal(frame, &msg) == nil {
			c.emit(InviteEvent{Channel: msg.Channel, Inviter: msg.InviterNickname, InviterID: msg.InviterID})
		}
	case wire.TypeSetTopic:
		var msg wire.SetTopic
		if wire.Unmarshal(frame, &msg) == nil {
			c.mu.Lock()
			if st := c.channels[msg.Channel]; st != nil {
				st.topic = msg.Topic
			}
			c.mu.Unlock()
			c.emit(TopicEvent{Channel: msg.Channel, Topic: msg.Topic, By: msg.SetBy})
		}
	case wire.TypeModeChange:
		var msg wire.SetMode
		if wire.Unmarshal(frame, &msg) == nil {
			c.emit(ModeEvent{Channel: msg.Channel, Mode: msg.Mode, Enabled: msg.Enable, By: msg.SetBy})
		}
	case wire.TypeStatusUpdate:
		var msg wire.StatusUpdate
		if wire.Unmarshal(frame, &msg) == nil {
			c.mu.Lock()
			if p := c.peers[msg.UserID]; p != nil {
				p.Status = msg.Status
				p.StatusMessage = msg.CustomMessage
			}
			c.mu.Unlock()
			c.emit(PresenceEvent{UserID: msg.UserID, Nickname: msg.Nickname, Status: msg.Status, Message: msg.CustomMessage})
		}
	case wire.TypeWhoisResponse:
		var msg wire.WhoisResponse
		if wire.Unmarshal(frame, &msg) == nil {
			c.deliver(hdr.Type, &msg)
		}
	case wire.TypeChannelListResponse:
		var msg wire.ChannelListResponse
		if wire.Unmarshal(frame, &msg) == nil {
			c.deliver(hdr.Type, &msg)
		}
	case wire.TypeProfileResponse:
		var msg wire.ProfileResponse
		if wire.Unmarshal(frame, &msg) == nil {
			c.deliver(hdr.Type, &msg)
		}
	case wire.TypeDisconnect:
		var msg wire.Disconnect
		if wire.Unmarshal(frame, &msg) == nil {
			c.handlePeerDisconnect(&msg)
		}
	case wire.TypeImageStart:
		var msg wire.ImageStart
		if wire.Unmarshal(frame, &msg) == nil {
			c.handleImageStart(&msg)
		}
	case wire.TypeImageChunk:
		var msg wire.ImageChunk
		if wire.Unmarshal(frame, &msg) == nil {
			c.handleImageChunk(&msg)
		}
	case wire.TypeImageEnd:
		var msg wire.ImageEnd
		if wire.Unmarshal(frame, &msg) == nil {
			c.handleImageEnd(&msg)
		}
	default:
		c.log.Debugf("ignoring %s envelope", hdr.Type)
	}
}

// handleAck classifies an ack. Join completions carry the channel key;
// targeted ownership acks carry the owner flag without one. Everything
// else resolves the pending call or surfaces as an AckEvent.
func (c *Client) handleAck(msg *wire.Ack) {
	switch {
	case msg.Channel != "" && msg.ChannelKey != "":
		c.applyJoin(msg)
	case msg.Channel != "" && msg.IsOwner:
		c.mu.Lock()
		if st := c.channels[msg.Channel]; st != nil {
			st.owner = true
			st.operator = true
			if m, ok := st.members[c.userID]; ok {
				m.IsOwner = true
				st.members[c.userID] = m
			}
		}
		c.mu.Unlock()
		c.emit(OwnershipEvent{Channel: msg.Channel})
	default:
		if !c.deliver(wire.TypeAck, msg) {
			c.emit(AckEvent{Message: msg.Message})
		}
	}
}

// applyJoin installs the channel state and key from a join ack and either
// resolves the waiting Join or emits ChannelJoinedEvent.
func (c *Client) applyJoin(msg *wire.Ack) {
	if err := c.keys.LoadChannelKey(msg.Channel, msg.ChannelKey); err != nil {
		c.log.Warnf("bad channel key for %s: %v", msg.Channel, err)
	}
	c.mu.Lock()
	st := &channelState{
		topic:     msg.Topic,
		protected: msg.IsProtected,
		operator:  msg.IsOperator,
		owner:     msg.IsOwner,
		members:   make(map[string]wire.MemberInfo, len(msg.Members)),
	}
	for _, m := range msg.Members {
		st.members[m.UserID] = m
		c.upsertPeerLocked(m.UserID, m.Nickname, m.PublicKey, true)
	}
	c.channels[msg.Channel] = st
	info := c.channelInfoLocked(msg.Channel, st)
	c.mu.Unlock()

	if !c.deliver(wire.TypeAck, info) {
		c.emit(ChannelJoinedEvent{Info: info})
	}
}

func (c *Client) handleUserList(msg *wire.UserList) {
	users := make([]Peer, 0, len(msg.Users))
	c.mu.Lock()
	for _, u := range msg.Users {
		c.upsertPeerLocked(u.UserID, u.Nickname, u.PublicKey, true)
		if p := c.peers[u.UserID]; p != nil {
			if u.Status != "" {
				p.Status = u.Status
			}
			p.StatusMessage = u.StatusMessage
			users = append(users, *p)
		}
	}
	c.mu.Unlock()
	c.emit(RosterEvent{Users: users})
}

func (c *Client) handlePrivate(msg *wire.Encrypted) {
	plain, err := c.keys.DecryptFrom(msg.FromID, msg.EncryptedData, msg.Nonce)
	if err != nil {
		c.log.Warnf("discarding undecryptable message from %s: %v", msg.FromID, err)
		return
	}
	c.emit(MessageEvent{
		FromID: msg.FromID,
		From:   c.nickOf(msg.FromID),
		Text:   string(plain),
		Time:   wireTime(msg.Timestamp),
	})
}

func (c *Client) handleChannelMessage(msg *wire.Encrypted) {
	if msg.Sender == wire.ServerSender {
		c.emit(NoticeEvent{Channel: msg.Channel, Text: msg.Text})
		return
	}
	name := msg.ToID
	plain, err := c.keys.DecryptChannel(name, msg.EncryptedData, msg.Nonce)
	if err != nil {
		c.log.Warnf("discarding undecryptable message in %s: %v", name, err)
		return
	}
	c.emit(MessageEvent{
		FromID:  msg.FromID,
		From:    c.nickOf(msg.FromID),
		Channel: name,
		Text:    string(plain),
		Time:    wireTime(msg.Timestamp),
	})
}

func (c *Client) handleRekey(typ wire.Type, msg *wire.Rekey) {
	c.mu.Lock()
	c.upsertPeerLocked(msg.FromID, msg.FromNickname, msg.NewPublicKey, true)
	c.mu.Unlock()
	if typ == wire.TypeRekeyRequest {
		err := c.write(wire.Rekey{
			Header:       wire.NewHeader(wire.TypeRekeyResponse),
			FromID:       c.userID,
			ToID:         msg.FromID,
			NewPublicKey: c.keys.PublicKeyBase64(),
		})
		if err != nil {
			c.log.Warnf("rekey response to %s: %v", msg.FromID, err)
		}
	}
	c.emit(PeerRekeyedEvent{UserID: msg.FromID, Nickname: c.nickOf(msg.FromID)})
}

func (c *Client) handleJoinFanout(msg *wire.JoinChannel) {
	member := wire.MemberInfo{
		UserID:     msg.UserID,
		Nickname:   msg.Nickname,
		PublicKey:  msg.PublicKey,
		IsOperator: msg.IsOperator,
		IsMod:      msg.IsMod,
		IsOwner:    msg.IsOwner,
	}
	c.mu.Lock()
	c.upsertPeerLocked(msg.UserID, msg.Nickname, msg.PublicKey, true)
	if st := c.channels[msg.Channel]; st != nil {
		st.members[msg.UserID] = member
	}
	c.mu.Unlock()
	c.emit(UserJoinedEvent{Channel: msg.Channel, Member: member})
}

func (c *Client) handleLeaveFanout(msg *wire.LeaveChannel) {
	c.mu.Lock()
	if st := c.channels[msg.Channel]; st != nil {
		delete(st.members, msg.UserID)
	}
	c.mu.Unlock()
	c.emit(UserLeftEvent{Channel: msg.Channel, UserID: msg.UserID, Nickname: msg.Nickname})
}

func (c *Client) handleRoleChange(typ wire.Type, msg *wire.RoleChange) {
	granted := typ == wire.TypeOpUser || typ == wire.TypeModUser
	mod := typ == wire.TypeModUser || typ == wire.TypeUnmodUser
	by := msg.GrantedBy
	if by == "" {
		by = msg.RemovedBy
	}
	c.mu.Lock()
	if st := c.channels[msg.Channel]; st != nil {
		if m, ok := st.members[msg.UserID]; ok {
			if mod {
				m.IsMod = granted
			} else {
				m.IsOperator = granted
			}
			st.members[msg.UserID] = m
		}
		if msg.UserID == c.userID && !mod {
			st.operator = granted
		}
	}
	c.mu.Unlock()
	c.emit(RoleEvent{
		Channel:  msg.Channel,
		UserID:   msg.UserID,
		Nickname: msg.Nickname,
		By:       by,
		Mod:      mod,
		Granted:  granted,
	})
}

// handleCredentialPrompt answers a role password prompt: a Join in flight
// for the channel supplies its own answer, then the configured callback,
// and with neither the prompt surfaces as an event (failing the Join,
// which cannot complete without an answer).
func (c *Client) handleCredentialPrompt(msg *wire.OpPasswordRequest) {
	req := CredentialRequest{
		Channel:   msg.Channel,
		Action:    msg.Action,
		GrantedBy: msg.GrantedBy,
		Mod:       msg.IsMod,
	}
	c.mu.Lock()
	p := c.pend
	var prompt func(CredentialRequest) (string, error)
	joining := p != nil && p.channel == msg.Channel
	if joining {
		prompt = p.prompt
	}
	c.mu.Unlock()

	if prompt == nil {
		prompt = c.cfg.credentials
	}
	if prompt == nil {
		if joining {
			c.fail(ErrCredentialRequired)
		}
		c.emit(CredentialEvent{Request: req})
		return
	}
	password, err := prompt(req)
	if err != nil {
		if joining {
			c.fail(err)
		} else {
			c.log.Warnf("credential callback for %s: %v", msg.Channel, err)
		}
		return
	}
	if err := c.RespondCredential(msg.Channel, password); err != nil {
		c.log.Warnf("credential reply for %s: %v", msg.Channel, err)
	}
}

func (c *Client) handlePeerDisconnect(msg *wire.Disconnect) {
	c.mu.Lock()
	if p := c.peers[msg.UserID]; p != nil {
		p.Online = false
	}
	for _, st := range c.channels {
		delete(st.members, msg.UserID)
	}
	c.mu.Unlock()
	c.emit(DisconnectedEvent{UserID: msg.UserID, Nickname: msg.Nickname})
}

func (c *Client) dropChannel(name string) {
	c.mu.Lock()
	delete(c.channels, name)
	c.mu.Unlock()
}

// nickOf resolves a user id to the cached nickname, falling back to the
// nickname embedded in the id.
func (c *Client) nickOf(uid string) string {
	c.mu.Lock()
	p := c.peers[uid]
	c.mu.Unlock()
	if p != nil && p.Nickname != "" {
		return p.Nickname
	}
	if nick, ok := userid.Nickname(uid); ok {
		return nick
	}
	return uid
}

func wireTime(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ts*float64(time.Second)))
}
