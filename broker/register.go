package broker

import (
	"errors"
	"fmt"
	"sort"

	"github.com/justirc/justirc-go/internal/userid"
	"github.com/justirc/justirc-go/ircerrors"
	"github.com/justirc/justirc-go/observability"
	"github.com/justirc/justirc-go/profiles"
	"github.com/justirc/justirc-go/wire"
)

// handleRegister admits a nickname onto the roster. On success the reply
// order is fixed: ack, any queued offline messages, the delivery ack, then
// the full user list. All of it is enqueued before the roster lock drops so
// no live traffic can slip in front of the queued messages.
func (s *Server) handleRegister(sess *session, frame []byte) {
	var msg wire.Register
	if !s.decode(sess, frame, &msg) {
		return
	}
	if sess.userID != "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeProtocol, "Already registered as %s", sess.nickname))
		return
	}
	if msg.Nickname == "" || msg.PublicKey == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing nickname or public_key"))
		return
	}
	if err := userid.ValidateNickname(msg.Nickname); err != nil {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidNickname, "Invalid nickname: %v", err))
		return
	}
	s.mu.Lock()
	_, taken := s.nicknames[msg.Nickname]
	s.mu.Unlock()
	if taken {
		s.sendError(sess, ircerrors.E(ircerrors.CodeNicknameInUse, "Nickname %s already taken", msg.Nickname))
		return
	}
	var token string
	if s.accounts != nil {
		tok, err := s.accounts.Admit(msg.Nickname, msg.Password, msg.SessionToken)
		if err != nil {
			s.obs.Auth(authOutcomeOf(err))
			s.sendError(sess, admitError(msg.Nickname, err))
			return
		}
		token = tok
		s.obs.Auth(observability.AuthOutcomeOK)
	}
	uid := userid.FromNickname(msg.Nickname)

	var sent []delivery
	s.mu.Lock()
	if _, taken := s.nicknames[msg.Nickname]; taken {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNicknameInUse, "Nickname %s already taken", msg.Nickname))
		return
	}
	sess.userID = uid
	sess.nickname = msg.Nickname
	sess.publicKey = msg.PublicKey
	s.sessions[uid] = sess
	s.nicknames[msg.Nickname] = uid

	welcome := wire.Ack{
		Header:       wire.NewHeader(wire.TypeAck),
		Success:      true,
		UserID:       uid,
		Message:      fmt.Sprintf("Welcome %s!", msg.Nickname),
		Description:  s.cfg.Description,
		SessionToken: token,
	}
	s.enqueueLocked(sess, wire.TypeAck, welcome, &sent)
	// The roster precedes queued traffic so the client holds the senders'
	// keys before it decrypts anything held over from their offline spell.
	roster := make([]wire.UserInfo, 0, len(s.sessions))
	for _, other := range s.sessions {
		roster = append(roster, userInfoLocked(other))
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Nickname < roster[j].Nickname })
	s.enqueueLocked(sess, wire.TypeUserList, wire.UserList{Header: wire.NewHeader(wire.TypeUserList), Users: roster}, &sent)
	queued := s.queue.DequeueAll(uid)
	for _, m := range queued {
		if sess.enqueueFrame(m.Envelope) == nil {
			sent = append(sent, delivery{to: sess, typ: wire.Type(m.MessageType), frame: m.Envelope})
		}
	}
	if len(queued) > 0 {
		s.enqueueLocked(sess, wire.TypeAck, ack(fmt.Sprintf("Delivered %d queued message(s)", len(queued))), &sent)
	}
	others := make([]*session, 0, len(s.sessions)-1)
	for _, other := range s.sessions {
		if other != sess {
			others = append(others, other)
		}
	}
	appeared := wire.UserList{Header: wire.NewHeader(wire.TypeUserList), Users: []wire.UserInfo{userInfoLocked(sess)}}
	s.mu.Unlock()

	s.finish(sent)
	s.obs.SessionRegistered()
	if n := len(queued); n > 0 {
		s.obs.QueueDelivered(n)
	}
	s.perf.register(uid)
	announce, err := wire.Marshal(appeared)
	if err == nil {
		for _, other := range others {
			s.deliver(other, wire.TypeUserList, announce)
		}
	}
	s.log.Infof("%s registered as %s from %s", uid, msg.Nickname, sess.remote)
}

func userInfoLocked(sess *session) wire.UserInfo {
	return wire.UserInfo{
		UserID:        sess.userID,
		Nickname:      sess.nickname,
		PublicKey:     sess.publicKey,
		Status:        sess.status,
		StatusMessage: sess.statusMsg,
	}
}

func admitError(nickname string, err error) error {
	switch {
	case errors.Is(err, profiles.ErrAuthRequired):
		return ircerrors.E(ircerrors.CodeAuthRequired, "Authentication required for %s", nickname)
	case errors.Is(err, profiles.ErrLocked):
		return ircerrors.E(ircerrors.CodeAccountLocked, "Account temporarily locked. Try again later.")
	case errors.Is(err, profiles.ErrDisabled):
		return ircerrors.E(ircerrors.CodeAuthFailed, "Account is disabled")
	default:
		return ircerrors.E(ircerrors.CodeAuthFailed, "Invalid username or password")
	}
}

func authOutcomeOf(err error) observability.AuthOutcome {
	switch {
	case errors.Is(err, profiles.ErrAuthRequired):
		return observability.AuthOutcomeRequired
	case errors.Is(err, profiles.ErrLocked):
		return observability.AuthOutcomeLocked
	case errors.Is(err, profiles.ErrDisabled):
		return observability.AuthOutcomeDisabled
	default:
		return observability.AuthOutcomeBadCredentials
	}
}

// handleDisconnect answers a clean quit. Cleanup runs once the read loop
// unwinds.
func (s *Server) handleDisconnect(sess *session) {
	sess.close(observability.CloseReasonQuit)
}

// cleanupSession tears down a departing session: membership, live roles and
// pending slots go away, ex-channelmates get leave_channel, everyone else a
// disconnect notice. Durable role credentials survive for the next visit.
func (s *Server) cleanupSession(sess *session) {
	s.mu.Lock()
	if sess.userID == "" || s.sessions[sess.userID] != sess {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess.userID)
	delete(s.nicknames, sess.nickname)
	var outs []delivery
	left := 0
	mates := make(map[string]struct{})
	for name := range sess.channels {
		lc := s.channels[name]
		if lc == nil {
			continue
		}
		delete(lc.members, sess.userID)
		delete(lc.operators, sess.userID)
		delete(lc.mods, sess.userID)
		s.routes.invalidate(name)
		left++
		if len(lc.members) == 0 {
			delete(s.channels, name)
			continue
		}
		leave, err := wire.Marshal(wire.LeaveChannel{
			Header:   wire.NewHeader(wire.TypeLeaveChannel),
			Channel:  name,
			UserID:   sess.userID,
			Nickname: sess.nickname,
		})
		if err != nil {
			continue
		}
		for id, m := range lc.members {
			mates[id] = struct{}{}
			outs = append(outs, delivery{to: m, typ: wire.TypeLeaveChannel, frame: leave})
		}
	}
	gone, err := wire.Marshal(wire.Disconnect{
		Header:   wire.NewHeader(wire.TypeDisconnect),
		UserID:   sess.userID,
		Nickname: sess.nickname,
	})
	if err == nil {
		for id, other := range s.sessions {
			if _, shared := mates[id]; !shared {
				outs = append(outs, delivery{to: other, typ: wire.TypeDisconnect, frame: gone})
			}
		}
	}
	channels := len(s.channels)
	s.mu.Unlock()

	for _, d := range outs {
		s.deliver(d.to, d.typ, d.frame)
	}
	for i := 0; i < left; i++ {
		s.obs.ChannelLeft()
	}
	s.obs.ChannelCount(channels)
	s.profiles.TouchLastSeen(sess.nickname)
	s.msgLim.Forget(sess.userID)
	s.chunkLim.Forget(sess.userID)
	s.perf.unregister(sess.userID)
	s.log.Infof("%s disconnected (%s)", sess.nickname, sess.closeReason())
}

func (s *Server) handlePublicKeyRequest(sess *session, frame []byte) {
	var msg wire.PublicKeyRequest
	if !s.decode(sess, frame, &msg) {
		return
	}
	if msg.TargetNickname == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing target nickname"))
		return
	}
	s.mu.Lock()
	var target *session
	if uid, ok := s.nicknames[msg.TargetNickname]; ok {
		target = s.sessions[uid]
	}
	s.mu.Unlock()
	if target == nil {
		if s.profiles.IsRegistered(msg.TargetNickname) {
			s.reject(sess, observability.DropReasonUnknownRecipient,
				ircerrors.E(ircerrors.CodeUserOffline, "User %s is offline", msg.TargetNickname))
		} else {
			s.reject(sess, observability.DropReasonUnknownRecipient,
				ircerrors.E(ircerrors.CodeUnknownUser, "User %s not found", msg.TargetNickname))
		}
		return
	}
	s.send(sess, wire.TypePublicKeyResponse, wire.PublicKeyResponse{
		Header:    wire.NewHeader(wire.TypePublicKeyResponse),
		UserID:    target.userID,
		Nickname:  target.nickname,
		PublicKey: target.publicKey,
	})
}

// handleWhois reports a user's identity and visible channels. Offline but
// registered nicknames answer with online set false, so "offline" and
// "never existed" stay distinguishable.
func (s *Server) handleWhois(sess *session, frame []byte) {
	var msg wire.Whois
	if !s.decode(sess, frame, &msg) {
		return
	}
	if msg.TargetNickname == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing target nickname"))
		return
	}
	s.mu.Lock()
	var target *session
	if uid, ok := s.nicknames[msg.TargetNickname]; ok {
		target = s.sessions[uid]
	}
	var channels []string
	var status, statusMsg string
	if target != nil {
		for name := range target.channels {
			if s.store.HasMode(name, wire.ModePrivate) {
				continue
			}
			channels = append(channels, name)
		}
		sort.Strings(channels)
		status, statusMsg = target.status, target.statusMsg
	}
	s.mu.Unlock()
	if target != nil {
		s.send(sess, wire.TypeWhoisResponse, wire.WhoisResponse{
			Header:        wire.NewHeader(wire.TypeWhoisResponse),
			Nickname:      target.nickname,
			UserID:        target.userID,
			Channels:      channels,
			Online:        true,
			Status:        status,
			StatusMessage: statusMsg,
		})
		return
	}
	if s.profiles.IsRegistered(msg.TargetNickname) {
		s.send(sess, wire.TypeWhoisResponse, wire.WhoisResponse{
			Header:   wire.NewHeader(wire.TypeWhoisResponse),
			Nickname: msg.TargetNickname,
			UserID:   userid.FromNickname(msg.TargetNickname),
			Channels: []string{},
			Online:   false,
		})
		return
	}
	s.reject(sess, observability.DropReasonUnknownRecipient,
		ircerrors.E(ircerrors.CodeUnknownUser, "User %s not found", msg.TargetNickname))
}

// handleListChannels returns the channel directory. Channels with the
// secret mode are omitted; member counts reflect live membership only.
func (s *Server) handleListChannels(sess *session) {
	names := s.store.Names()
	sort.Strings(names)
	s.mu.Lock()
	summaries := make([]wire.ChannelSummary, 0, len(names))
	for _, name := range names {
		if s.store.HasMode(name, wire.ModeSecret) {
			continue
		}
		users := 0
		if lc := s.channels[name]; lc != nil {
			users = len(lc.members)
		}
		summaries = append(summaries, wire.ChannelSummary{
			Name:      name,
			Users:     users,
			Protected: s.store.IsProtected(name),
			Topic:     s.store.Topic(name),
		})
	}
	s.mu.Unlock()
	s.send(sess, wire.TypeChannelListResponse, wire.ChannelListResponse{
		Header:   wire.NewHeader(wire.TypeChannelListResponse),
		Channels: summaries,
	})
}

func (s *Server) handleSetStatus(sess *session, frame []byte) {
	var msg wire.SetStatus
	if !s.decode(sess, frame, &msg) {
		return
	}
	if !wire.ValidStatus(msg.Status) {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Invalid status: %s", msg.Status))
		return
	}
	if err := wire.CheckLen("custom_message", msg.CustomMessage, wire.MaxStatusChars); err != nil {
		s.reject(sess, observability.DropReasonFieldTooLong, ircerrors.E(ircerrors.CodeInvalidInput, "%v", err))
		return
	}
	s.mu.Lock()
	sess.status = msg.Status
	sess.statusMsg = msg.CustomMessage
	others := make([]*session, 0, len(s.sessions)-1)
	for _, other := range s.sessions {
		if other != sess {
			others = append(others, other)
		}
	}
	s.mu.Unlock()
	s.send(sess, wire.TypeAck, ack("Status updated"))
	update, err := wire.Marshal(wire.StatusUpdate{
		Header:        wire.NewHeader(wire.TypeStatusUpdate),
		UserID:        sess.userID,
		Nickname:      sess.nickname,
		Status:        msg.Status,
		CustomMessage: msg.CustomMessage,
	})
	if err != nil {
		return
	}
	for _, other := range others {
		s.deliver(other, wire.TypeStatusUpdate, update)
	}
}

// handleRegisterNickname claims the sender's nickname durably. With the
// account layer enabled the same credentials open an account so the
// nickname is enforceable at registration time.
func (s *Server) handleRegisterNickname(sess *session, frame []byte) {
	var msg wire.RegisterNickname
	if !s.decode(sess, frame, &msg) {
		return
	}
	if msg.Nickname != "" && msg.Nickname != sess.nickname {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "You can only register your own nickname"))
		return
	}
	if err := s.profiles.Register(sess.nickname, msg.Password); err != nil {
		switch {
		case errors.Is(err, profiles.ErrExists):
			s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Nickname %s is already registered", sess.nickname))
		case errors.Is(err, profiles.ErrWeakPassword):
			s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "%v", err))
		default:
			s.sendError(sess, ircerrors.Wrap(ircerrors.CodeInternal, "registration failed", err))
		}
		return
	}
	if s.accounts != nil {
		if err := s.accounts.Create(sess.nickname, msg.Password, ""); err != nil && !errors.Is(err, profiles.ErrExists) {
			s.log.Warnf("account create for %s: %v", sess.nickname, err)
		}
	}
	s.send(sess, wire.TypeAck, ack(fmt.Sprintf("Nickname %s registered", sess.nickname)))
}

func (s *Server) handleUpdateProfile(sess *session, frame []byte) {
	var msg wire.UpdateProfile
	if !s.decode(sess, frame, &msg) {
		return
	}
	if err := s.profiles.Update(sess.nickname, msg.Bio, msg.StatusMessage, msg.Avatar); err != nil {
		s.reject(sess, observability.DropReasonFieldTooLong, ircerrors.E(ircerrors.CodeInvalidInput, "%v", err))
		return
	}
	s.send(sess, wire.TypeAck, ack("Profile updated"))
}

func (s *Server) handleGetProfile(sess *session, frame []byte) {
	var msg wire.GetProfile
	if !s.decode(sess, frame, &msg) {
		return
	}
	if msg.TargetNickname == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing target nickname"))
		return
	}
	if p, ok := s.profiles.Get(msg.TargetNickname); ok {
		s.send(sess, wire.TypeProfileResponse, wire.ProfileResponse{
			Header:           wire.NewHeader(wire.TypeProfileResponse),
			Nickname:         p.Nickname,
			Registered:       p.Registered,
			Bio:              p.Bio,
			StatusMessage:    p.StatusMessage,
			Avatar:           p.Avatar,
			RegistrationDate: p.RegistrationDate,
		})
		return
	}
	s.mu.Lock()
	_, online := s.nicknames[msg.TargetNickname]
	s.mu.Unlock()
	if online {
		s.send(sess, wire.TypeProfileResponse, wire.ProfileResponse{
			Header:   wire.NewHeader(wire.TypeProfileResponse),
			Nickname: msg.TargetNickname,
		})
		return
	}
	s.reject(sess, observability.DropReasonUnknownRecipient,
		ircerrors.E(ircerrors.CodeUnknownUser, "User %s not found", msg.TargetNickname))
}
