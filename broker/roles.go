package broker

import (
	"fmt"

	"github.com/justirc/justirc-go/channelstore"
	"github.com/justirc/justirc-go/internal/channelname"
	"github.com/justirc/justirc-go/internal/userid"
	"github.com/justirc/justirc-go/ircerrors"
	"github.com/justirc/justirc-go/observability"
	"github.com/justirc/justirc-go/wire"
)

// Privilege levels within a channel. Ownership is durable (channel store);
// operator and moderator standing is live session state re-proven on join.
const (
	privNone = iota
	privMod
	privOp
	privOwner
)

// privilegeLocked resolves uid's standing in name. Callers hold s.mu.
func (s *Server) privilegeLocked(lc *liveChannel, name, uid string) int {
	if s.store.Owner(name) == uid {
		return privOwner
	}
	if lc != nil {
		if _, ok := lc.operators[uid]; ok {
			return privOp
		}
		if _, ok := lc.mods[uid]; ok {
			return privMod
		}
	}
	return privNone
}

func serverNotice(channel, text string) wire.Encrypted {
	return wire.Encrypted{
		Header:  wire.NewHeader(wire.TypeChannelMessage),
		Channel: channel,
		Sender:  wire.ServerSender,
		Text:    text,
	}
}

// noticeLocked fans a broker announcement out to every member except skip.
func (s *Server) noticeLocked(lc *liveChannel, channel, text string, skip map[string]struct{}, sent *[]delivery) {
	frame, err := wire.Marshal(serverNotice(channel, text))
	if err != nil {
		return
	}
	for id, m := range lc.members {
		if _, skipped := skip[id]; skipped {
			continue
		}
		if m.enqueueFrame(frame) == nil {
			*sent = append(*sent, delivery{to: m, typ: wire.TypeChannelMessage, frame: frame})
		}
	}
}

func (s *Server) handleRoleChange(sess *session, frame []byte, typ wire.Type) {
	var msg wire.RoleChange
	if !s.decode(sess, frame, &msg) {
		return
	}
	if msg.TargetNickname == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing target nickname"))
		return
	}
	name := channelname.Normalize(msg.Channel)
	switch typ {
	case wire.TypeOpUser:
		s.grantRole(sess, name, msg.TargetNickname, false)
	case wire.TypeModUser:
		s.grantRole(sess, name, msg.TargetNickname, true)
	case wire.TypeUnopUser:
		s.revokeRole(sess, name, msg.TargetNickname, false)
	case wire.TypeUnmodUser:
		s.revokeRole(sess, name, msg.TargetNickname, true)
	}
}

// grantRole starts a two-phase role grant: the target is asked to set a role
// password, and the promotion lands when the password arrives. Operator
// grants are the owner's alone; moderator grants take an operator.
func (s *Server) grantRole(sess *session, name, target string, isMod bool) {
	var sent []delivery
	s.mu.Lock()
	lc := s.channels[name]
	if lc == nil {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownChannel, "Channel %s not found", name))
		return
	}
	priv := s.privilegeLocked(lc, name, sess.userID)
	if !isMod && priv < privOwner {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotOwner, "Only the channel owner can grant operator status"))
		return
	}
	if isMod && priv < privOp {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotOperator, "You are not an operator in this channel"))
		return
	}
	uid, live := s.nicknames[target]
	tsess := s.sessions[uid]
	if !live || tsess == nil {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeUserOffline, "User %s is offline", target))
		return
	}
	if _, member := lc.members[uid]; !member {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "%s is not in channel %s", target, name))
		return
	}
	if _, op := lc.operators[uid]; op && !isMod {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "%s is already an operator in %s", target, name))
		return
	}
	if _, mod := lc.mods[uid]; mod && isMod {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "%s is already a moderator in %s", target, name))
		return
	}
	tsess.pendGrant = &pendingGrant{
		channel:     name,
		grantorID:   sess.userID,
		grantorNick: sess.nickname,
		isMod:       isMod,
	}
	tsess.pendAuth = nil
	s.enqueueLocked(tsess, wire.TypeOpPasswordRequest, wire.OpPasswordRequest{
		Header:    wire.NewHeader(wire.TypeOpPasswordRequest),
		Channel:   name,
		Action:    wire.OpPasswordActionSet,
		GrantedBy: sess.nickname,
		IsMod:     isMod,
	}, &sent)
	what := "Operator"
	if isMod {
		what = "Moderator"
	}
	s.enqueueLocked(sess, wire.TypeAck, ack(fmt.Sprintf("%s password request sent to %s", what, target)), &sent)
	s.mu.Unlock()
	s.finish(sent)
}

// revokeRole removes a durable role credential. It works on offline targets:
// the uid is derived from the nickname, so nobody dodges a demotion by
// disconnecting.
func (s *Server) revokeRole(sess *session, name, target string, isMod bool) {
	if !s.store.Exists(name) {
		s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownChannel, "Channel %s not found", name))
		return
	}
	uid := userid.FromNickname(target)
	want := channelstore.RoleOperator
	if isMod {
		want = channelstore.RoleMod
	}

	var sent []delivery
	s.mu.Lock()
	lc := s.channels[name]
	priv := s.privilegeLocked(lc, name, sess.userID)
	if !isMod && priv < privOwner {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotOwner, "Only the channel owner can remove operator status"))
		return
	}
	if isMod && priv < privOp {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotOperator, "You are not an operator in this channel"))
		return
	}
	cred, ok := s.store.Credential(name, uid)
	hadLive := false
	if lc != nil {
		if isMod {
			_, hadLive = lc.mods[uid]
		} else {
			_, hadLive = lc.operators[uid]
		}
	}
	if (!ok || cred.Role != want) && !hadLive {
		s.mu.Unlock()
		if isMod {
			s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "%s is not a moderator in %s", target, name))
		} else {
			s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "%s is not an operator in %s", target, name))
		}
		return
	}
	s.store.DeleteCredential(name, uid)
	if lc != nil {
		if isMod {
			delete(lc.mods, uid)
		} else {
			delete(lc.operators, uid)
		}
	}
	typ := wire.TypeUnopUser
	noun := "an operator"
	if isMod {
		typ = wire.TypeUnmodUser
		noun = "a moderator"
	}
	if lc != nil {
		change := wire.RoleChange{
			Header:    wire.NewHeader(typ),
			Channel:   name,
			UserID:    uid,
			Nickname:  target,
			RemovedBy: sess.nickname,
		}
		if frame, err := wire.Marshal(change); err == nil {
			for id, m := range lc.members {
				if id == sess.userID {
					continue
				}
				if m.enqueueFrame(frame) == nil {
					sent = append(sent, delivery{to: m, typ: typ, frame: frame})
				}
			}
		}
	}
	s.enqueueLocked(sess, wire.TypeAck, ack(fmt.Sprintf("%s is no longer %s in %s", target, noun, name)), &sent)
	s.mu.Unlock()
	s.finish(sent)
}

func (s *Server) handleKick(sess *session, frame []byte) {
	var msg wire.KickUser
	if !s.decode(sess, frame, &msg) {
		return
	}
	if msg.Channel == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing channel"))
		return
	}
	if msg.TargetNickname == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing target nickname"))
		return
	}
	name := channelname.Normalize(msg.Channel)
	reason := msg.Reason
	if reason == "" {
		reason = "No reason given"
	}

	var sent []delivery
	s.mu.Lock()
	lc := s.channels[name]
	if lc == nil {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownChannel, "Channel %s not found", name))
		return
	}
	priv := s.privilegeLocked(lc, name, sess.userID)
	if priv < privMod {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotOperator, "You do not have permission to kick users in this channel"))
		return
	}
	uid, live := s.nicknames[msg.TargetNickname]
	tsess := s.sessions[uid]
	if !live || tsess == nil {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownUser, "%s is not in channel %s", msg.TargetNickname, name))
		return
	}
	if _, member := lc.members[uid]; !member {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "%s is not in channel %s", msg.TargetNickname, name))
		return
	}
	if uid == sess.userID {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "You cannot kick yourself"))
		return
	}
	if uid == s.store.Owner(name) {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "You cannot kick the channel owner"))
		return
	}
	if _, targetOp := lc.operators[uid]; targetOp && priv < privOp {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotOperator, "Moderators cannot kick operators"))
		return
	}

	// Kick strips membership only; any stored role credential survives for
	// the next join.
	delete(lc.members, uid)
	delete(lc.operators, uid)
	delete(lc.mods, uid)
	delete(tsess.channels, name)
	s.routes.invalidate(name)
	s.enqueueLocked(tsess, wire.TypeKickUser, wire.KickUser{
		Header:   wire.NewHeader(wire.TypeKickUser),
		Channel:  name,
		KickedBy: sess.nickname,
		Reason:   reason,
	}, &sent)
	s.enqueueLocked(sess, wire.TypeAck,
		ack(fmt.Sprintf("%s has been kicked from %s", msg.TargetNickname, name)), &sent)
	s.noticeLocked(lc, name,
		fmt.Sprintf("%s was kicked by %s: %s", msg.TargetNickname, sess.nickname, reason),
		map[string]struct{}{sess.userID: {}}, &sent)
	channels := len(s.channels)
	s.mu.Unlock()
	s.finish(sent)
	s.obs.ChannelLeft()
	s.obs.ChannelCount(channels)
	s.log.Infof("%s kicked %s from %s", sess.nickname, msg.TargetNickname, name)
}

// handleBan covers ban_user and kickban_user. A ban always strips membership
// when the target is live; ban by nickname works on offline users too.
func (s *Server) handleBan(sess *session, frame []byte, typ wire.Type) {
	var msg wire.BanUser
	if !s.decode(sess, frame, &msg) {
		return
	}
	if msg.TargetNickname == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing target nickname"))
		return
	}
	if err := userid.ValidateNickname(msg.TargetNickname); err != nil {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidNickname, "Invalid nickname: %v", err))
		return
	}
	if err := wire.CheckLen("reason", msg.Reason, wire.MaxReasonChars); err != nil {
		s.reject(sess, observability.DropReasonFieldTooLong, ircerrors.E(ircerrors.CodeInvalidInput, "%v", err))
		return
	}
	name := channelname.Normalize(msg.Channel)
	if !s.store.Exists(name) {
		s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownChannel, "Channel %s not found", name))
		return
	}
	uid := userid.FromNickname(msg.TargetNickname)
	reason := msg.Reason
	if reason == "" {
		reason = "No reason given"
	}

	var sent []delivery
	s.mu.Lock()
	lc := s.channels[name]
	if s.privilegeLocked(lc, name, sess.userID) < privOp {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotOperator, "You do not have permission to ban users in this channel"))
		return
	}
	if uid == sess.userID {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "You cannot ban yourself"))
		return
	}
	if uid == s.store.Owner(name) {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "You cannot ban the channel owner"))
		return
	}
	now := wire.Now()
	ban := channelstore.Ban{
		BannedBy:         sess.userID,
		BannedByNickname: sess.nickname,
		Reason:           msg.Reason,
		Timestamp:        now,
	}
	if msg.Duration > 0 {
		exp := now + msg.Duration
		ban.ExpiresAt = &exp
	}
	if err := s.store.AddBan(name, uid, ban); err != nil {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.Wrap(ircerrors.CodeInternal, "storing ban failed", err))
		return
	}
	kicked := false
	if lc != nil {
		if tsess, member := lc.members[uid]; member {
			kicked = true
			delete(lc.members, uid)
			delete(lc.operators, uid)
			delete(lc.mods, uid)
			delete(tsess.channels, name)
			s.routes.invalidate(name)
			s.enqueueLocked(tsess, typ, wire.BanUser{
				Header:   wire.NewHeader(typ),
				Channel:  name,
				Reason:   reason,
				Duration: msg.Duration,
				BannedBy: sess.nickname,
			}, &sent)
		}
	}
	s.enqueueLocked(sess, wire.TypeAck,
		ack(fmt.Sprintf("%s has been banned from %s", msg.TargetNickname, name)), &sent)
	if lc != nil {
		s.noticeLocked(lc, name,
			fmt.Sprintf("%s was banned by %s: %s", msg.TargetNickname, sess.nickname, reason),
			map[string]struct{}{sess.userID: {}}, &sent)
	}
	channels := len(s.channels)
	s.mu.Unlock()
	s.finish(sent)
	if kicked {
		s.obs.ChannelLeft()
		s.obs.ChannelCount(channels)
	}
	s.log.Infof("%s banned %s from %s (%s)", sess.nickname, msg.TargetNickname, name, reason)
}

func (s *Server) handleUnban(sess *session, frame []byte) {
	var msg wire.BanUser
	if !s.decode(sess, frame, &msg) {
		return
	}
	if msg.TargetNickname == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing target nickname"))
		return
	}
	name := channelname.Normalize(msg.Channel)
	if !s.store.Exists(name) {
		s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownChannel, "Channel %s not found", name))
		return
	}
	s.mu.Lock()
	lc := s.channels[name]
	priv := s.privilegeLocked(lc, name, sess.userID)
	s.mu.Unlock()
	if priv < privOp {
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotOperator, "You do not have permission to unban users in this channel"))
		return
	}
	uid := userid.FromNickname(msg.TargetNickname)
	if !s.store.RemoveBan(name, uid) {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "%s is not banned from %s", msg.TargetNickname, name))
		return
	}
	s.send(sess, wire.TypeAck, ack(fmt.Sprintf("%s has been unbanned from %s", msg.TargetNickname, name)))
}

func (s *Server) handleInvite(sess *session, frame []byte) {
	var msg wire.InviteUser
	if !s.decode(sess, frame, &msg) {
		return
	}
	if msg.TargetNickname == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing target nickname"))
		return
	}
	name := channelname.Normalize(msg.Channel)

	var sent []delivery
	s.mu.Lock()
	lc := s.channels[name]
	if lc == nil {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownChannel, "Channel %s not found", name))
		return
	}
	if s.privilegeLocked(lc, name, sess.userID) < privOp {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotOperator, "You do not have permission to invite users to this channel"))
		return
	}
	uid, live := s.nicknames[msg.TargetNickname]
	tsess := s.sessions[uid]
	if !live || tsess == nil {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeUserOffline, "User %s is offline", msg.TargetNickname))
		return
	}
	if _, member := lc.members[uid]; member {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "%s is already in channel %s", msg.TargetNickname, name))
		return
	}
	s.enqueueLocked(tsess, wire.TypeInviteUser, wire.InviteUser{
		Header:          wire.NewHeader(wire.TypeInviteUser),
		Channel:         name,
		InviterNickname: sess.nickname,
		InviterID:       sess.userID,
	}, &sent)
	s.enqueueLocked(sess, wire.TypeAck, ack(fmt.Sprintf("Invitation sent to %s", msg.TargetNickname)), &sent)
	s.mu.Unlock()
	s.finish(sent)
}

// handleInviteResponse routes the target's decision. Acceptance re-enters
// the join machine with no passwords, so protected channels still prompt.
func (s *Server) handleInviteResponse(sess *session, frame []byte) {
	var msg wire.InviteResponse
	if !s.decode(sess, frame, &msg) {
		return
	}
	name := channelname.Normalize(msg.Channel)
	if msg.Accepted {
		s.joinChannel(sess, name, "", "")
		return
	}
	s.send(sess, wire.TypeAck, ack(fmt.Sprintf("Invitation to %s declined", name)))
	if msg.InviterNickname == "" {
		return
	}
	s.mu.Lock()
	var inviter *session
	if uid, ok := s.nicknames[msg.InviterNickname]; ok {
		inviter = s.sessions[uid]
	}
	s.mu.Unlock()
	if inviter != nil {
		s.send(inviter, wire.TypeChannelMessage,
			serverNotice(name, fmt.Sprintf("%s declined the invitation to %s", sess.nickname, name)))
	}
}

func (s *Server) handleTransferOwnership(sess *session, frame []byte) {
	var msg wire.TransferOwnership
	if !s.decode(sess, frame, &msg) {
		return
	}
	if msg.TargetNickname == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing target nickname"))
		return
	}
	name := channelname.Normalize(msg.Channel)
	if !s.store.Exists(name) {
		s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownChannel, "Channel %s not found", name))
		return
	}

	var sent []delivery
	s.mu.Lock()
	if s.store.Owner(name) != sess.userID {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotOwner, "Only the channel owner can transfer ownership"))
		return
	}
	lc := s.channels[name]
	uid, live := s.nicknames[msg.TargetNickname]
	tsess := s.sessions[uid]
	if !live || tsess == nil || lc == nil {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeUserOffline, "User %s is offline", msg.TargetNickname))
		return
	}
	if _, member := lc.members[uid]; !member {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "%s is not in channel %s", msg.TargetNickname, name))
		return
	}
	if _, op := lc.operators[uid]; !op {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Ownership can only be transferred to an operator"))
		return
	}
	if err := s.store.SetOwner(name, uid); err != nil {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.Wrap(ircerrors.CodeInternal, "ownership transfer failed", err))
		return
	}
	s.enqueueLocked(sess, wire.TypeAck,
		ack(fmt.Sprintf("Ownership of %s transferred to %s", name, msg.TargetNickname)), &sent)
	s.enqueueLocked(tsess, wire.TypeAck, wire.Ack{
		Header:  wire.NewHeader(wire.TypeAck),
		Success: true,
		Channel: name,
		Message: fmt.Sprintf("You are now the owner of %s", name),
		IsOwner: true,
	}, &sent)
	s.noticeLocked(lc, name,
		fmt.Sprintf("%s transferred ownership of %s to %s", sess.nickname, name, msg.TargetNickname),
		map[string]struct{}{sess.userID: {}, uid: {}}, &sent)
	s.mu.Unlock()
	s.finish(sent)
	s.log.Infof("%s transferred ownership of %s to %s", sess.nickname, name, msg.TargetNickname)
}

func (s *Server) handleSetTopic(sess *session, frame []byte) {
	var msg wire.SetTopic
	if !s.decode(sess, frame, &msg) {
		return
	}
	if err := wire.CheckLen("topic", msg.Topic, wire.MaxTopicChars); err != nil {
		s.reject(sess, observability.DropReasonFieldTooLong, ircerrors.E(ircerrors.CodeInvalidInput, "%v", err))
		return
	}
	name := channelname.Normalize(msg.Channel)

	var sent []delivery
	s.mu.Lock()
	lc := s.channels[name]
	if lc == nil && !s.store.Exists(name) {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownChannel, "Channel %s not found", name))
		return
	}
	if s.privilegeLocked(lc, name, sess.userID) < privOp {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotOperator, "You do not have permission to set the topic in this channel"))
		return
	}
	if err := s.store.SetTopic(name, msg.Topic); err != nil {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.Wrap(ircerrors.CodeInternal, "storing topic failed", err))
		return
	}
	s.enqueueLocked(sess, wire.TypeAck, ack(fmt.Sprintf("Topic set for %s", name)), &sent)
	if lc != nil {
		topic := wire.SetTopic{
			Header:  wire.NewHeader(wire.TypeSetTopic),
			Channel: name,
			Topic:   msg.Topic,
			SetBy:   sess.nickname,
		}
		if frame, err := wire.Marshal(topic); err == nil {
			for id, m := range lc.members {
				if id == sess.userID {
					continue
				}
				if m.enqueueFrame(frame) == nil {
					sent = append(sent, delivery{to: m, typ: wire.TypeSetTopic, frame: frame})
				}
			}
		}
	}
	s.mu.Unlock()
	s.finish(sent)
}

func (s *Server) handleSetMode(sess *session, frame []byte) {
	var msg wire.SetMode
	if !s.decode(sess, frame, &msg) {
		return
	}
	if !wire.ValidMode(msg.Mode) {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Invalid mode: %s", msg.Mode))
		return
	}
	name := channelname.Normalize(msg.Channel)

	var sent []delivery
	s.mu.Lock()
	lc := s.channels[name]
	if lc == nil && !s.store.Exists(name) {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownChannel, "Channel %s not found", name))
		return
	}
	if s.privilegeLocked(lc, name, sess.userID) < privOp {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotOperator, "You do not have permission to change modes in this channel"))
		return
	}
	if err := s.store.SetMode(name, msg.Mode, msg.Enable); err != nil {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.Wrap(ircerrors.CodeInternal, "storing mode failed", err))
		return
	}
	verb := "set"
	if !msg.Enable {
		verb = "unset"
	}
	s.enqueueLocked(sess, wire.TypeAck, ack(fmt.Sprintf("Mode %s %s for %s", msg.Mode, verb, name)), &sent)
	if lc != nil {
		change := wire.SetMode{
			Header:  wire.NewHeader(wire.TypeModeChange),
			Channel: name,
			Mode:    msg.Mode,
			Enable:  msg.Enable,
			SetBy:   sess.nickname,
		}
		if frame, err := wire.Marshal(change); err == nil {
			for id, m := range lc.members {
				if id == sess.userID {
					continue
				}
				if m.enqueueFrame(frame) == nil {
					sent = append(sent, delivery{to: m, typ: wire.TypeModeChange, frame: frame})
				}
			}
		}
	}
	s.mu.Unlock()
	s.finish(sent)
}
