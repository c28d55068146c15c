package broker

import (
	"fmt"
	"sort"

	"github.com/justirc/justirc-go/channelstore"
	"github.com/justirc/justirc-go/crypto/e2ee"
	"github.com/justirc/justirc-go/internal/channelname"
	"github.com/justirc/justirc-go/ircerrors"
	"github.com/justirc/justirc-go/observability"
	"github.com/justirc/justirc-go/wire"
)

func (s *Server) handleJoin(sess *session, frame []byte) {
	var msg wire.JoinChannel
	if !s.decode(sess, frame, &msg) {
		return
	}
	s.joinChannel(sess, msg.Channel, msg.Password, msg.CreatorPassword)
}

// joinChannel resolves a join request. The outcomes, in order: banned, a
// re-ack for an existing member, channel creation (possibly parked on a
// creator password prompt), an existing channel's password or credential
// gate, or direct completion.
func (s *Server) joinChannel(sess *session, rawName, password, creatorPassword string) {
	name := channelname.Normalize(rawName)
	if err := channelname.Validate(name); err != nil {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidChannel, "Invalid channel name: %v", err))
		return
	}
	if ban, banned := s.store.ActiveBan(name, sess.userID); banned {
		reason := ban.Reason
		if reason == "" {
			reason = "No reason given"
		}
		s.reject(sess, observability.DropReasonBanned,
			ircerrors.E(ircerrors.CodeBanned, "You are banned from %s: %s", name, reason))
		return
	}

	s.mu.Lock()
	if _, member := sess.channels[name]; member {
		var sent []delivery
		s.completeJoinLocked(sess, name, sess.userID == s.store.Owner(name), false, &sent, true)
		s.mu.Unlock()
		s.finish(sent)
		return
	}
	s.mu.Unlock()

	if !s.store.Exists(name) {
		s.createChannel(sess, name, creatorPassword, password, false)
		return
	}

	// Existing channel. The creator password bypasses the join gate and
	// restores operator standing.
	if creatorPassword != "" {
		if !s.store.VerifyCreatorPassword(name, creatorPassword) {
			s.sendError(sess, ircerrors.E(ircerrors.CodeAuthFailed, "Incorrect creator password"))
			return
		}
		s.finishJoin(sess, name, true, false)
		return
	}
	if s.store.IsProtected(name) {
		if !s.store.VerifyJoinPassword(name, password) {
			s.sendError(sess, ircerrors.E(ircerrors.CodeAuthFailed, "Incorrect channel password"))
			return
		}
	}
	if cred, ok := s.store.Credential(name, sess.userID); ok {
		s.mu.Lock()
		sess.pendAuth = &pendingAuth{
			channel:    name,
			action:     wire.OpPasswordActionVerify,
			shouldBeOp: cred.Role == channelstore.RoleOperator,
			isMod:      cred.Role == channelstore.RoleMod,
			isOwner:    s.store.Owner(name) == sess.userID,
		}
		sess.pendGrant = nil
		s.mu.Unlock()
		s.send(sess, wire.TypeOpPasswordRequest, wire.OpPasswordRequest{
			Header:  wire.NewHeader(wire.TypeOpPasswordRequest),
			Channel: name,
			Action:  wire.OpPasswordActionVerify,
			IsMod:   cred.Role == channelstore.RoleMod,
		})
		return
	}
	s.finishJoin(sess, name, false, false)
}

// createChannel provisions a new channel with the joiner as owner. A creator
// password is required up front; without one the join parks on a "set"
// prompt so the client can supply it interactively. After creation the join
// parks again on a second "set" prompt for the creator's role credential,
// unless reuseAsCredential stores the creator password as that credential
// directly (the interactive path, where both were typed as one answer).
func (s *Server) createChannel(sess *session, name, creatorPassword, joinPassword string, reuseAsCredential bool) {
	if creatorPassword == "" {
		s.mu.Lock()
		sess.pendAuth = &pendingAuth{channel: name, action: wire.OpPasswordActionSet, joinPassword: joinPassword}
		sess.pendGrant = nil
		s.mu.Unlock()
		s.send(sess, wire.TypeOpPasswordRequest, wire.OpPasswordRequest{
			Header:  wire.NewHeader(wire.TypeOpPasswordRequest),
			Channel: name,
			Action:  wire.OpPasswordActionSet,
		})
		return
	}
	if len(creatorPassword) < wire.MinRolePasswordChars {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput,
			"Creating a new channel requires a creator password (%d+ characters)", wire.MinRolePasswordChars))
		return
	}
	key, err := e2ee.GenerateChannelKey()
	if err != nil {
		s.sendError(sess, ircerrors.Wrap(ircerrors.CodeInternal, "channel key generation failed", err))
		return
	}
	if err := s.store.Create(name, sess.userID, creatorPassword, joinPassword, key); err != nil {
		// Lost a creation race; rejoin the normal path.
		s.joinChannel(sess, name, joinPassword, creatorPassword)
		return
	}
	s.obs.ChannelCreated()
	s.log.Infof("%s created channel %s", sess.nickname, name)

	if reuseAsCredential {
		if err := s.store.SetCredential(name, sess.userID, creatorPassword, channelstore.RoleOperator); err != nil {
			s.sendError(sess, ircerrors.Wrap(ircerrors.CodeInternal, "storing credential failed", err))
			return
		}
		s.finishJoin(sess, name, true, false)
		return
	}
	s.mu.Lock()
	sess.pendAuth = &pendingAuth{channel: name, action: wire.OpPasswordActionSet, created: true}
	sess.pendGrant = nil
	s.mu.Unlock()
	s.send(sess, wire.TypeOpPasswordRequest, wire.OpPasswordRequest{
		Header:  wire.NewHeader(wire.TypeOpPasswordRequest),
		Channel: name,
		Action:  wire.OpPasswordActionSet,
	})
}

// finishJoin completes a resolved join outside the roster lock.
func (s *Server) finishJoin(sess *session, name string, asOp, asMod bool) {
	var sent []delivery
	s.mu.Lock()
	s.completeJoinLocked(sess, name, asOp, asMod, &sent, false)
	channels := len(s.channels)
	s.mu.Unlock()
	s.finish(sent)
	s.obs.ChannelJoined()
	s.obs.ChannelCount(channels)
}

// completeJoinLocked adds the session to the live channel and enqueues the
// ack plus the membership fan-out. Callers hold s.mu. The ack is enqueued
// before the fan-out so the joiner always sees its own ack first. A rejoin
// re-acks without announcing.
func (s *Server) completeJoinLocked(sess *session, name string, asOp, asMod bool, sent *[]delivery, rejoin bool) {
	lc := s.channels[name]
	if lc == nil {
		lc = newLiveChannel()
		s.channels[name] = lc
	}
	lc.members[sess.userID] = sess
	if asOp {
		lc.operators[sess.userID] = struct{}{}
	}
	if asMod {
		lc.mods[sess.userID] = struct{}{}
	}
	sess.channels[name] = struct{}{}
	s.routes.invalidate(name)

	owner := s.store.Owner(name)
	members := make([]wire.MemberInfo, 0, len(lc.members))
	for id, m := range lc.members {
		_, op := lc.operators[id]
		_, mod := lc.mods[id]
		members = append(members, wire.MemberInfo{
			UserID:     id,
			Nickname:   m.nickname,
			PublicKey:  m.publicKey,
			IsOperator: op,
			IsMod:      mod,
			IsOwner:    id == owner,
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Nickname < members[j].Nickname })

	_, isOp := lc.operators[sess.userID]
	ackMsg := wire.Ack{
		Header:      wire.NewHeader(wire.TypeAck),
		Success:     true,
		Channel:     name,
		Message:     fmt.Sprintf("Joined %s", name),
		Members:     members,
		IsProtected: s.store.IsProtected(name),
		IsOperator:  isOp,
		IsOwner:     sess.userID == owner,
		Topic:       s.store.Topic(name),
		ChannelKey:  s.store.ChannelKey(name),
	}
	s.enqueueLocked(sess, wire.TypeAck, ackMsg, sent)
	if rejoin {
		return
	}
	announce := wire.JoinChannel{
		Header:     wire.NewHeader(wire.TypeJoinChannel),
		Channel:    name,
		UserID:     sess.userID,
		Nickname:   sess.nickname,
		PublicKey:  sess.publicKey,
		IsOperator: isOp,
		IsMod:      asMod,
		IsOwner:    sess.userID == owner,
	}
	frame, err := wire.Marshal(announce)
	if err != nil {
		s.log.Errorf("marshal join announce: %v", err)
		return
	}
	for id, m := range lc.members {
		if id == sess.userID {
			continue
		}
		if m.enqueueFrame(frame) == nil {
			*sent = append(*sent, delivery{to: m, typ: wire.TypeJoinChannel, frame: frame})
		}
	}
}

// handleOpPasswordReply resolves whichever slot is armed: a pending grant
// (set a durable credential, then promote), a pending verify (prove a stored
// credential before the join completes), or a pending set (creator password
// for a channel being created).
func (s *Server) handleOpPasswordReply(sess *session, frame []byte) {
	var msg wire.OpPasswordResponse
	if !s.decode(sess, frame, &msg) {
		return
	}
	name := channelname.Normalize(msg.Channel)

	s.mu.Lock()
	grant := sess.pendGrant
	auth := sess.pendAuth
	s.mu.Unlock()

	if grant != nil && grant.channel == name {
		s.resolveGrant(sess, grant, msg.Password)
		return
	}
	if auth != nil && auth.channel == name {
		if auth.action == wire.OpPasswordActionVerify {
			s.resolveVerify(sess, auth, msg.Password)
		} else {
			s.resolveSet(sess, auth, msg.Password)
		}
		return
	}
	s.sendError(sess, ircerrors.E(ircerrors.CodeProtocol, "No pending authorization for %s", name))
}

// resolveGrant stores the credential offered for a granted role and promotes
// the target live. A short password keeps the slot armed for a retry.
func (s *Server) resolveGrant(sess *session, grant *pendingGrant, password string) {
	if len(password) < wire.MinRolePasswordChars {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput,
			"Password must be at least %d characters", wire.MinRolePasswordChars))
		return
	}
	role := channelstore.RoleOperator
	if grant.isMod {
		role = channelstore.RoleMod
	}
	if err := s.store.SetCredential(grant.channel, sess.userID, password, role); err != nil {
		s.sendError(sess, ircerrors.Wrap(ircerrors.CodeInternal, "storing credential failed", err))
		return
	}

	var sent []delivery
	s.mu.Lock()
	sess.pendGrant = nil
	lc := s.channels[grant.channel]
	if lc != nil {
		if _, member := lc.members[sess.userID]; member {
			if grant.isMod {
				lc.mods[sess.userID] = struct{}{}
			} else {
				lc.operators[sess.userID] = struct{}{}
			}
		}
	}
	what := "an operator"
	if grant.isMod {
		what = "a moderator"
	}
	s.enqueueLocked(sess, wire.TypeAck,
		ack(fmt.Sprintf("You are now %s in %s", what, grant.channel)), &sent)
	typ := wire.TypeOpUser
	if grant.isMod {
		typ = wire.TypeModUser
	}
	change := wire.RoleChange{
		Header:    wire.NewHeader(typ),
		Channel:   grant.channel,
		UserID:    sess.userID,
		Nickname:  sess.nickname,
		GrantedBy: grant.grantorNick,
	}
	if frame, err := wire.Marshal(change); err == nil && lc != nil {
		for id, m := range lc.members {
			if id == sess.userID {
				continue
			}
			if m.enqueueFrame(frame) == nil {
				sent = append(sent, delivery{to: m, typ: typ, frame: frame})
			}
		}
	}
	s.mu.Unlock()
	s.finish(sent)
}

// resolveVerify checks the offered password against the stored credential. A
// failure is fatal for the connection.
func (s *Server) resolveVerify(sess *session, auth *pendingAuth, password string) {
	s.mu.Lock()
	sess.pendAuth = nil
	s.mu.Unlock()
	if !s.store.VerifyCredential(auth.channel, sess.userID, password) {
		s.obs.Auth(observability.AuthOutcomeBadCredentials)
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidPassword, "Invalid operator password"))
		return
	}
	s.finishJoin(sess, auth.channel, auth.shouldBeOp || auth.isOwner, auth.isMod)
}

// resolveSet accepts the password for a parked "set" prompt. For a created
// channel the password becomes the creator's role credential; otherwise it
// is the creator password for a channel being created interactively, and
// doubles as the role credential so the client is prompted only once. A
// short password keeps the slot armed.
func (s *Server) resolveSet(sess *session, auth *pendingAuth, password string) {
	if len(password) < wire.MinRolePasswordChars {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput,
			"Password must be at least %d characters", wire.MinRolePasswordChars))
		return
	}
	s.mu.Lock()
	sess.pendAuth = nil
	s.mu.Unlock()

	if auth.created {
		if err := s.store.SetCredential(auth.channel, sess.userID, password, channelstore.RoleOperator); err != nil {
			s.sendError(sess, ircerrors.Wrap(ircerrors.CodeInternal, "storing credential failed", err))
			return
		}
		s.finishJoin(sess, auth.channel, true, false)
		return
	}
	if s.store.Exists(auth.channel) {
		// Created by someone else while parked; join it normally.
		s.joinChannel(sess, auth.channel, auth.joinPassword, "")
		return
	}
	s.createChannel(sess, auth.channel, password, auth.joinPassword, true)
}

func (s *Server) handleLeave(sess *session, frame []byte) {
	var msg wire.LeaveChannel
	if !s.decode(sess, frame, &msg) {
		return
	}
	name := channelname.Normalize(msg.Channel)

	var sent []delivery
	s.mu.Lock()
	if _, member := sess.channels[name]; !member {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotInChannel, "You are not in channel %s", name))
		return
	}
	delete(sess.channels, name)
	lc := s.channels[name]
	if lc != nil {
		delete(lc.members, sess.userID)
		delete(lc.operators, sess.userID)
		delete(lc.mods, sess.userID)
		if len(lc.members) == 0 {
			delete(s.channels, name)
		}
	}
	s.routes.invalidate(name)
	s.enqueueLocked(sess, wire.TypeAck, ack(fmt.Sprintf("Left %s", name)), &sent)
	if lc != nil && len(lc.members) > 0 {
		leave := wire.LeaveChannel{
			Header:   wire.NewHeader(wire.TypeLeaveChannel),
			Channel:  name,
			UserID:   sess.userID,
			Nickname: sess.nickname,
		}
		if frame, err := wire.Marshal(leave); err == nil {
			for _, m := range lc.members {
				if m.enqueueFrame(frame) == nil {
					sent = append(sent, delivery{to: m, typ: wire.TypeLeaveChannel, frame: frame})
				}
			}
		}
	}
	channels := len(s.channels)
	s.mu.Unlock()
	s.finish(sent)
	s.obs.ChannelLeft()
	s.obs.ChannelCount(channels)
}
