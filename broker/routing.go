package broker

import (
	"github.com/justirc/justirc-go/internal/channelname"
	"github.com/justirc/justirc-go/internal/userid"
	"github.com/justirc/justirc-go/ircerrors"
	"github.com/justirc/justirc-go/observability"
	"github.com/justirc/justirc-go/wire"
)

// handlePrivateMessage relays an encrypted envelope verbatim. The broker
// routes on to_id alone and never inspects the payload. An offline but
// plausibly real recipient gets the frame queued; queueing is silent to the
// sender.
func (s *Server) handlePrivateMessage(sess *session, frame []byte) {
	if !s.allowMessage(sess) {
		return
	}
	var msg wire.Encrypted
	if !s.decode(sess, frame, &msg) {
		return
	}
	if msg.ToID == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing to_id"))
		return
	}
	s.routeToUser(sess, msg.ToID, wire.TypePrivateMessage, frame)
}

// routeToUser delivers a frame to a live session, or queues it when the id
// has the shape of a real user id. Anything else is answered unknown_user.
// The shape check matters: the id names the recipient's queue spill file.
func (s *Server) routeToUser(sess *session, toID string, typ wire.Type, frame []byte) {
	s.mu.Lock()
	target := s.sessions[toID]
	s.mu.Unlock()
	if target != nil {
		if s.deliver(target, typ, frame) {
			return
		}
		// Target is tearing down; fall through to the queue.
	}
	if nick, ok := userid.Nickname(toID); !ok || userid.ValidateNickname(nick) != nil {
		s.reject(sess, observability.DropReasonUnknownRecipient,
			ircerrors.E(ircerrors.CodeUnknownUser, "User %s not found", toID))
		return
	}
	s.queue.Enqueue(toID, sess.userID, sess.nickname, typ, frame)
	s.obs.QueueEnqueued()
}

// handleChannelMessage fans an encrypted envelope out to the live members.
// to_id carries the channel name; moderated channels gate on privilege.
func (s *Server) handleChannelMessage(sess *session, frame []byte) {
	if !s.allowMessage(sess) {
		return
	}
	var msg wire.Encrypted
	if !s.decode(sess, frame, &msg) {
		return
	}
	raw := msg.ToID
	if raw == "" {
		raw = msg.Channel
	}
	if raw == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing to_id"))
		return
	}
	name := channelname.Normalize(raw)

	s.mu.Lock()
	lc := s.channels[name]
	if lc == nil {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownChannel, "Channel %s not found", name))
		return
	}
	if _, member := lc.members[sess.userID]; !member {
		s.mu.Unlock()
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotInChannel, "You are not in channel %s", name))
		return
	}
	if s.store.HasMode(name, wire.ModeModerated) && s.privilegeLocked(lc, name, sess.userID) < privMod {
		s.mu.Unlock()
		s.reject(sess, observability.DropReasonModerated,
			ircerrors.E(ircerrors.CodeModerated, "Channel %s is moderated", name))
		return
	}
	ids, hit := s.routes.lookup(name)
	if !hit {
		ids = make([]string, 0, len(lc.members))
		for id := range lc.members {
			ids = append(ids, id)
		}
		s.routes.put(name, ids)
	}
	targets := make([]*session, 0, len(ids))
	for _, id := range ids {
		if id == sess.userID {
			continue
		}
		if m := s.sessions[id]; m != nil {
			targets = append(targets, m)
		}
	}
	s.mu.Unlock()

	if hit {
		s.obs.RouteCacheHit()
	} else {
		s.obs.RouteCacheMiss()
	}
	for _, m := range targets {
		if !s.deliver(m, wire.TypeChannelMessage, frame) {
			s.queue.Enqueue(m.userID, sess.userID, sess.nickname, wire.TypeChannelMessage, frame)
			s.obs.QueueEnqueued()
		}
	}
	s.perf.recordChannelMessage(name)
}

// handleRekey forwards a rekey envelope after stamping the sender's
// authoritative nickname, so the recipient can match the new key to a
// roster entry without trusting the sender's claim.
func (s *Server) handleRekey(sess *session, frame []byte, typ wire.Type) {
	var msg wire.Rekey
	if !s.decode(sess, frame, &msg) {
		return
	}
	if msg.ToID == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing to_id"))
		return
	}
	msg.FromNickname = sess.nickname
	stamped, err := wire.Marshal(msg)
	if err != nil {
		s.log.Errorf("marshal rekey: %v", err)
		return
	}
	s.routeToUser(sess, msg.ToID, typ, stamped)
}

// handleImage relays file transfer envelopes. Chunks burn the chunk budget
// instead of the message budget; start and end frames count as messages.
func (s *Server) handleImage(sess *session, frame []byte, typ wire.Type) {
	if typ == wire.TypeImageChunk {
		if !s.allowChunk(sess) {
			return
		}
	} else if !s.allowMessage(sess) {
		return
	}
	var addr struct {
		ToID string `json:"to_id"`
	}
	if err := wire.Unmarshal(frame, &addr); err != nil {
		s.obs.EnvelopeDropped(observability.DropReasonParseError)
		s.sendError(sess, ircerrors.E(ircerrors.CodeProtocol, "Invalid JSON message"))
		s.strike(sess)
		return
	}
	if addr.ToID == "" {
		s.sendError(sess, ircerrors.E(ircerrors.CodeInvalidInput, "Missing to_id"))
		return
	}
	s.routeToUser(sess, addr.ToID, typ, frame)
}
