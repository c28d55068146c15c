package broker

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/justirc/justirc-go/ircerrors"
	"github.com/justirc/justirc-go/observability"
	"github.com/justirc/justirc-go/wire"
)

// maxProtoErrs is how many malformed frames a session may send before it is
// dropped. A single bad frame only earns an error reply.
const maxProtoErrs = 10

func (s *Server) readLoop(sess *session) {
	for {
		if sess.isClosed() {
			return
		}
		_ = sess.fc.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		frame, err := sess.fc.ReadFrame()
		if err != nil {
			var ne net.Error
			switch {
			case errors.Is(err, wire.ErrFrameTooLarge):
				s.obs.EnvelopeDropped(observability.DropReasonFrameTooLarge)
				s.sendError(sess, ircerrors.E(ircerrors.CodeFrameTooLarge, "Message too large"))
				if s.strike(sess) {
					return
				}
				continue
			case errors.As(err, &ne) && ne.Timeout():
				if sess.isClosed() {
					return
				}
				if sess.userID == "" {
					s.log.Debugf("dropping silent unregistered connection %s", sess.remote)
					sess.close(observability.CloseReasonReadTimeout)
					return
				}
				// Registered sessions ride out read timeouts; the idle
				// sweep owns eviction.
				continue
			case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
				sess.close(observability.CloseReasonQuit)
				return
			default:
				sess.close(observability.CloseReasonReadError)
				return
			}
		}
		s.handleFrame(sess, frame)
		if sess.isClosed() {
			return
		}
	}
}

// strike counts one protocol error against the session. Past the cap the
// session is dropped.
func (s *Server) strike(sess *session) bool {
	sess.protoErrs++
	if sess.protoErrs >= maxProtoErrs {
		s.log.Infof("dropping %s after %d protocol errors", sess.remote, sess.protoErrs)
		sess.close(observability.CloseReasonProtocol)
		return true
	}
	return false
}

func (s *Server) handleFrame(sess *session, frame []byte) {
	hdr, err := wire.DecodeHeader(frame)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownType) {
			s.obs.EnvelopeDropped(observability.DropReasonUnknownType)
			s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownType, "Unknown message type: %s", hdr.Type))
		} else {
			s.obs.EnvelopeDropped(observability.DropReasonParseError)
			s.sendError(sess, ircerrors.E(ircerrors.CodeProtocol, "%s", protoErrText(err)))
		}
		s.strike(sess)
		return
	}
	s.obs.EnvelopeRead(string(hdr.Type), len(frame))
	if sess.userID != "" {
		s.perf.recordReceived(sess.userID, len(frame))
	}
	if sess.userID == "" && hdr.Type != wire.TypeRegister && hdr.Type != wire.TypeDisconnect {
		s.sendError(sess, ircerrors.E(ircerrors.CodeNotRegistered, "You must register first"))
		return
	}
	switch hdr.Type {
	case wire.TypeRegister:
		s.handleRegister(sess, frame)
	case wire.TypeDisconnect:
		s.handleDisconnect(sess)
	case wire.TypePublicKeyRequest:
		s.handlePublicKeyRequest(sess, frame)
	case wire.TypeRekeyRequest, wire.TypeRekeyResponse:
		s.handleRekey(sess, frame, hdr.Type)
	case wire.TypePrivateMessage:
		s.handlePrivateMessage(sess, frame)
	case wire.TypeChannelMessage:
		s.handleChannelMessage(sess, frame)
	case wire.TypeJoinChannel:
		s.handleJoin(sess, frame)
	case wire.TypeLeaveChannel:
		s.handleLeave(sess, frame)
	case wire.TypeOpPasswordReply:
		s.handleOpPasswordReply(sess, frame)
	case wire.TypeOpUser, wire.TypeUnopUser, wire.TypeModUser, wire.TypeUnmodUser:
		s.handleRoleChange(sess, frame, hdr.Type)
	case wire.TypeKickUser:
		s.handleKick(sess, frame)
	case wire.TypeBanUser, wire.TypeKickbanUser:
		s.handleBan(sess, frame, hdr.Type)
	case wire.TypeUnbanUser:
		s.handleUnban(sess, frame)
	case wire.TypeInviteUser:
		s.handleInvite(sess, frame)
	case wire.TypeInviteResponse:
		s.handleInviteResponse(sess, frame)
	case wire.TypeTransferOwnership:
		s.handleTransferOwnership(sess, frame)
	case wire.TypeSetTopic:
		s.handleSetTopic(sess, frame)
	case wire.TypeSetMode:
		s.handleSetMode(sess, frame)
	case wire.TypeWhois:
		s.handleWhois(sess, frame)
	case wire.TypeListChannels:
		s.handleListChannels(sess)
	case wire.TypeSetStatus:
		s.handleSetStatus(sess, frame)
	case wire.TypeRegisterNickname:
		s.handleRegisterNickname(sess, frame)
	case wire.TypeUpdateProfile:
		s.handleUpdateProfile(sess, frame)
	case wire.TypeGetProfile:
		s.handleGetProfile(sess, frame)
	case wire.TypeImageStart, wire.TypeImageChunk, wire.TypeImageEnd:
		s.handleImage(sess, frame, hdr.Type)
	default:
		// Known tag, but one only the broker may originate.
		s.obs.EnvelopeDropped(observability.DropReasonUnknownType)
		s.sendError(sess, ircerrors.E(ircerrors.CodeUnknownType, "Unknown message type: %s", hdr.Type))
		s.strike(sess)
	}
}

func protoErrText(err error) string {
	switch {
	case errors.Is(err, wire.ErrInvalidJSON):
		return "Invalid JSON message"
	case errors.Is(err, wire.ErrMissingType):
		return "Missing message type"
	case errors.Is(err, wire.ErrVersion):
		return "Unsupported protocol version"
	}
	return "Invalid message"
}

// decode parses the full payload after the header was validated. A failure
// counts as a protocol error.
func (s *Server) decode(sess *session, frame []byte, v any) bool {
	if err := wire.Unmarshal(frame, v); err != nil {
		s.obs.EnvelopeDropped(observability.DropReasonParseError)
		s.sendError(sess, ircerrors.E(ircerrors.CodeProtocol, "Invalid JSON message"))
		s.strike(sess)
		return false
	}
	return true
}

// allowMessage applies the per-user message budget.
func (s *Server) allowMessage(sess *session) bool {
	if s.msgLim.Allow(sess.userID) {
		return true
	}
	s.obs.RateLimited(observability.LimitScopeMessages)
	s.sendRateLimited(sess, s.msgLim.RetryAfter(sess.userID))
	return false
}

// allowChunk applies the separate file-chunk budget.
func (s *Server) allowChunk(sess *session) bool {
	if s.chunkLim.Allow(sess.userID) {
		return true
	}
	s.obs.RateLimited(observability.LimitScopeChunks)
	s.sendRateLimited(sess, s.chunkLim.RetryAfter(sess.userID))
	return false
}
