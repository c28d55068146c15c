package broker

import (
	"io"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/websocket"

	"github.com/justirc/justirc-go/internal/wsutil"
	"github.com/justirc/justirc-go/observability"
	"github.com/justirc/justirc-go/ratelimit"
	"github.com/justirc/justirc-go/realtime/ws"
)

// handleWS upgrades an HTTP request into a broker session speaking the same
// envelope protocol as TCP, one JSON envelope per websocket text message.
// The accept gates mirror the TCP path, applied before the upgrade so
// rejections stay plain HTTP.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := httpRemoteIP(r)
	if ok, verdict := s.filter.Allowed(ip); !ok {
		s.obs.ConnRejected(rejectReason(verdict))
		s.log.Infof("rejected ws %s: %s", r.RemoteAddr, verdict)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if ok, why := s.connLim.Allow(ip.String()); !ok {
		if why == ratelimit.ReasonTempBanned {
			s.filter.TempBan(ip, ratelimit.DefaultBanDuration)
			s.obs.ConnRejected(observability.RejectReasonTempBanned)
		} else {
			s.obs.ConnRejected(observability.RejectReasonConnRate)
		}
		s.obs.RateLimited(observability.LimitScopeConnections)
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}
	if int(s.connCount.Load()) >= s.cfg.MaxConnections {
		s.obs.ConnRejected(observability.RejectReasonServerFull)
		http.Error(w, "server is full", http.StatusServiceUnavailable)
		return
	}
	// No configured allow-list means same-host only: leaving CheckOrigin
	// nil selects the upgrader's same-origin policy.
	var checkOrigin func(*http.Request) bool
	if len(s.cfg.AllowedOrigins) > 0 {
		checkOrigin = ws.NewOriginChecker(s.cfg.AllowedOrigins, true)
	}
	conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin,
	})
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debugf("ws upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(wsutil.ReadLimit(s.cfg.MaxMessageSize))
	s.obs.ConnAccepted()
	sess := newSession(s, &wsFrameConn{c: conn.Underlying()}, "ws")
	s.startSession(sess)
}

func httpRemoteIP(r *http.Request) netip.Addr {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip, _ := netip.ParseAddr(host)
	return ip.Unmap()
}

// wsFrameConn adapts a websocket connection to the frameConn contract. It
// reads through the raw gorilla conn so the read-deadline discipline the
// session layer relies on is not disturbed by the wrapper's context
// plumbing. A frame over the read limit closes the connection (status 1009)
// instead of resyncing; the websocket framing leaves nothing to resync to.
type wsFrameConn struct {
	c *websocket.Conn
}

func (w *wsFrameConn) ReadFrame() ([]byte, error) {
	_, data, err := w.c.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (w *wsFrameConn) WriteFrame(b []byte) error {
	_ = w.c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsFrameConn) SetReadDeadline(t time.Time) error { return w.c.SetReadDeadline(t) }

func (w *wsFrameConn) RemoteAddr() net.Addr { return w.c.RemoteAddr() }

func (w *wsFrameConn) Close() error { return w.c.Close() }
