package broker

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/justirc/justirc-go/observability"
	"github.com/justirc/justirc-go/wire"
)

// frameConn is one transport connection carrying whole envelopes. Plain TCP
// sockets and websocket sessions both satisfy it.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(b []byte) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// writeTimeout bounds a single frame write to a peer.
const writeTimeout = 30 * time.Second

// maxWriteQueueBytes bounds buffered output per session. A consumer that
// falls further behind is dropped rather than allowed to pin broker memory.
const maxWriteQueueBytes = 1 << 20

var errSessionClosed = errors.New("broker: session closed")

type tcpFrameConn struct {
	c net.Conn
	r *wire.Reader
}

func newTCPFrameConn(c net.Conn, maxFrame int) *tcpFrameConn {
	return &tcpFrameConn{c: c, r: wire.NewReader(c, maxFrame)}
}

func (t *tcpFrameConn) ReadFrame() ([]byte, error) { return t.r.ReadFrame() }

// WriteFrame sends one envelope and its newline in a single Write so frames
// never interleave.
func (t *tcpFrameConn) WriteFrame(b []byte) error {
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, '\n')
	_ = t.c.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := t.c.Write(buf)
	return err
}

func (t *tcpFrameConn) SetReadDeadline(dl time.Time) error { return t.c.SetReadDeadline(dl) }
func (t *tcpFrameConn) RemoteAddr() net.Addr               { return t.c.RemoteAddr() }
func (t *tcpFrameConn) Close() error                       { return t.c.Close() }

// pendingAuth parks a join until the client answers the op_password_request
// the broker sent. At most one pending slot may be armed per session. For
// "set" slots, created distinguishes the role-credential prompt after a
// channel creation from the creator-password prompt before one;
// joinPassword preserves the join password from the original request.
type pendingAuth struct {
	channel      string
	action       string
	shouldBeOp   bool
	isMod        bool
	isOwner      bool
	created      bool
	joinPassword string
}

// pendingGrant parks an operator or moderator grant until the target sets a
// role password.
type pendingGrant struct {
	channel     string
	grantorID   string
	grantorNick string
	isMod       bool
}

// session is one connected socket. Identity fields are written once during
// registration and published through the server maps; roster fields are
// guarded by the server mutex; the write queue has its own lock.
type session struct {
	srv       *Server
	fc        frameConn
	transport string
	remote    string

	userID    string
	nickname  string
	publicKey string

	// Guarded by srv.mu.
	channels  map[string]struct{}
	status    string
	statusMsg string
	pendAuth  *pendingAuth
	pendGrant *pendingGrant

	protoErrs int // session goroutine only

	outMu     sync.Mutex
	outCond   *sync.Cond
	outQueue  [][]byte
	outHead   int
	outBytes  int
	outClosed bool
	reason    observability.CloseReason

	stopOnce sync.Once
}

func newSession(srv *Server, fc frameConn, transport string) *session {
	s := &session{
		srv:       srv,
		fc:        fc,
		transport: transport,
		remote:    fc.RemoteAddr().String(),
		channels:  make(map[string]struct{}),
		status:    wire.StatusOnline,
	}
	s.outCond = sync.NewCond(&s.outMu)
	return s
}

// enqueueFrame appends one outbound frame. It never blocks: a full queue
// closes the session instead, since only a stalled consumer can fill it.
func (s *session) enqueueFrame(b []byte) error {
	s.outMu.Lock()
	if s.outClosed {
		s.outMu.Unlock()
		return errSessionClosed
	}
	if s.outBytes+len(b) > maxWriteQueueBytes {
		s.outMu.Unlock()
		s.close(observability.CloseReasonWriteError)
		return errSessionClosed
	}
	s.outQueue = append(s.outQueue, b)
	s.outBytes += len(b)
	s.outCond.Signal()
	s.outMu.Unlock()
	return nil
}

// nextFrame blocks until a frame is queued or the queue is closed and
// drained. The backing array is compacted once the dead prefix dominates.
func (s *session) nextFrame() ([]byte, bool) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	for {
		if s.outHead < len(s.outQueue) {
			b := s.outQueue[s.outHead]
			s.outQueue[s.outHead] = nil
			s.outHead++
			s.outBytes -= len(b)
			if s.outHead > 1024 && s.outHead*2 > len(s.outQueue) {
				n := copy(s.outQueue, s.outQueue[s.outHead:])
				s.outQueue = s.outQueue[:n]
				s.outHead = 0
			}
			return b, true
		}
		if s.outClosed {
			return nil, false
		}
		s.outCond.Wait()
	}
}

// writePump drains the write queue. It owns the socket teardown: the
// connection closes only after queued frames are flushed or a write fails,
// so error and kick notices reach the peer before the socket drops.
func (s *session) writePump() {
	defer s.fc.Close()
	for {
		b, ok := s.nextFrame()
		if !ok {
			return
		}
		if err := s.fc.WriteFrame(b); err != nil {
			s.close(observability.CloseReasonWriteError)
			return
		}
	}
}

// close marks the session finished. Queued frames still drain; the reader is
// woken through an expired read deadline and the write pump closes the
// socket once the queue empties.
func (s *session) close(reason observability.CloseReason) {
	s.stopOnce.Do(func() {
		s.outMu.Lock()
		s.reason = reason
		s.outClosed = true
		s.outCond.Broadcast()
		s.outMu.Unlock()
		_ = s.fc.SetReadDeadline(time.Now())
	})
}

func (s *session) isClosed() bool {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return s.outClosed
}

func (s *session) closeReason() observability.CloseReason {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.reason == "" {
		return observability.CloseReasonQuit
	}
	return s.reason
}
