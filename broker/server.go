// Package broker implements the JustIRC routing broker: a TCP and websocket
// server that registers nicknames, tracks channel membership, and fans out
// end-to-end encrypted envelopes it cannot read. Durable channel state,
// offline queues, profiles and accounts live in their own packages; the
// broker holds only the live roster.
package broker

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/justirc/justirc-go/channelstore"
	"github.com/justirc/justirc-go/internal/defaults"
	"github.com/justirc/justirc-go/ipfilter"
	"github.com/justirc/justirc-go/ircerrors"
	"github.com/justirc/justirc-go/observability"
	"github.com/justirc/justirc-go/offline"
	"github.com/justirc/justirc-go/profiles"
	"github.com/justirc/justirc-go/ratelimit"
	"github.com/justirc/justirc-go/wire"
)

// liveChannel is the transient state of a channel with at least one
// connected member. Role sets hold only currently connected users; durable
// role credentials and ownership live in the channel store.
type liveChannel struct {
	members   map[string]*session
	operators map[string]struct{}
	mods      map[string]struct{}
}

func newLiveChannel() *liveChannel {
	return &liveChannel{
		members:   make(map[string]*session),
		operators: make(map[string]struct{}),
		mods:      make(map[string]struct{}),
	}
}

// Server is the routing broker.
type Server struct {
	cfg Config
	log logging.LeveledLogger
	obs observability.BrokerObserver

	store    *channelstore.Store
	queue    *offline.Queue
	profiles *profiles.Profiles
	accounts *profiles.Accounts // nil unless EnableAuthentication
	filter   *ipfilter.Filter
	msgLim   *ratelimit.Limiter
	chunkLim *ratelimit.Limiter
	connLim  *ratelimit.ConnLimiter
	perf     *perfMonitor
	routes   *routeCache

	mu        sync.Mutex
	sessions  map[string]*session // user id -> session
	nicknames map[string]string   // nickname -> user id
	channels  map[string]*liveChannel
	conns     map[*session]struct{} // every accepted socket, registered or not

	connCount atomic.Int64
	started   time.Time

	lnMu     sync.Mutex
	ln       net.Listener
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Server and opens its durable stores under cfg.DataDir. An
// unreadable state file is a fatal startup error.
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("broker: create data dir: %w", err)
	}
	lf := cfg.LoggerFactory
	store, err := channelstore.New(channelstore.Config{
		Path:          filepath.Join(cfg.DataDir, "channels.json"),
		LoggerFactory: lf,
	})
	if err != nil {
		return nil, err
	}
	qcfg := offline.DefaultConfig()
	qcfg.Dir = filepath.Join(cfg.DataDir, "message_queue")
	qcfg.MaxPerUser = cfg.MaxQueuedPerUser
	qcfg.LoggerFactory = lf
	queue, err := offline.New(qcfg)
	if err != nil {
		return nil, err
	}
	prof, err := profiles.NewProfiles(profiles.ProfileConfig{
		Path:          filepath.Join(cfg.DataDir, "user_profiles.json"),
		LoggerFactory: lf,
	})
	if err != nil {
		return nil, err
	}
	var accts *profiles.Accounts
	if cfg.EnableAuthentication {
		accts, err = profiles.NewAccounts(profiles.AccountConfig{
			Path:          filepath.Join(cfg.DataDir, "accounts.json"),
			RequireAuth:   cfg.RequireAuthentication,
			LoggerFactory: lf,
		})
		if err != nil {
			return nil, err
		}
	}
	filter, err := ipfilter.New(ipfilter.Config{
		BlacklistPath:   filepath.Join(cfg.DataDir, "ip_blacklist.json"),
		WhitelistPath:   filepath.Join(cfg.DataDir, "ip_whitelist.json"),
		EnableWhitelist: cfg.EnableIPWhitelist,
		LoggerFactory:   lf,
	})
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		log:      lf.NewLogger("broker"),
		obs:      cfg.Observer,
		store:    store,
		queue:    queue,
		profiles: prof,
		accounts: accts,
		filter:   filter,
		msgLim:   ratelimit.NewLimiter(ratelimit.DefaultMaxMessages, ratelimit.DefaultWindow),
		chunkLim: ratelimit.NewLimiter(ratelimit.DefaultMaxChunks, ratelimit.DefaultWindow),
		connLim: ratelimit.NewConnLimiter(cfg.ConnRateMax, cfg.ConnRateWindow,
			ratelimit.DefaultBanThreshold, ratelimit.DefaultBanDuration),
		perf:      newPerfMonitor(lf.NewLogger("perf")),
		routes:    newRouteCache(),
		sessions:  make(map[string]*session),
		nicknames: make(map[string]string),
		channels:  make(map[string]*liveChannel),
		conns:     make(map[*session]struct{}),
		started:   time.Now(),
		stopCh:    make(chan struct{}),
	}
	return s, nil
}

// ListenAndServe binds the configured TCP address and serves until Close.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close. It returns nil after a clean
// shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.lnMu.Lock()
	s.ln = ln
	s.lnMu.Unlock()
	s.wg.Add(1)
	go s.maintenanceLoop()
	s.log.Infof("%s listening on %s", s.cfg.ServerName, ln.Addr())
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
				return err
			}
		}
		s.acceptConn(c)
	}
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// acceptConn runs the accept gate: IP filter, connection rate limit, then
// capacity. Rejections past the filter get one error envelope back.
func (s *Server) acceptConn(c net.Conn) {
	ip := remoteIP(c.RemoteAddr())
	if ok, verdict := s.filter.Allowed(ip); !ok {
		s.obs.ConnRejected(rejectReason(verdict))
		s.log.Infof("rejected %s: %s", c.RemoteAddr(), verdict)
		_ = c.Close()
		return
	}
	if ok, why := s.connLim.Allow(ip.String()); !ok {
		if why == ratelimit.ReasonTempBanned {
			// Mirror the limiter's verdict into the filter so later
			// accepts short-circuit before any bookkeeping.
			s.filter.TempBan(ip, ratelimit.DefaultBanDuration)
			s.obs.ConnRejected(observability.RejectReasonTempBanned)
		} else {
			s.obs.ConnRejected(observability.RejectReasonConnRate)
		}
		s.obs.RateLimited(observability.LimitScopeConnections)
		writeReject(c, ircerrors.E(ircerrors.CodeRateLimited, "Too many connection attempts"))
		_ = c.Close()
		return
	}
	if int(s.connCount.Load()) >= s.cfg.MaxConnections {
		s.obs.ConnRejected(observability.RejectReasonServerFull)
		writeReject(c, ircerrors.E(ircerrors.CodeServerFull, "Server is full"))
		_ = c.Close()
		return
	}
	s.obs.ConnAccepted()
	sess := newSession(s, newTCPFrameConn(c, s.cfg.MaxMessageSize), "tcp")
	s.startSession(sess)
}

// startSession registers an accepted session and spawns its goroutines.
// Both the TCP accept path and the websocket gateway come through here.
func (s *Server) startSession(sess *session) {
	s.mu.Lock()
	s.conns[sess] = struct{}{}
	s.mu.Unlock()
	n := s.connCount.Add(1)
	s.obs.ConnCount(n)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		sess.writePump()
	}()
	go func() {
		defer s.wg.Done()
		s.runSession(sess)
	}()
}

func (s *Server) runSession(sess *session) {
	s.readLoop(sess)
	sess.close(observability.CloseReasonQuit)
	s.cleanupSession(sess)
	s.mu.Lock()
	delete(s.conns, sess)
	s.mu.Unlock()
	n := s.connCount.Add(-1)
	s.obs.ConnCount(n)
	s.obs.ConnClosed(sess.closeReason())
}

// writeReject sends one error envelope on a socket that never became a
// session.
func writeReject(c net.Conn, err error) {
	env := wire.Error{
		Header: wire.NewHeader(wire.TypeError),
		Error:  ircerrors.MessageOf(err),
		Code:   string(ircerrors.CodeOf(err)),
	}
	_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = wire.WriteFrame(c, env)
}

// remoteIP extracts the peer address for filtering and rate limiting.
func remoteIP(addr net.Addr) netip.Addr {
	if ta, ok := addr.(*net.TCPAddr); ok {
		return ta.AddrPort().Addr().Unmap()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip, _ := netip.ParseAddr(host)
	return ip.Unmap()
}

func rejectReason(v ipfilter.Verdict) observability.RejectReason {
	switch v {
	case ipfilter.VerdictTempBanned:
		return observability.RejectReasonTempBanned
	case ipfilter.VerdictBlacklisted:
		return observability.RejectReasonBlacklisted
	case ipfilter.VerdictNotWhitelisted:
		return observability.RejectReasonNotWhitelisted
	}
	return observability.RejectReasonBlacklisted
}

// maintenanceLoop runs the periodic sweeps: idle eviction, ban expiry,
// limiter and temp-ban garbage collection, queue flushing, and the
// performance summary every fifth tick.
func (s *Server) maintenanceLoop() {
	defer s.wg.Done()
	interval := s.cfg.CleanupInterval
	if d := defaults.IdleSweepInterval(s.cfg.ConnectionTimeout); d > 0 && d < interval {
		interval = d
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	tick := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			tick++
			s.sweepIdle()
			if n := s.store.SweepExpiredBans(); n > 0 {
				s.log.Debugf("expired %d channel bans", n)
			}
			s.filter.SweepTempBans()
			s.msgLim.Cleanup(10 * time.Minute)
			s.chunkLim.Cleanup(10 * time.Minute)
			s.connLim.Cleanup(10 * time.Minute)
			if err := s.queue.Flush(); err != nil {
				s.log.Warnf("queue flush: %v", err)
			}
			if s.accounts != nil {
				s.accounts.SweepSessions()
			}
			if tick%60 == 0 {
				if n := s.queue.CleanupExpired(); n > 0 {
					s.obs.QueueExpired(n)
					s.log.Infof("expired %d queued messages", n)
				}
			}
			if tick%5 == 0 {
				s.perf.logSummary(s.channelCount())
			}
		}
	}
}

// sweepIdle evicts registered sessions with no traffic in either direction
// for longer than ConnectionTimeout.
func (s *Server) sweepIdle() {
	ids := s.perf.idle(s.cfg.ConnectionTimeout)
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	victims := make([]*session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.sessions[id]; ok {
			victims = append(victims, sess)
		}
	}
	s.mu.Unlock()
	for _, sess := range victims {
		s.log.Infof("closing idle connection %s (%s)", sess.nickname, sess.remote)
		sess.close(observability.CloseReasonIdle)
	}
}

func (s *Server) channelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Close stops accepting, disconnects every session, flushes durable state
// and logs a final performance summary.
func (s *Server) Close() error {
	var lnErr error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.lnMu.Lock()
		if s.ln != nil {
			lnErr = s.ln.Close()
		}
		s.lnMu.Unlock()
		s.mu.Lock()
		open := make([]*session, 0, len(s.conns))
		for sess := range s.conns {
			open = append(open, sess)
		}
		s.mu.Unlock()
		for _, sess := range open {
			sess.close(observability.CloseReasonShutdown)
		}
		s.wg.Wait()
		if err := s.queue.Close(); err != nil {
			s.log.Warnf("queue close: %v", err)
		}
		if err := s.store.Save(); err != nil {
			s.log.Warnf("channel store save: %v", err)
		}
		if err := s.profiles.Save(); err != nil {
			s.log.Warnf("profiles save: %v", err)
		}
		if s.accounts != nil {
			if err := s.accounts.Save(); err != nil {
				s.log.Warnf("accounts save: %v", err)
			}
		}
		s.perf.logSummary(0)
		s.log.Infof("broker stopped")
	})
	return lnErr
}

// Register installs the websocket gateway and a health probe on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "{\"status\":\"ok\",\"connections\":%d,\"uptime_seconds\":%d}\n",
			s.connCount.Load(), int(time.Since(s.started).Seconds()))
	})
}

// Reload flushes durable state to disk and re-reads the IP filter lists,
// picking up out-of-band edits. The daemon wires it to SIGHUP.
func (s *Server) Reload() error {
	if err := s.queue.Flush(); err != nil {
		return fmt.Errorf("queue flush: %w", err)
	}
	if err := s.store.Save(); err != nil {
		return fmt.Errorf("channel store save: %w", err)
	}
	if err := s.profiles.Save(); err != nil {
		return fmt.Errorf("profiles save: %w", err)
	}
	if s.accounts != nil {
		if err := s.accounts.Save(); err != nil {
			return fmt.Errorf("accounts save: %w", err)
		}
	}
	return s.filter.Reload()
}

// Stats is a point-in-time operational snapshot.
type Stats struct {
	Connections      int64
	Sessions         int
	Channels         int
	QueuedMessages   int
	RouteCacheHits   int64
	RouteCacheMisses int64
	Perf             PerfSummary
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	sessions := len(s.sessions)
	channels := len(s.channels)
	s.mu.Unlock()
	hits, misses, _ := s.routes.stats()
	return Stats{
		Connections:      s.connCount.Load(),
		Sessions:         sessions,
		Channels:         channels,
		QueuedMessages:   s.queue.Waiting(),
		RouteCacheHits:   hits,
		RouteCacheMisses: misses,
		Perf:             s.perf.summary(),
	}
}

// delivery records one enqueued frame for accounting after locks drop.
type delivery struct {
	to    *session
	typ   wire.Type
	frame []byte
}

// deliver enqueues one frame on a session's write queue and records it. A
// false return means the session vanished or overflowed.
func (s *Server) deliver(to *session, typ wire.Type, frame []byte) bool {
	if to == nil || to.enqueueFrame(frame) != nil {
		return false
	}
	s.obs.EnvelopeWritten(string(typ), len(frame))
	if to.userID != "" {
		s.perf.recordSent(to.userID, len(frame))
	}
	return true
}

// send marshals and delivers one envelope.
func (s *Server) send(to *session, typ wire.Type, env any) {
	frame, err := wire.Marshal(env)
	if err != nil {
		s.log.Errorf("marshal %s: %v", typ, err)
		return
	}
	s.deliver(to, typ, frame)
}

// enqueueLocked queues env while s.mu is held so ordering against the
// roster is exact. Observer and perf accounting are deferred to finish.
func (s *Server) enqueueLocked(to *session, typ wire.Type, env any, sent *[]delivery) {
	frame, err := wire.Marshal(env)
	if err != nil {
		s.log.Errorf("marshal %s: %v", typ, err)
		return
	}
	if to.enqueueFrame(frame) == nil {
		*sent = append(*sent, delivery{to: to, typ: typ, frame: frame})
	}
}

// finish emits the accounting for frames enqueued under the server mutex.
func (s *Server) finish(sent []delivery) {
	for _, d := range sent {
		s.obs.EnvelopeWritten(string(d.typ), len(d.frame))
		if d.to.userID != "" {
			s.perf.recordSent(d.to.userID, len(d.frame))
		}
	}
}

// sendError answers a request with an error envelope. A fatal error also
// closes the session; the queued envelope still drains first.
func (s *Server) sendError(sess *session, err error) {
	env := wire.Error{
		Header: wire.NewHeader(wire.TypeError),
		Error:  ircerrors.MessageOf(err),
		Code:   string(ircerrors.CodeOf(err)),
	}
	s.send(sess, wire.TypeError, env)
	if ircerrors.Fatal(err) {
		sess.close(observability.CloseReasonAuthFailed)
	}
}

// reject answers a request with an error and tallies the dropped frame.
func (s *Server) reject(sess *session, why observability.DropReason, err error) {
	s.obs.EnvelopeDropped(why)
	s.sendError(sess, err)
}

func (s *Server) sendRateLimited(sess *session, retry time.Duration) {
	env := wire.Error{
		Header:     wire.NewHeader(wire.TypeError),
		Error:      "Rate limit exceeded. Please slow down.",
		Code:       string(ircerrors.CodeRateLimited),
		RetryAfter: retry.Seconds(),
	}
	s.send(sess, wire.TypeError, env)
}

func ack(msg string) wire.Ack {
	return wire.Ack{Header: wire.NewHeader(wire.TypeAck), Success: true, Message: msg}
}
