package broker

import (
	"sync"
	"time"

	"github.com/pion/logging"
)

// rateWindow is how many recent message timestamps feed the throughput
// estimate.
const rateWindow = 1000

// connMetrics tracks one registered session's traffic counters.
type connMetrics struct {
	connectedAt  time.Time
	lastActivity time.Time
	messagesSent int64
	messagesRecv int64
	bytesSent    int64
	bytesRecv    int64
}

// PerfSummary is a point-in-time view of broker throughput.
type PerfSummary struct {
	Uptime          time.Duration
	Connections     int
	PeakConnections int
	TotalMessages   int64
	TotalBytes      int64
	MessageRate     float64
	BusiestChannel  string
	BusiestMessages int64
}

// perfMonitor aggregates per-session and per-channel traffic counters. All
// methods are safe for concurrent use.
type perfMonitor struct {
	log logging.LeveledLogger
	now func() time.Time

	mu          sync.Mutex
	conns       map[string]*connMetrics
	peak        int
	totalMsgs   int64
	totalBytes  int64
	channelMsgs map[string]int64
	stamps      []time.Time
	next        int
	filled      bool
	started     time.Time
}

func newPerfMonitor(log logging.LeveledLogger) *perfMonitor {
	m := &perfMonitor{
		log:         log,
		now:         time.Now,
		conns:       make(map[string]*connMetrics),
		channelMsgs: make(map[string]int64),
		stamps:      make([]time.Time, rateWindow),
	}
	m.started = m.now()
	return m
}

func (m *perfMonitor) register(uid string) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[uid] = &connMetrics{connectedAt: now, lastActivity: now}
	if len(m.conns) > m.peak {
		m.peak = len(m.conns)
	}
}

func (m *perfMonitor) unregister(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, uid)
}

// record updates one direction of a session's counters and stamps the
// throughput window. Activity in either direction keeps a session fresh for
// the idle sweep.
func (m *perfMonitor) record(uid string, n int, sent bool) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalMsgs++
	m.totalBytes += int64(n)
	m.stamps[m.next] = now
	m.next++
	if m.next == len(m.stamps) {
		m.next = 0
		m.filled = true
	}
	c := m.conns[uid]
	if c == nil {
		return
	}
	c.lastActivity = now
	if sent {
		c.messagesSent++
		c.bytesSent += int64(n)
	} else {
		c.messagesRecv++
		c.bytesRecv += int64(n)
	}
}

func (m *perfMonitor) recordSent(uid string, n int)     { m.record(uid, n, true) }
func (m *perfMonitor) recordReceived(uid string, n int) { m.record(uid, n, false) }

func (m *perfMonitor) recordChannelMessage(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channelMsgs[channel]++
}

// idle returns the ids of sessions with no traffic in either direction for
// longer than threshold.
func (m *perfMonitor) idle(threshold time.Duration) []string {
	cutoff := m.now().Add(-threshold)
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for uid, c := range m.conns {
		if c.lastActivity.Before(cutoff) {
			ids = append(ids, uid)
		}
	}
	return ids
}

func (m *perfMonitor) metrics(uid string) (connMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[uid]
	if !ok {
		return connMetrics{}, false
	}
	return *c, true
}

// messageRate returns messages per second over the recent window.
func (m *perfMonitor) messageRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messageRateLocked()
}

func (m *perfMonitor) messageRateLocked() float64 {
	count := m.next
	oldest := m.stamps[0]
	if m.filled {
		count = len(m.stamps)
		oldest = m.stamps[m.next]
	}
	if count < 2 {
		return 0
	}
	span := m.now().Sub(oldest)
	if span <= 0 {
		return 0
	}
	return float64(count) / span.Seconds()
}

// summary snapshots the aggregate counters.
func (m *perfMonitor) summary() PerfSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := PerfSummary{
		Uptime:          m.now().Sub(m.started),
		Connections:     len(m.conns),
		PeakConnections: m.peak,
		TotalMessages:   m.totalMsgs,
		TotalBytes:      m.totalBytes,
		MessageRate:     m.messageRateLocked(),
	}
	for ch, n := range m.channelMsgs {
		if n > s.BusiestMessages {
			s.BusiestChannel, s.BusiestMessages = ch, n
		}
	}
	return s
}

// logSummary writes the periodic performance report.
func (m *perfMonitor) logSummary(channels int) {
	s := m.summary()
	m.log.Infof("=== Performance Summary ===")
	m.log.Infof("uptime: %s", s.Uptime.Round(time.Second))
	m.log.Infof("connections: %d (peak %d)", s.Connections, s.PeakConnections)
	m.log.Infof("messages: %d total, %.2f/s", s.TotalMessages, s.MessageRate)
	m.log.Infof("traffic: %.2f MB", float64(s.TotalBytes)/(1024*1024))
	if s.BusiestChannel != "" {
		m.log.Infof("channels: %d (most active %s, %d messages)", channels, s.BusiestChannel, s.BusiestMessages)
	} else {
		m.log.Infof("channels: %d", channels)
	}
}
