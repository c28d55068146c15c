package broker

import (
	"testing"
	"time"

	"github.com/pion/logging"
)

func newTestMonitor() (*perfMonitor, *time.Time) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m := newPerfMonitor(logging.NewDefaultLoggerFactory().NewLogger("test"))
	m.now = func() time.Time { return now }
	m.started = now
	return m, &now
}

func TestPerfPeakConnections(t *testing.T) {
	m, _ := newTestMonitor()

	m.register("user_a")
	m.register("user_b")
	m.register("user_c")
	m.unregister("user_c")
	m.register("user_d")

	s := m.summary()
	if s.Connections != 3 {
		t.Fatalf("connections = %d, want 3", s.Connections)
	}
	if s.PeakConnections != 3 {
		t.Fatalf("peak = %d, want 3", s.PeakConnections)
	}

	m.register("user_e")
	if s := m.summary(); s.PeakConnections != 4 {
		t.Fatalf("peak after fourth = %d, want 4", s.PeakConnections)
	}
}

func TestPerfRecordDirections(t *testing.T) {
	m, _ := newTestMonitor()
	m.register("user_a")

	m.recordSent("user_a", 100)
	m.recordSent("user_a", 50)
	m.recordReceived("user_a", 7)

	c, ok := m.metrics("user_a")
	if !ok {
		t.Fatalf("metrics missing for registered session")
	}
	if c.messagesSent != 2 || c.bytesSent != 150 {
		t.Fatalf("sent = %d msgs %d bytes, want 2/150", c.messagesSent, c.bytesSent)
	}
	if c.messagesRecv != 1 || c.bytesRecv != 7 {
		t.Fatalf("recv = %d msgs %d bytes, want 1/7", c.messagesRecv, c.bytesRecv)
	}

	s := m.summary()
	if s.TotalMessages != 3 || s.TotalBytes != 157 {
		t.Fatalf("totals = %d msgs %d bytes, want 3/157", s.TotalMessages, s.TotalBytes)
	}

	// Traffic for an unknown id still counts toward the aggregate.
	m.recordSent("user_ghost", 10)
	if s := m.summary(); s.TotalMessages != 4 {
		t.Fatalf("totals after ghost = %d, want 4", s.TotalMessages)
	}
}

func TestPerfIdleSweep(t *testing.T) {
	m, now := newTestMonitor()
	m.register("user_stale")
	m.register("user_fresh")

	*now = now.Add(5 * time.Minute)
	m.recordReceived("user_fresh", 1)

	*now = now.Add(5 * time.Minute)
	ids := m.idle(6 * time.Minute)
	if len(ids) != 1 || ids[0] != "user_stale" {
		t.Fatalf("idle = %v, want [user_stale]", ids)
	}
	if ids := m.idle(time.Hour); len(ids) != 0 {
		t.Fatalf("idle with long threshold = %v, want none", ids)
	}
}

func TestPerfMessageRate(t *testing.T) {
	m, now := newTestMonitor()

	if r := m.messageRate(); r != 0 {
		t.Fatalf("rate with no samples = %v, want 0", r)
	}
	m.recordSent("user_a", 1)
	if r := m.messageRate(); r != 0 {
		t.Fatalf("rate with one sample = %v, want 0", r)
	}

	// Ten more messages one second apart: eleven samples over ten seconds.
	for i := 0; i < 10; i++ {
		*now = now.Add(time.Second)
		m.recordSent("user_a", 1)
	}
	r := m.messageRate()
	if r < 1.05 || r > 1.15 {
		t.Fatalf("rate = %v, want ~1.1", r)
	}
}

func TestPerfBusiestChannel(t *testing.T) {
	m, _ := newTestMonitor()
	m.recordChannelMessage("#dev")
	m.recordChannelMessage("#dev")
	m.recordChannelMessage("#random")

	s := m.summary()
	if s.BusiestChannel != "#dev" || s.BusiestMessages != 2 {
		t.Fatalf("busiest = %s/%d, want #dev/2", s.BusiestChannel, s.BusiestMessages)
	}
}
