package broker

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/justirc/justirc-go/wire"
)

// newTestServer starts a broker on a loopback listener with state rooted in
// a temp dir. mutate adjusts the config before startup.
func newTestServer(t *testing.T, mutate func(*Config)) (*Server, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, ln.Addr().String()
}

// testClient is a raw protocol client: it writes envelopes and reads frames
// with short deadlines so a missing reply fails the test instead of hanging.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *wire.Reader
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, r: wire.NewReader(conn, 256*1024)}
}

func (c *testClient) send(v any) {
	c.t.Helper()
	frame, err := wire.Marshal(v)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	c.sendRaw(string(frame))
}

func (c *testClient) sendRaw(line string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) read() map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	frame, err := c.r.ReadFrame()
	if err != nil {
		c.t.Fatalf("read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(frame, &m); err != nil {
		c.t.Fatalf("unmarshal %q: %v", frame, err)
	}
	return m
}

// readErr returns the transport error from the next read, nil when a frame
// arrived. Used to assert the broker hung up.
func (c *testClient) readErr() error {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := c.r.ReadFrame()
	return err
}

func (c *testClient) readType(want wire.Type) map[string]any {
	c.t.Helper()
	m := c.read()
	if got, _ := m["type"].(string); got != string(want) {
		c.t.Fatalf("envelope type = %v, want %s (envelope: %v)", m["type"], want, m)
	}
	return m
}

// next skips envelopes until one of type want arrives. Use where unrelated
// broadcasts may interleave; use readType where order is part of the test.
func (c *testClient) next(want wire.Type) map[string]any {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		m := c.read()
		if got, _ := m["type"].(string); got == string(want) {
			return m
		}
	}
	c.t.Fatalf("no %s envelope in the next 20 frames", want)
	return nil
}

func (c *testClient) register(nick string) {
	c.t.Helper()
	c.send(wire.Register{
		Header:    wire.NewHeader(wire.TypeRegister),
		Nickname:  nick,
		PublicKey: "pk-" + nick,
	})
	ackm := c.readType(wire.TypeAck)
	if ok, _ := ackm["success"].(bool); !ok {
		c.t.Fatalf("register ack: %v", ackm)
	}
	c.readType(wire.TypeUserList)
}

// createChannel drives the join machine with a creator password, answers
// the role-credential prompt with the same password, and returns the join
// ack.
func (c *testClient) createChannel(name, creatorPassword string) map[string]any {
	c.t.Helper()
	c.send(wire.JoinChannel{
		Header:          wire.NewHeader(wire.TypeJoinChannel),
		Channel:         name,
		CreatorPassword: creatorPassword,
	})
	prompt := c.next(wire.TypeOpPasswordRequest)
	if prompt["action"] != wire.OpPasswordActionSet {
		c.t.Fatalf("creation prompt action = %v, want set", prompt["action"])
	}
	c.send(wire.OpPasswordResponse{
		Header:   wire.NewHeader(wire.TypeOpPasswordReply),
		Channel:  name,
		Password: creatorPassword,
	})
	return c.next(wire.TypeAck)
}

func (c *testClient) join(name, password string) map[string]any {
	c.t.Helper()
	c.send(wire.JoinChannel{
		Header:   wire.NewHeader(wire.TypeJoinChannel),
		Channel:  name,
		Password: password,
	})
	return c.next(wire.TypeAck)
}

func errCode(m map[string]any) string {
	code, _ := m["code"].(string)
	return code
}
