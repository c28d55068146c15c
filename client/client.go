// Package client is a programmatic JustIRC client. It speaks the
// newline-delimited JSON envelope protocol to a broker over TCP, performs
// all end-to-end cryptography locally, and surfaces broker traffic as a
// typed event stream.
//
// The broker protocol carries no request identifiers, so calls that wait
// for a response (Join, Whois, and the other context-taking operations)
// hold an internal slot until the broker's next matching reply. Errors the
// broker emits for concurrent fire-and-forget sends can therefore resolve
// the active call instead of surfacing as an ErrorEvent; serialize calls
// that must not be disturbed.
package client

import (
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/justirc/justirc-go/crypto/e2ee"
	"github.com/justirc/justirc-go/transfer"
	"github.com/justirc/justirc-go/wire"
)

// checkRotationEvery is the cadence of the background key rotation sweep.
const checkRotationEvery = time.Minute

// Client is a registered session with a broker. Create one with Dial. All
// methods are safe for concurrent use.
type Client struct {
	cfg  options
	log  logging.LeveledLogger
	keys *e2ee.KeyRing
	xfer *transfer.Manager

	conn net.Conn
	r    *wire.Reader

	nickname     string
	userID       string
	sessionToken string
	welcome      string

	writeMu sync.Mutex

	mu       sync.Mutex
	peers    map[string]*Peer         // by user id
	byNick   map[string]string        // nickname -> user id
	channels map[string]*channelState // joined channels
	pend     *pendingOp

	reqMu sync.Mutex // serializes waiting calls

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	errMu   sync.Mutex
	readErr error
}

type channelState struct {
	topic     string
	protected bool
	operator  bool
	owner     bool
	members   map[string]wire.MemberInfo // by user id
}

// Events returns the stream of broker events. The channel closes when the
// connection ends; check Err afterwards for the cause.
func (c *Client) Events() <-chan Event { return c.events }

// Err reports why the event stream ended. It returns nil while the client
// is connected and after a clean shutdown.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

// Nickname returns the nickname this session registered.
func (c *Client) Nickname() string { return c.nickname }

// UserID returns the broker-assigned user id.
func (c *Client) UserID() string { return c.userID }

// SessionToken returns the resumable session token, when the broker runs
// with account authentication.
func (c *Client) SessionToken() string { return c.sessionToken }

// Welcome returns the broker's welcome description.
func (c *Client) Welcome() string { return c.welcome }

// PublicKey returns the current identity public key in wire form. It
// changes when the background rotation sweep rotates the identity.
func (c *Client) PublicKey() string { return c.keys.PublicKeyBase64() }

// KeyRing exposes the session's key material, e.g. to persist the identity.
func (c *Client) KeyRing() *e2ee.KeyRing { return c.keys }

// Peer looks up the cached key and presence state for a nickname.
func (c *Client) Peer(nickname string) (Peer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uid, ok := c.byNick[nickname]
	if !ok {
		return Peer{}, false
	}
	p, ok := c.peers[uid]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Peers snapshots the key and presence cache.
func (c *Client) Peers() []Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Peer, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, *p)
	}
	return out
}

// Channel reports the latest known state of a joined channel.
func (c *Client) Channel(name string) (ChannelInfo, bool) {
	name = normalizeChannel(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.channels[name]
	if !ok {
		return ChannelInfo{}, false
	}
	return c.channelInfoLocked(name, st), true
}

// Channels lists the channels this session is a member of.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for name := range c.channels {
		out = append(out, name)
	}
	return out
}

func (c *Client) channelInfoLocked(name string, st *channelState) ChannelInfo {
	info := ChannelInfo{
		Name:      name,
		Topic:     st.topic,
		Protected: st.protected,
		Operator:  st.operator,
		Owner:     st.owner,
		Members:   make([]wire.MemberInfo, 0, len(st.members)),
	}
	for _, m := range st.members {
		info.Members = append(info.Members, m)
	}
	return info
}

// Close sends a disconnect, tears the connection down, and waits for the
// event stream to drain. It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		// Best effort; the broker also handles an abrupt close.
		_ = c.write(wire.Disconnect{Header: wire.NewHeader(wire.TypeDisconnect)})
		_ = c.conn.SetReadDeadline(time.Now())
		c.closeErr = c.conn.Close()
		c.wg.Wait()
	})
	return c.closeErr
}

// write marshals v and sends it as one frame. Writes are serialized and
// each carries its own deadline.
func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout)); err != nil {
			return err
		}
	}
	return wire.WriteFrame(c.conn, v)
}

// upsertPeerLocked refreshes the cache and pairwise key for one user.
func (c *Client) upsertPeerLocked(uid, nickname, publicKey string, online bool) {
	p := c.peers[uid]
	if p == nil {
		p = &Peer{UserID: uid}
		c.peers[uid] = p
	}
	if nickname != "" {
		p.Nickname = nickname
		c.byNick[nickname] = uid
	}
	p.Online = online
	if publicKey != "" && publicKey != p.PublicKey {
		p.PublicKey = publicKey
		if err := c.keys.LoadPeerKey(uid, publicKey); err != nil {
			c.log.Warnf("bad public key for %s: %v", uid, err)
		}
	}
}
