package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/justirc/justirc-go/crypto/e2ee"
	"github.com/justirc/justirc-go/internal/channelname"
	"github.com/justirc/justirc-go/internal/userid"
	"github.com/justirc/justirc-go/transfer"
	"github.com/justirc/justirc-go/wire"
)

func normalizeChannel(name string) string { return channelname.Normalize(name) }

// Dial connects to a broker, registers nickname, and returns a live client
// once the broker's welcome arrives. Registration rejections come back as
// *ProtocolError. The initial roster and any envelopes queued while the
// user was offline arrive on the event stream.
func Dial(ctx context.Context, addr, nickname string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, ErrMissingAddress
	}
	if nickname == "" {
		return nil, ErrMissingNickname
	}
	if err := userid.ValidateNickname(nickname); err != nil {
		return nil, err
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	loggerFactory := cfg.loggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	log := loggerFactory.NewLogger("client")

	identity := cfg.identity
	if identity == nil && cfg.identityPath != "" {
		identity, err = e2ee.LoadIdentityFile(cfg.identityPath)
		if err != nil {
			return nil, fmt.Errorf("load identity: %w", err)
		}
	}
	var keys *e2ee.KeyRing
	if identity != nil {
		keys = e2ee.NewKeyRingWithIdentity(identity, cfg.policy)
	} else {
		keys, err = e2ee.NewKeyRing(cfg.policy)
		if err != nil {
			return nil, err
		}
	}
	xfer, err := transfer.NewManager(transfer.Config{
		Cipher:        keys,
		StateDir:      cfg.stateDir,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := withTimeout(ctx, cfg.connectTimeout)
	defer cancel()
	dial := cfg.dialer
	if dial == nil {
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	conn, err := dial(connectCtx, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &Client{
		cfg:      cfg,
		log:      log,
		keys:     keys,
		xfer:     xfer,
		conn:     conn,
		r:        wire.NewReader(conn, wire.DefaultMaxFrameBytes),
		nickname: nickname,
		peers:    make(map[string]*Peer),
		byNick:   make(map[string]string),
		channels: make(map[string]*channelState),
		events:   make(chan Event, cfg.eventBuffer),
		closed:   make(chan struct{}),
	}
	if err := c.register(connectCtx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.rotationLoop()
	return c, nil
}

// register sends the register envelope and consumes the broker's verdict.
// Per the registration contract the welcome ack is the first frame on the
// wire, so nothing else needs to be parked.
func (c *Client) register(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		if err := c.conn.SetReadDeadline(dl); err != nil {
			return err
		}
	}
	err := c.write(wire.Register{
		Header:       wire.NewHeader(wire.TypeRegister),
		Nickname:     c.nickname,
		PublicKey:    c.keys.PublicKeyBase64(),
		Password:     c.cfg.password,
		SessionToken: c.cfg.sessionToken,
	})
	if err != nil {
		return err
	}
	frame, err := c.r.ReadFrame()
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	hdr, err := wire.DecodeHeader(frame)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	switch hdr.Type {
	case wire.TypeAck:
		var ack wire.Ack
		if err := wire.Unmarshal(frame, &ack); err != nil {
			return fmt.Errorf("register: %w", err)
		}
		if !ack.Success {
			return &ProtocolError{Code: CodeProtocol, Message: ack.Message}
		}
		c.userID = ack.UserID
		c.sessionToken = ack.SessionToken
		c.welcome = ack.Description
	case wire.TypeError:
		var e wire.Error
		if err := wire.Unmarshal(frame, &e); err != nil {
			return fmt.Errorf("register: %w", err)
		}
		return protocolError(&e)
	default:
		return fmt.Errorf("register: unexpected %s envelope", hdr.Type)
	}
	// The session read deadline is managed by Close from here on.
	return c.conn.SetReadDeadline(time.Time{})
}

// rotationLoop rotates the identity key once any pairwise key ages past
// the policy, announcing the new key to every known peer.
func (c *Client) rotationLoop() {
	defer c.wg.Done()
	t := time.NewTicker(checkRotationEvery)
	defer t.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-t.C:
			if len(c.keys.PeersDue()) == 0 {
				continue
			}
			if err := c.rotate(); err != nil {
				c.log.Warnf("key rotation: %v", err)
			}
		}
	}
}

// Rekey rotates the identity key now and announces the new key to every
// peer with loaded key material. The background policy check does the same
// once pairwise keys age past the rotation policy.
func (c *Client) Rekey() error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	return c.rotate()
}

// rotate generates a fresh identity and sends rekey_request to every peer
// with loaded key material. Peers re-derive on receipt; until then their
// inbound traffic will not open.
func (c *Client) rotate() error {
	newPub, err := c.keys.RotateIdentity()
	if err != nil {
		return err
	}
	c.mu.Lock()
	ids := make([]string, 0, len(c.peers))
	for uid := range c.peers {
		if c.keys.HasPeer(uid) {
			ids = append(ids, uid)
		}
	}
	c.mu.Unlock()
	for _, uid := range ids {
		err := c.write(wire.Rekey{
			Header:       wire.NewHeader(wire.TypeRekeyRequest),
			FromID:       c.userID,
			ToID:         uid,
			NewPublicKey: newPub,
		})
		if err != nil {
			return err
		}
	}
	c.log.Infof("rotated identity key, announced to %d peers", len(ids))
	return nil
}

// withTimeout narrows ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
