package client

import (
	"context"

	"github.com/justirc/justirc-go/wire"
)

// SendPrivate encrypts text with the pairwise key for nickname and sends
// it. When no key material is cached the peer's public key is fetched
// first, which is the only case the context is consulted. The broker
// queues messages for offline recipients.
func (c *Client) SendPrivate(ctx context.Context, nickname, text string) error {
	if err := wire.CheckLen("message", text, wire.MaxMessageChars); err != nil {
		return err
	}
	uid, err := c.resolvePeer(ctx, nickname)
	if err != nil {
		return err
	}
	data, nonce, err := c.keys.EncryptTo(uid, []byte(text))
	if err != nil {
		return err
	}
	return c.write(wire.Encrypted{
		Header:        wire.NewHeader(wire.TypePrivateMessage),
		FromID:        c.userID,
		ToID:          uid,
		EncryptedData: data,
		Nonce:         nonce,
	})
}

// resolvePeer maps a nickname to a user id with pairwise key material
// loaded, asking the broker when the cache has neither.
func (c *Client) resolvePeer(ctx context.Context, nickname string) (string, error) {
	c.mu.Lock()
	uid := c.byNick[nickname]
	c.mu.Unlock()
	if uid != "" && c.keys.HasPeer(uid) {
		return uid, nil
	}
	p, err := c.LookupPeer(ctx, nickname)
	if err != nil {
		return "", err
	}
	return p.UserID, nil
}

// SendChannel encrypts text with the channel key and sends it to every
// member. The client must have joined the channel first.
func (c *Client) SendChannel(channel, text string) error {
	if err := wire.CheckLen("message", text, wire.MaxMessageChars); err != nil {
		return err
	}
	name := normalizeChannel(channel)
	c.mu.Lock()
	_, member := c.channels[name]
	c.mu.Unlock()
	if !member {
		return ErrNotInChannel
	}
	data, nonce, err := c.keys.EncryptChannel(name, []byte(text))
	if err != nil {
		return err
	}
	return c.write(wire.Encrypted{
		Header:        wire.NewHeader(wire.TypeChannelMessage),
		FromID:        c.userID,
		ToID:          name,
		EncryptedData: data,
		Nonce:         nonce,
	})
}

// SetStatus updates presence. Status must be one of online, away, busy or
// dnd; message is an optional free-form line shown alongside it.
func (c *Client) SetStatus(status, message string) error {
	if !wire.ValidStatus(status) {
		return &ProtocolError{Code: CodeInvalidInput, Message: "unknown status " + status}
	}
	if err := wire.CheckLen("status message", message, wire.MaxStatusChars); err != nil {
		return err
	}
	return c.write(wire.SetStatus{
		Header:        wire.NewHeader(wire.TypeSetStatus),
		Status:        status,
		CustomMessage: message,
	})
}
