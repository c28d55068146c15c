// Package ws upgrades broker HTTP endpoints to the websocket transport.
package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Conn is an accepted websocket connection. The broker session layer reads
// and writes through the raw gorilla conn so its deadline discipline applies
// unchanged; this wrapper only carries the handshake result.
type Conn struct {
	c *websocket.Conn
}

// UpgraderOptions bound the handshake buffers and the origin policy. A nil
// CheckOrigin keeps the upgrader's default, which admits only same-host
// origins.
type UpgraderOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// Upgrade switches an HTTP request to the websocket protocol. On failure the
// upgrader has already written the HTTP error response.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Conn, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// SetReadLimit caps incoming message size. An oversized frame closes the
// connection with status 1009.
func (c *Conn) SetReadLimit(n int64) { c.c.SetReadLimit(n) }

// Underlying exposes the raw gorilla connection.
func (c *Conn) Underlying() *websocket.Conn { return c.c }

// Close closes the connection without a close handshake.
func (c *Conn) Close() error { return c.c.Close() }
