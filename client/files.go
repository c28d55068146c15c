package client

import (
	"context"
	"errors"

	"github.com/justirc/justirc-go/transfer"
	"github.com/justirc/justirc-go/wire"
)

// SendFile offers the file at path to a peer and streams its chunks. The
// whole payload travels AEAD-sealed under the pairwise key; the broker
// sees only sizes and the transfer id. Throughput is bounded by the
// broker's chunk budget, so very large files can take a while.
func (c *Client) SendFile(ctx context.Context, nickname, path string) (string, error) {
	uid, err := c.resolvePeer(ctx, nickname)
	if err != nil {
		return "", err
	}
	start, err := c.xfer.OfferFile(c.userID, uid, path)
	if err != nil {
		return "", err
	}
	return c.pushTransfer(start)
}

// SendData is SendFile for an in-memory payload.
func (c *Client) SendData(ctx context.Context, nickname string, data []byte, meta transfer.Metadata) (string, error) {
	uid, err := c.resolvePeer(ctx, nickname)
	if err != nil {
		return "", err
	}
	start, err := c.xfer.Offer(c.userID, uid, data, meta)
	if err != nil {
		return "", err
	}
	return c.pushTransfer(start)
}

func (c *Client) pushTransfer(start *wire.ImageStart) (string, error) {
	id := start.TransferID
	if err := c.write(start); err != nil {
		c.xfer.Cancel(id)
		return "", err
	}
	for {
		chunk, err := c.xfer.NextChunk(id)
		if err != nil {
			c.xfer.Cancel(id)
			return "", err
		}
		if chunk == nil {
			break
		}
		if err := c.write(chunk); err != nil {
			c.xfer.Cancel(id)
			return "", err
		}
	}
	end, err := c.xfer.FinishSend(id)
	if err != nil {
		return "", err
	}
	if err := c.write(end); err != nil {
		return "", err
	}
	return id, nil
}

// handleImageStart opens an incoming transfer and decides on it through
// the accept hook. Without a hook every offer is accepted.
func (c *Client) handleImageStart(msg *wire.ImageStart) {
	meta, err := c.xfer.BeginReceive(msg)
	if err != nil {
		c.log.Warnf("rejecting transfer %s from %s: %v", msg.TransferID, msg.FromID, err)
		return
	}
	from := c.nickOf(msg.FromID)
	accepted := c.cfg.acceptFile == nil || c.cfg.acceptFile(from, meta)
	if accepted {
		err = c.xfer.Accept(msg.TransferID)
	} else {
		err = c.xfer.Decline(msg.TransferID)
	}
	if err != nil {
		c.log.Warnf("transfer %s decision: %v", msg.TransferID, err)
		return
	}
	c.emit(FileOfferEvent{
		TransferID: msg.TransferID,
		FromID:     msg.FromID,
		From:       from,
		Meta:       meta,
		Accepted:   accepted,
	})
}

// handleImageChunk stores one chunk. Chunks for a declined or unknown
// transfer are dropped without comment.
func (c *Client) handleImageChunk(msg *wire.ImageChunk) {
	if _, err := c.xfer.AddChunk(msg); err != nil {
		if errors.Is(err, transfer.ErrUnknown) {
			return
		}
		c.log.Warnf("transfer %s chunk %d: %v", msg.TransferID, msg.ChunkIndex, err)
	}
}

// handleImageEnd assembles an accepted transfer and surfaces it.
func (c *Client) handleImageEnd(msg *wire.ImageEnd) {
	data, meta, err := c.xfer.Complete(msg.TransferID)
	if err != nil {
		if errors.Is(err, transfer.ErrUnknown) {
			return
		}
		c.log.Warnf("transfer %s: %v", msg.TransferID, err)
		return
	}
	c.emit(FileEvent{
		TransferID: msg.TransferID,
		FromID:     msg.FromID,
		From:       c.nickOf(msg.FromID),
		Meta:       meta,
		Data:       data,
	})
}
