// Package transfer implements the chunked file-transfer envelope used for
// images and arbitrary files: senders split a payload into fixed-size
// chunks sealed with the pairwise key, receivers buffer sealed chunks
// until an accept decision, and both directions can persist resume state
// between processes. The broker only relays these frames; all sealing
// happens client side.
package transfer

import (
	"errors"
	"mime"
	"path/filepath"
	"strings"
)

// Transfer bounds. A full-size payload is exactly MaxFileSize/ChunkSize
// chunks, which also caps total_chunks on the receiving side.
const (
	ChunkSize   = 32 * 1024
	MaxFileSize = 100 * 1024 * 1024

	maxChunks = MaxFileSize / ChunkSize
)

// Transfer directions as persisted in resume state.
const (
	DirectionSending   = "sending"
	DirectionReceiving = "receiving"
)

var (
	ErrEmpty       = errors.New("transfer: file is empty")
	ErrTooLarge    = errors.New("transfer: file exceeds size limit")
	ErrUnknown     = errors.New("transfer: unknown transfer")
	ErrChunkRange  = errors.New("transfer: chunk index out of range")
	ErrIncomplete  = errors.New("transfer: chunks missing")
	ErrNotAccepted = errors.New("transfer: not accepted")
)

// Cipher seals and opens payloads with the pairwise key for a peer.
// *e2ee.KeyRing satisfies it.
type Cipher interface {
	EncryptTo(peerID string, plaintext []byte) (ciphertextB64, nonceB64 string, err error)
	DecryptFrom(peerID, ciphertextB64, nonceB64 string) ([]byte, error)
}

// Metadata describes the transferred file. It travels AEAD-sealed inside
// image_start, so the broker never sees filenames.
type Metadata struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
}

// MimeTypeOf guesses a content type from the filename extension, without
// any charset parameters. Unknown extensions map to octet-stream.
func MimeTypeOf(filename string) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if t == "" {
		return "application/octet-stream"
	}
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}

// split cuts data into ChunkSize pieces. The chunks alias data.
func split(data []byte) [][]byte {
	chunks := make([][]byte, 0, (len(data)+ChunkSize-1)/ChunkSize)
	for len(data) > ChunkSize {
		chunks = append(chunks, data[:ChunkSize])
		data = data[ChunkSize:]
	}
	return append(chunks, data)
}
