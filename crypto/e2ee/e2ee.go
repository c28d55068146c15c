// Package e2ee implements the client-side cryptography: X25519 identity
// keys, pairwise keys derived via HKDF-SHA256, channel keys, and the
// ChaCha20-Poly1305 envelope encryption used for every payload. The broker
// routes the resulting ciphertext without ever holding key material.
package e2ee

import "errors"

// KDFInfo is the HKDF info string binding derived keys to this protocol.
const KDFInfo = "JustIRC-E2E-Encryption"

const (
	// KeySize is the size of pairwise and channel AEAD keys.
	KeySize = 32
	// NonceSize is the ChaCha20-Poly1305 nonce size; a fresh random nonce is
	// drawn per message.
	NonceSize = 12
	// PublicKeySize is the raw X25519 public key size.
	PublicKeySize = 32
)

var (
	// ErrUnknownPeer indicates no key material is loaded for the peer.
	ErrUnknownPeer = errors.New("e2ee: unknown peer")
	// ErrUnknownChannel indicates no key is loaded for the channel.
	ErrUnknownChannel = errors.New("e2ee: unknown channel")
	// ErrInvalidKey indicates a key that is not valid base64 or has the wrong size.
	ErrInvalidKey = errors.New("e2ee: invalid key")
	// ErrInvalidNonce indicates a nonce that is not valid base64 or has the wrong size.
	ErrInvalidNonce = errors.New("e2ee: invalid nonce")
	// ErrDecrypt indicates AEAD authentication failed. The message is
	// discarded locally; this never becomes a protocol error.
	ErrDecrypt = errors.New("e2ee: decryption failed")
)
