package e2ee

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// GenerateIdentity creates a fresh X25519 identity keypair.
func GenerateIdentity() (*ecdh.PrivateKey, error) {
	return ecdh.X25519().GenerateKey(rand.Reader)
}

// EncodePublicKey renders a raw X25519 public key as standard base64, the
// form advertised at registration and in member lists.
func EncodePublicKey(pub *ecdh.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub.Bytes())
}

// DecodePublicKey parses a base64 public key received from a peer.
func DecodePublicKey(pubB64 string) (*ecdh.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(raw))
	}
	pub, err := ecdh.X25519().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

// derivePairwiseKey runs ECDH and expands the shared point into the 32-byte
// AEAD key: HKDF-SHA256 with empty salt and the protocol info string.
func derivePairwiseKey(priv *ecdh.PrivateKey, peer *ecdh.PublicKey) ([]byte, error) {
	shared, err := priv.ECDH(peer)
	if err != nil {
		return nil, err
	}
	r := hkdf.New(sha256.New, shared, nil, []byte(KDFInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateChannelKey returns a fresh 32-byte channel AEAD key as base64. The
// broker calls this once when a channel record is first constructed and
// redistributes the same key to every joiner; it is never rotated.
func GenerateChannelKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
