package e2ee

import (
	"crypto/ecdh"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"

	"github.com/justirc/justirc-go/internal/securefile"
)

// IdentityFile is the JSON layout produced by the keygen tool and consumed
// by clients that keep a stable identity across runs.
//
// The file contains the raw X25519 private key bytes and must be kept
// secret.
type IdentityFile struct {
	PubKeyB64  string `json:"pubkey_b64u"`  // Base64url-encoded X25519 public key (32 bytes).
	PrivKeyB64 string `json:"privkey_b64u"` // Base64url-encoded X25519 private key (32 bytes).
}

// ExportIdentityFile serializes an identity key as JSON.
func ExportIdentityFile(priv *ecdh.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("missing identity key")
	}
	data, err := json.MarshalIndent(IdentityFile{
		PubKeyB64:  base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		PrivKeyB64: base64.RawURLEncoding.EncodeToString(priv.Bytes()),
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteIdentityFile writes the identity key to path with owner-only
// permissions.
func WriteIdentityFile(path string, priv *ecdh.PrivateKey) error {
	data, err := ExportIdentityFile(priv)
	if err != nil {
		return err
	}
	return securefile.WriteFileAtomic(path, data, 0o600)
}

// LoadIdentityFile loads an identity key from a JSON file, verifying that
// the stored public key matches the private key.
func LoadIdentityFile(path string) (*ecdh.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f IdentityFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.PrivKeyB64 == "" {
		return nil, errors.New("invalid identity file")
	}
	raw, err := base64.RawURLEncoding.DecodeString(f.PrivKeyB64)
	if err != nil {
		return nil, err
	}
	priv, err := ecdh.X25519().NewPrivateKey(raw)
	if err != nil {
		return nil, err
	}
	if f.PubKeyB64 != "" {
		pubRaw, err := base64.RawURLEncoding.DecodeString(f.PubKeyB64)
		if err != nil {
			return nil, err
		}
		pub, err := ecdh.X25519().NewPublicKey(pubRaw)
		if err != nil {
			return nil, err
		}
		if !priv.PublicKey().Equal(pub) {
			return nil, errors.New("identity file public key does not match private key")
		}
	}
	return priv, nil
}
