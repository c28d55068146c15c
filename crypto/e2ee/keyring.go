package e2ee

import (
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// Policy controls when a pairwise key is due for rotation.
type Policy struct {
	// RotationInterval is the maximum wall-clock age of a pairwise key.
	RotationInterval time.Duration
	// MaxMessagesPerKey is the maximum number of outbound messages sealed
	// under one pairwise key.
	MaxMessagesPerKey int
}

// DefaultPolicy returns the standard rotation policy.
func DefaultPolicy() Policy {
	return Policy{
		RotationInterval:  time.Hour,
		MaxMessagesPerKey: 10000,
	}
}

type peerState struct {
	pub      *ecdh.PublicKey
	aead     cipher.AEAD
	loadedAt time.Time
	outCount int
}

type channelState struct {
	aead cipher.AEAD
}

// KeyRing holds a client's identity key plus the derived pairwise and channel
// AEADs. All methods are safe for concurrent use.
type KeyRing struct {
	mu         sync.Mutex
	identity   *ecdh.PrivateKey
	policy     Policy
	peers      map[string]*peerState
	channels   map[string]*channelState
	keyVersion int
	now        func() time.Time
}

// NewKeyRing generates a fresh identity and an empty ring. Zero policy
// fields fall back to DefaultPolicy values.
func NewKeyRing(policy Policy) (*KeyRing, error) {
	priv, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	return NewKeyRingWithIdentity(priv, policy), nil
}

// NewKeyRingWithIdentity builds a ring around an existing identity key,
// typically one loaded from a key file.
func NewKeyRingWithIdentity(priv *ecdh.PrivateKey, policy Policy) *KeyRing {
	def := DefaultPolicy()
	if policy.RotationInterval <= 0 {
		policy.RotationInterval = def.RotationInterval
	}
	if policy.MaxMessagesPerKey <= 0 {
		policy.MaxMessagesPerKey = def.MaxMessagesPerKey
	}
	return &KeyRing{
		identity: priv,
		policy:   policy,
		peers:    make(map[string]*peerState),
		channels: make(map[string]*channelState),
		now:      time.Now,
	}
}

// PublicKeyBase64 returns the current identity public key in wire form.
func (k *KeyRing) PublicKeyBase64() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return EncodePublicKey(k.identity.PublicKey())
}

// KeyVersion counts identity rotations since the ring was created.
func (k *KeyRing) KeyVersion() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keyVersion
}

// LoadPeerKey derives fresh pairwise key material for peerID from its
// advertised public key. Reloading a peer resets its rotation counters.
func (k *KeyRing) LoadPeerKey(peerID, publicKeyB64 string) error {
	pub, err := DecodePublicKey(publicKeyB64)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loadPeerLocked(peerID, pub)
}

func (k *KeyRing) loadPeerLocked(peerID string, pub *ecdh.PublicKey) error {
	key, err := derivePairwiseKey(k.identity, pub)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return err
	}
	k.peers[peerID] = &peerState{
		pub:      pub,
		aead:     aead,
		loadedAt: k.now(),
	}
	return nil
}

// HasPeer reports whether key material is loaded for peerID.
func (k *KeyRing) HasPeer(peerID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.peers[peerID]
	return ok
}

// ForgetPeer drops a peer's key material, e.g. when it disconnects.
func (k *KeyRing) ForgetPeer(peerID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.peers, peerID)
}

// EncryptTo seals plaintext for peerID under the pairwise key and returns
// the base64 ciphertext and nonce pair transmitted on the wire.
func (k *KeyRing) EncryptTo(peerID string, plaintext []byte) (ciphertextB64, nonceB64 string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.peers[peerID]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	ct, nonce, err := seal(p.aead, plaintext)
	if err != nil {
		return "", "", err
	}
	p.outCount++
	return ct, nonce, nil
}

// DecryptFrom opens a pairwise ciphertext received from peerID.
func (k *KeyRing) DecryptFrom(peerID, ciphertextB64, nonceB64 string) ([]byte, error) {
	k.mu.Lock()
	p, ok := k.peers[peerID]
	k.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	return open(p.aead, ciphertextB64, nonceB64)
}

// LoadChannelKey installs the AEAD key distributed by the broker for channel.
func (k *KeyRing) LoadChannelKey(channel, keyB64 string) error {
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(raw))
	}
	aead, err := chacha20poly1305.New(raw)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.channels[channel] = &channelState{aead: aead}
	return nil
}

// HasChannelKey reports whether a key is loaded for channel.
func (k *KeyRing) HasChannelKey(channel string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.channels[channel]
	return ok
}

// ForgetChannel drops a channel key, e.g. after leaving.
func (k *KeyRing) ForgetChannel(channel string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.channels, channel)
}

// EncryptChannel seals plaintext under the channel key.
func (k *KeyRing) EncryptChannel(channel string, plaintext []byte) (ciphertextB64, nonceB64 string, err error) {
	k.mu.Lock()
	c, ok := k.channels[channel]
	k.mu.Unlock()
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return seal(c.aead, plaintext)
}

// DecryptChannel opens a channel ciphertext.
func (k *KeyRing) DecryptChannel(channel, ciphertextB64, nonceB64 string) ([]byte, error) {
	k.mu.Lock()
	c, ok := k.channels[channel]
	k.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return open(c.aead, ciphertextB64, nonceB64)
}

func seal(aead cipher.AEAD, plaintext []byte) (ciphertextB64, nonceB64 string, err error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", "", err
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(nonce), nil
}

func open(aead cipher.AEAD, ciphertextB64, nonceB64 string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrDecrypt)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad encoding", ErrInvalidNonce)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidNonce, len(nonce))
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}
