package e2ee

import (
	"fmt"
	"sort"

	"golang.org/x/crypto/chacha20poly1305"
)

// DueForRotation reports whether the pairwise key for peerID has aged past
// the policy interval or sealed enough outbound messages to warrant a
// rekey. Unknown peers are never due.
func (k *KeyRing) DueForRotation(peerID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.peers[peerID]
	if !ok {
		return false
	}
	return k.dueLocked(p)
}

// PeersDue lists the peers whose pairwise keys should rotate, sorted.
func (k *KeyRing) PeersDue() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	var due []string
	for peerID, p := range k.peers {
		if k.dueLocked(p) {
			due = append(due, peerID)
		}
	}
	sort.Strings(due)
	return due
}

func (k *KeyRing) dueLocked(p *peerState) bool {
	if p.outCount >= k.policy.MaxMessagesPerKey {
		return true
	}
	return k.now().Sub(p.loadedAt) >= k.policy.RotationInterval
}

// RotateIdentity generates a fresh identity keypair and re-derives every
// loaded pairwise key against it, resetting their rotation counters.
// Channel keys are untouched. The caller announces the returned public key
// to each peer via rekey_request; until a peer re-derives from it, sealed
// traffic in either direction will not open.
func (k *KeyRing) RotateIdentity() (newPublicKeyB64 string, err error) {
	priv, err := GenerateIdentity()
	if err != nil {
		return "", err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	rederived := make(map[string]*peerState, len(k.peers))
	now := k.now()
	for peerID, p := range k.peers {
		key, err := derivePairwiseKey(priv, p.pub)
		if err != nil {
			return "", fmt.Errorf("rederive %s: %w", peerID, err)
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return "", err
		}
		rederived[peerID] = &peerState{pub: p.pub, aead: aead, loadedAt: now}
	}
	k.identity = priv
	k.peers = rederived
	k.keyVersion++
	return EncodePublicKey(priv.PublicKey()), nil
}
