package transfer

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/justirc/justirc-go/internal/securefile"
	"github.com/justirc/justirc-go/wire"
)

// ResumeState is the per-transfer resume document. Chunk payloads are not
// persisted, so a resumed receive starts with no data; ReceivedIndices
// records what the previous process held and therefore what a re-request
// round can skip.
type ResumeState struct {
	TransferID      string   `json:"transfer_id"`
	Direction       string   `json:"direction"`
	PeerID          string   `json:"peer_id"`
	TotalChunks     int      `json:"total_chunks"`
	ReceivedIndices []int    `json:"received_indices,omitempty"`
	SentChunks      int      `json:"sent_chunks,omitempty"`
	Metadata        Metadata `json:"metadata"`
	Timestamp       float64  `json:"timestamp"`
}

// SaveState writes the transfer's resume document, either direction. It is
// a no-op without a state directory.
func (m *Manager) SaveState(transferID string) error {
	if m.stateDir == "" {
		return nil
	}
	m.mu.Lock()
	var state *ResumeState
	if out, ok := m.sending[transferID]; ok {
		state = &ResumeState{
			TransferID:  transferID,
			Direction:   DirectionSending,
			PeerID:      out.peerID,
			TotalChunks: len(out.chunks),
			SentChunks:  out.sent,
			Metadata:    out.meta,
		}
	} else if in, ok := m.receiving[transferID]; ok {
		var have []int
		for i, c := range in.chunks {
			if c != nil {
				have = append(have, i)
			}
		}
		state = &ResumeState{
			TransferID:      transferID,
			Direction:       DirectionReceiving,
			PeerID:          in.peerID,
			TotalChunks:     len(in.chunks),
			ReceivedIndices: have,
			Metadata:        in.meta,
		}
	}
	m.mu.Unlock()
	if state == nil {
		return ErrUnknown
	}
	state.Timestamp = wire.Now()
	return securefile.WriteJSONAtomic(m.statePath(transferID), state, 0o600)
}

// LoadState reads a resume document, or ErrUnknown if none exists.
func (m *Manager) LoadState(transferID string) (*ResumeState, error) {
	if m.stateDir == "" {
		return nil, ErrUnknown
	}
	data, err := os.ReadFile(m.statePath(transferID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUnknown
		}
		return nil, err
	}
	var state ResumeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ResumeReceive re-enters receiving state from a saved document. The
// transfer restarts accepted and empty; the returned document's
// ReceivedIndices tell the caller which chunks not to re-request from the
// peer.
func (m *Manager) ResumeReceive(transferID string) (*ResumeState, error) {
	state, err := m.LoadState(transferID)
	if err != nil {
		return nil, err
	}
	if state.Direction != DirectionReceiving {
		return nil, ErrUnknown
	}
	if state.TotalChunks <= 0 || state.TotalChunks > maxChunks {
		return nil, ErrChunkRange
	}
	m.mu.Lock()
	m.receiving[transferID] = &incoming{
		peerID:   state.PeerID,
		meta:     state.Metadata,
		chunks:   make([][]byte, state.TotalChunks),
		decided:  true,
		accepted: true,
	}
	m.mu.Unlock()
	return state, nil
}

// ClearState removes the transfer's resume document, if any.
func (m *Manager) ClearState(transferID string) {
	if m.stateDir == "" {
		return
	}
	if err := os.Remove(m.statePath(transferID)); err != nil && !os.IsNotExist(err) {
		m.log.Warnf("removing resume state %s: %v", transferID, err)
	}
}

func (m *Manager) statePath(transferID string) string {
	return filepath.Join(m.stateDir, transferID+".json")
}
