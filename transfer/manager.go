package transfer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/justirc/justirc-go/internal/securefile"
	"github.com/justirc/justirc-go/wire"
)

// Config configures a Manager.
type Config struct {
	// Cipher seals outgoing and opens incoming payloads.
	Cipher Cipher
	// StateDir holds per-transfer resume documents. Empty disables resume.
	StateDir string
	// LoggerFactory provides the component logger; nil uses the default.
	LoggerFactory logging.LoggerFactory
}

type outgoing struct {
	fromID string
	peerID string
	meta   Metadata
	chunks [][]byte
	sent   int
}

type sealedChunk struct {
	index int
	data  string
	nonce string
}

type incoming struct {
	peerID   string
	meta     Metadata
	chunks   [][]byte
	received int
	decided  bool
	accepted bool
	// pending buffers sealed chunks that arrive before the accept
	// decision.
	pending []sealedChunk
}

// Manager tracks a client's in-flight transfers in both directions. All
// methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	cipher    Cipher
	stateDir  string
	sending   map[string]*outgoing
	receiving map[string]*incoming
	log       logging.LeveledLogger
}

// NewManager builds a Manager, creating cfg.StateDir when set.
func NewManager(cfg Config) (*Manager, error) {
	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	m := &Manager{
		cipher:    cfg.Cipher,
		stateDir:  cfg.StateDir,
		sending:   make(map[string]*outgoing),
		receiving: make(map[string]*incoming),
		log:       loggerFactory.NewLogger("transfer"),
	}
	if m.stateDir != "" {
		if err := securefile.MkdirAllOwnerOnly(m.stateDir); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// OfferFile reads and validates path, then registers it for sending.
func (m *Manager) OfferFile(fromID, peerID, path string) (*wire.ImageStart, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("transfer: %s is a directory", path)
	}
	if info.Size() == 0 {
		return nil, ErrEmpty
	}
	if info.Size() > MaxFileSize {
		return nil, ErrTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta := Metadata{
		Filename: filepath.Base(path),
		Size:     int64(len(data)),
		MimeType: MimeTypeOf(path),
	}
	return m.Offer(fromID, peerID, data, meta)
}

// Offer registers data for sending to peerID and returns the image_start
// frame announcing it. The manager retains data until the send finishes.
func (m *Manager) Offer(fromID, peerID string, data []byte, meta Metadata) (*wire.ImageStart, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if len(data) > MaxFileSize {
		return nil, ErrTooLarge
	}
	if meta.Size == 0 {
		meta.Size = int64(len(data))
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	encMeta, nonce, err := m.cipher.EncryptTo(peerID, metaJSON)
	if err != nil {
		return nil, err
	}
	chunks := split(data)
	id := wire.NewID()

	m.mu.Lock()
	m.sending[id] = &outgoing{fromID: fromID, peerID: peerID, meta: meta, chunks: chunks}
	m.mu.Unlock()

	return &wire.ImageStart{
		Header:            wire.NewHeader(wire.TypeImageStart),
		FromID:            fromID,
		ToID:              peerID,
		TransferID:        id,
		TotalChunks:       len(chunks),
		EncryptedMetadata: encMeta,
		Nonce:             nonce,
	}, nil
}

// NextChunk seals and returns the next unsent chunk, or nil when every
// chunk has been produced.
func (m *Manager) NextChunk(transferID string) (*wire.ImageChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.sending[transferID]
	if !ok {
		return nil, ErrUnknown
	}
	if out.sent >= len(out.chunks) {
		return nil, nil
	}
	enc, nonce, err := m.cipher.EncryptTo(out.peerID, out.chunks[out.sent])
	if err != nil {
		return nil, err
	}
	c := &wire.ImageChunk{
		Header:        wire.NewHeader(wire.TypeImageChunk),
		FromID:        out.fromID,
		ToID:          out.peerID,
		TransferID:    transferID,
		ChunkIndex:    out.sent,
		EncryptedData: enc,
		Nonce:         nonce,
	}
	out.sent++
	return c, nil
}

// FinishSend returns the closing image_end frame and drops sender state.
// It fails if chunks remain unsent.
func (m *Manager) FinishSend(transferID string) (*wire.ImageEnd, error) {
	m.mu.Lock()
	out, ok := m.sending[transferID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrUnknown
	}
	if out.sent < len(out.chunks) {
		m.mu.Unlock()
		return nil, ErrIncomplete
	}
	delete(m.sending, transferID)
	m.mu.Unlock()

	m.ClearState(transferID)
	return &wire.ImageEnd{
		Header:     wire.NewHeader(wire.TypeImageEnd),
		FromID:     out.fromID,
		ToID:       out.peerID,
		TransferID: transferID,
	}, nil
}

// SendProgress reports sent and total chunk counts for an outgoing
// transfer.
func (m *Manager) SendProgress(transferID string) (sent, total int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, found := m.sending[transferID]
	if !found {
		return 0, 0, false
	}
	return out.sent, len(out.chunks), true
}

// BeginReceive opens the sealed metadata from an image_start and registers
// the transfer, pending an accept decision. The peer-supplied transfer id
// must be a UUID: it becomes a map key and a resume filename.
func (m *Manager) BeginReceive(start *wire.ImageStart) (Metadata, error) {
	if err := uuid.Validate(start.TransferID); err != nil {
		return Metadata{}, fmt.Errorf("transfer: bad transfer id %q", start.TransferID)
	}
	if start.TotalChunks <= 0 || start.TotalChunks > maxChunks {
		return Metadata{}, fmt.Errorf("%w: total_chunks %d", ErrChunkRange, start.TotalChunks)
	}
	metaJSON, err := m.cipher.DecryptFrom(start.FromID, start.EncryptedMetadata, start.Nonce)
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return Metadata{}, fmt.Errorf("transfer: bad metadata: %w", err)
	}

	m.mu.Lock()
	m.receiving[start.TransferID] = &incoming{
		peerID: start.FromID,
		meta:   meta,
		chunks: make([][]byte, start.TotalChunks),
	}
	m.mu.Unlock()
	return meta, nil
}

// Accept admits a pending transfer and opens any chunks buffered before
// the decision.
func (m *Manager) Accept(transferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.receiving[transferID]
	if !ok {
		return ErrUnknown
	}
	in.decided = true
	in.accepted = true
	for _, s := range in.pending {
		if err := m.storeChunkLocked(in, s); err != nil {
			return err
		}
	}
	in.pending = nil
	return nil
}

// Decline drops all state for a pending transfer. Later chunks for the id
// report ErrUnknown and can be ignored.
func (m *Manager) Decline(transferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.receiving[transferID]; !ok {
		return ErrUnknown
	}
	delete(m.receiving, transferID)
	return nil
}

// AddChunk records one image_chunk. Before the accept decision the sealed
// chunk is buffered; afterwards it is opened in place. It reports whether
// the transfer is complete.
func (m *Manager) AddChunk(chunk *wire.ImageChunk) (complete bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.receiving[chunk.TransferID]
	if !ok {
		return false, ErrUnknown
	}
	if chunk.ChunkIndex < 0 || chunk.ChunkIndex >= len(in.chunks) {
		return false, fmt.Errorf("%w: index %d of %d", ErrChunkRange, chunk.ChunkIndex, len(in.chunks))
	}
	s := sealedChunk{index: chunk.ChunkIndex, data: chunk.EncryptedData, nonce: chunk.Nonce}
	if !in.decided {
		in.pending = append(in.pending, s)
		return false, nil
	}
	if !in.accepted {
		return false, ErrNotAccepted
	}
	if err := m.storeChunkLocked(in, s); err != nil {
		return false, err
	}
	return in.received == len(in.chunks), nil
}

// storeChunkLocked opens a sealed chunk into its slot. Duplicate indices
// overwrite without double-counting.
func (m *Manager) storeChunkLocked(in *incoming, s sealedChunk) error {
	plain, err := m.cipher.DecryptFrom(in.peerID, s.data, s.nonce)
	if err != nil {
		return err
	}
	if len(plain) > ChunkSize {
		return fmt.Errorf("%w: chunk of %d bytes", ErrChunkRange, len(plain))
	}
	if in.chunks[s.index] == nil {
		in.received++
	}
	in.chunks[s.index] = plain
	return nil
}

// Complete finishes an accepted transfer on image_end, returning the
// reassembled payload and its metadata and dropping all state.
func (m *Manager) Complete(transferID string) ([]byte, Metadata, error) {
	m.mu.Lock()
	in, ok := m.receiving[transferID]
	if !ok {
		m.mu.Unlock()
		return nil, Metadata{}, ErrUnknown
	}
	if !in.decided || !in.accepted {
		m.mu.Unlock()
		return nil, Metadata{}, ErrNotAccepted
	}
	if in.received != len(in.chunks) {
		m.mu.Unlock()
		return nil, Metadata{}, fmt.Errorf("%w: %d of %d chunks", ErrIncomplete, in.received, len(in.chunks))
	}
	size := 0
	for _, c := range in.chunks {
		size += len(c)
	}
	data := make([]byte, 0, size)
	for _, c := range in.chunks {
		data = append(data, c...)
	}
	delete(m.receiving, transferID)
	m.mu.Unlock()

	m.ClearState(transferID)
	return data, in.meta, nil
}

// ReceiveProgress reports received and total chunk counts for an incoming
// transfer, counting buffered pre-decision chunks.
func (m *Manager) ReceiveProgress(transferID string) (received, total int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, found := m.receiving[transferID]
	if !found {
		return 0, 0, false
	}
	return in.received + len(in.pending), len(in.chunks), true
}

// NeededIndices lists the chunk indices an accepted transfer still lacks.
func (m *Manager) NeededIndices(transferID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.receiving[transferID]
	if !ok {
		return nil, ErrUnknown
	}
	var need []int
	for i, c := range in.chunks {
		if c == nil {
			need = append(need, i)
		}
	}
	return need, nil
}

// Cancel drops any state for the transfer in either direction, including
// its resume document.
func (m *Manager) Cancel(transferID string) {
	m.mu.Lock()
	delete(m.sending, transferID)
	delete(m.receiving, transferID)
	m.mu.Unlock()
	m.ClearState(transferID)
}
