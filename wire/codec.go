package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrFrameTooLarge indicates a line exceeded the configured bound. The
	// reader discards the rest of the oversized line, so the stream stays
	// usable and the caller may answer with an error envelope and continue.
	ErrFrameTooLarge = errors.New("wire: frame too large")
	// ErrInvalidJSON indicates a frame that is not a JSON object.
	ErrInvalidJSON = errors.New("wire: invalid json")
	// ErrMissingType indicates a frame without a type key.
	ErrMissingType = errors.New("wire: missing type")
	// ErrVersion indicates an unsupported protocol version.
	ErrVersion = errors.New("wire: unsupported version")
	// ErrUnknownType indicates a well-formed frame with an unrecognized tag.
	ErrUnknownType = errors.New("wire: unknown type")
)

// Reader reads newline-delimited envelopes with a per-frame size bound.
//
// The bound MUST be positive when reading from untrusted peers; it caps the
// allocation for a single frame.
type Reader struct {
	br  *bufio.Reader
	max int
}

// NewReader wraps r with a frame reader bounded to maxFrameBytes
// (DefaultMaxFrameBytes when <=0).
func NewReader(r io.Reader, maxFrameBytes int) *Reader {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	size := maxFrameBytes
	if size < 4096 {
		size = 4096
	}
	return &Reader{br: bufio.NewReaderSize(r, size), max: maxFrameBytes}
}

// ReadFrame returns the next non-empty line without its trailing newline.
//
// On an oversized line it consumes and discards the remainder of that line,
// then returns ErrFrameTooLarge; the next call reads the following frame.
// Other errors (including read deadline expiry) surface as-is.
func (r *Reader) ReadFrame() ([]byte, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

func (r *Reader) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			if len(buf) > r.max {
				return nil, ErrFrameTooLarge
			}
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			if len(buf) > r.max {
				if derr := r.discardLine(); derr != nil {
					return nil, derr
				}
				return nil, ErrFrameTooLarge
			}
			// Bound not yet exceeded; keep accumulating.
		case errors.Is(err, io.EOF) && len(bytes.TrimSpace(buf)) > 0:
			// Final frame without trailing newline.
			if len(buf) > r.max {
				return nil, ErrFrameTooLarge
			}
			return buf, nil
		default:
			return nil, err
		}
	}
}

// discardLine consumes input up to and including the next newline.
func (r *Reader) discardLine() error {
	for {
		_, err := r.br.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return err
	}
}

// DecodeHeader parses the fixed envelope keys of a frame.
//
// It distinguishes malformed JSON, a missing type key, a version mismatch and
// an unknown tag so the session can answer each per the protocol-error rules.
// The parsed header is returned even alongside ErrUnknownType.
func DecodeHeader(frame []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(frame, &h); err != nil {
		return Header{}, ErrInvalidJSON
	}
	if h.Type == "" {
		return h, ErrMissingType
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: %q", ErrVersion, h.Version)
	}
	if !Known(h.Type) {
		return h, fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
	return h, nil
}

// Unmarshal decodes a frame into a typed payload struct. Unknown keys are
// ignored: envelopes may carry fields newer than this implementation.
func Unmarshal(frame []byte, v any) error {
	if err := json.Unmarshal(frame, v); err != nil {
		return ErrInvalidJSON
	}
	return nil
}

// Marshal encodes an envelope to its wire form without the trailing newline.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// WriteFrame writes one envelope followed by a newline in a single Write call
// so concurrent writers on a serialized connection never interleave frames.
func WriteFrame(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
