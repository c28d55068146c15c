package wire

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"testing"
)

func benchEnvelope(payloadBytes int) Encrypted {
	raw := make([]byte, payloadBytes)
	for i := range raw {
		raw[i] = byte(i)
	}
	return Encrypted{
		Header:        NewHeader(TypePrivateMessage),
		FromID:        "user_alice",
		ToID:          "user_bob",
		EncryptedData: base64.StdEncoding.EncodeToString(raw),
		Nonce:         base64.StdEncoding.EncodeToString(raw[:12]),
	}
}

func BenchmarkWriteFrame(b *testing.B) {
	sizes := []int{256, 4 * 1024, 32 * 1024}
	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dB", size), func(b *testing.B) {
			env := benchEnvelope(size)
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := WriteFrame(io.Discard, env); err != nil {
					b.Fatalf("write frame failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkReadFrame(b *testing.B) {
	sizes := []int{256, 4 * 1024, 32 * 1024}
	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dB", size), func(b *testing.B) {
			var buf bytes.Buffer
			if err := WriteFrame(&buf, benchEnvelope(size)); err != nil {
				b.Fatalf("write frame failed: %v", err)
			}
			r := NewReader(&loopReader{data: buf.Bytes()}, DefaultMaxFrameBytes)
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := r.ReadFrame(); err != nil {
					b.Fatalf("read frame failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkDecodeHeader(b *testing.B) {
	frame, err := Marshal(benchEnvelope(256))
	if err != nil {
		b.Fatalf("marshal failed: %v", err)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := DecodeHeader(frame); err != nil {
			b.Fatalf("decode header failed: %v", err)
		}
	}
}

// loopReader replays its data forever so a single Reader can serve b.N frames.
type loopReader struct {
	data []byte
	off  int
}

func (r *loopReader) Read(p []byte) (int, error) {
	if r.off == len(r.data) {
		r.off = 0
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}
