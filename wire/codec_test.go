package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadFrameSkipsEmptyLines(t *testing.T) {
	in := "\n  \n{\"version\":\"1.0\",\"type\":\"disconnect\",\"timestamp\":1}\n"
	r := NewReader(strings.NewReader(in), 0)
	frame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Contains(frame, []byte(`"disconnect"`)) {
		t.Fatalf("unexpected frame: %s", frame)
	}
	if _, err := r.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadFrameWithoutTrailingNewline(t *testing.T) {
	r := NewReader(strings.NewReader(`{"type":"ack"}`), 0)
	frame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(frame) != `{"type":"ack"}` {
		t.Fatalf("frame=%s", frame)
	}
}

func TestReadFrameTooLargeResyncs(t *testing.T) {
	big := strings.Repeat("x", 10000)
	in := "{\"pad\":\"" + big + "\"}\n{\"type\":\"ack\"}\n"
	r := NewReader(strings.NewReader(in), 256)

	if _, err := r.ReadFrame(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	// The oversized line is consumed; the stream continues at the next frame.
	frame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read after oversize: %v", err)
	}
	if string(frame) != `{"type":"ack"}` {
		t.Fatalf("frame=%s", frame)
	}
}

func TestDecodeHeader(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr error
	}{
		{"valid", `{"version":"1.0","type":"register","timestamp":1700000000.5}`, nil},
		{"not json", `nope`, ErrInvalidJSON},
		{"array", `[1,2]`, ErrInvalidJSON},
		{"missing type", `{"version":"1.0","timestamp":1}`, ErrMissingType},
		{"bad version", `{"version":"2.0","type":"register","timestamp":1}`, ErrVersion},
		{"unknown type", `{"version":"1.0","type":"teleport","timestamp":1}`, ErrUnknownType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := DecodeHeader([]byte(tc.in))
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("DecodeHeader: %v", err)
				}
				if h.Type != TypeRegister {
					t.Fatalf("type=%q", h.Type)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want %v", err, tc.wantErr)
			}
		})
	}
}

func TestDecodeHeaderKeepsTypeOnUnknown(t *testing.T) {
	h, err := DecodeHeader([]byte(`{"version":"1.0","type":"teleport","timestamp":1}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err=%v", err)
	}
	if h.Type != "teleport" {
		t.Fatalf("type=%q", h.Type)
	}
}

func TestWriteFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := Register{Header: NewHeader(TypeRegister), Nickname: "alice", PublicKey: "a2V5"}
	if err := WriteFrame(&buf, &msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		t.Fatal("frame missing trailing newline")
	}

	r := NewReader(&buf, 0)
	frame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	h, err := DecodeHeader(frame)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Version != Version || h.Type != TypeRegister || h.Timestamp <= 0 {
		t.Fatalf("header=%+v", h)
	}
	var got Register
	if err := Unmarshal(frame, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Nickname != "alice" || got.PublicKey != "a2V5" {
		t.Fatalf("payload=%+v", got)
	}
}

func TestEnvelopeLayoutIsFlat(t *testing.T) {
	msg := JoinChannel{Header: NewHeader(TypeJoinChannel), Channel: "#dev", CreatorPassword: "opensesame"}
	b, err := Marshal(&msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"version", "type", "timestamp", "channel", "creator_password"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing top-level key %q in %s", key, b)
		}
	}
	if _, ok := m["password"]; ok {
		t.Error("empty optional field was serialized")
	}
}

func TestUnmarshalIgnoresUnknownKeys(t *testing.T) {
	frame := []byte(`{"version":"1.0","type":"set_status","timestamp":1,"status":"away","future_key":42}`)
	var msg SetStatus
	if err := Unmarshal(frame, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != StatusAway {
		t.Fatalf("status=%q", msg.Status)
	}
}
