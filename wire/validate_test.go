package wire

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckLen(t *testing.T) {
	if err := CheckLen("topic", strings.Repeat("x", MaxTopicChars), MaxTopicChars); err != nil {
		t.Fatalf("at bound: %v", err)
	}
	err := CheckLen("topic", strings.Repeat("x", MaxTopicChars+1), MaxTopicChars)
	if !errors.Is(err, ErrFieldTooLong) {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(err.Error(), "topic") {
		t.Fatalf("error does not name the field: %v", err)
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{StatusOnline, StatusAway, StatusBusy, StatusDND} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%q)=false", s)
		}
	}
	for _, s := range []string{"", "offline", "ONLINE", "idle"} {
		if ValidStatus(s) {
			t.Errorf("ValidStatus(%q)=true", s)
		}
	}
}

func TestValidMode(t *testing.T) {
	for _, m := range []string{"m", "s", "i", "n", "p"} {
		if !ValidMode(m) {
			t.Errorf("ValidMode(%q)=false", m)
		}
	}
	for _, m := range []string{"", "x", "ms", "M"} {
		if ValidMode(m) {
			t.Errorf("ValidMode(%q)=true", m)
		}
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		id := NewID()
		if id == "" {
			t.Fatal("empty id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
