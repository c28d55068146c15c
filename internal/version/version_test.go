package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	if got, want := String("v0.4.1", "9f2c1ab", "2026-02-14T09:30:00Z"), "v0.4.1 (9f2c1ab) 2026-02-14T09:30:00Z"; got != want {
		t.Errorf("stamped build: got %q, want %q", got, want)
	}

	// Test binaries carry no VCS settings, so unknown stays unknown and is
	// dropped from the banner.
	if got, want := String("v0.4.1", "unknown", "unknown"), "v0.4.1"; got != want {
		t.Errorf("unknown vcs fields: got %q, want %q", got, want)
	}
}

func TestString_UnstampedBuild(t *testing.T) {
	got := String("", "unknown", "unknown")
	if got == "" {
		t.Fatal("empty banner for unstamped build")
	}
	if strings.Contains(got, "unknown") {
		t.Errorf("banner %q leaks the unknown placeholder", got)
	}
}
