package profiles

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/justirc/justirc-go/wire"
)

func newTestProfiles(t *testing.T, path string) *Profiles {
	t.Helper()
	p, err := NewProfiles(ProfileConfig{Path: path})
	if err != nil {
		t.Fatalf("NewProfiles: %v", err)
	}
	return p
}

func strPtr(s string) *string { return &s }

func TestRegisterAndVerify(t *testing.T) {
	p := newTestProfiles(t, "")
	if err := p.Register("alice", "tiny"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("weak Register: %v", err)
	}
	if err := p.Register("alice", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Register("alice", "other123"); !errors.Is(err, ErrExists) {
		t.Fatalf("re-Register: %v", err)
	}
	if !p.IsRegistered("alice") || p.IsRegistered("bob") {
		t.Fatal("IsRegistered wrong")
	}
	if !p.VerifyPassword("alice", "hunter22") {
		t.Fatal("correct password rejected")
	}
	if p.VerifyPassword("alice", "wrong") || p.VerifyPassword("bob", "hunter22") {
		t.Fatal("bad verify accepted")
	}
}

func TestUpdateAndGet(t *testing.T) {
	p := newTestProfiles(t, "")
	if err := p.Update("alice", strPtr("likes go"), strPtr("brb"), nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	prof, ok := p.Get("alice")
	if !ok || prof.Bio != "likes go" || prof.StatusMessage != "brb" || prof.Registered {
		t.Fatalf("Get = %+v, %v", prof, ok)
	}
	if prof.LastUpdated == "" {
		t.Fatal("LastUpdated not stamped")
	}

	// Nil fields leave existing values alone.
	if err := p.Update("alice", nil, strPtr("back"), nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	prof, _ = p.Get("alice")
	if prof.Bio != "likes go" || prof.StatusMessage != "back" {
		t.Fatalf("partial update clobbered: %+v", prof)
	}

	if _, ok := p.Get("nobody"); ok {
		t.Fatal("Get invented a profile")
	}
}

func TestUpdateBounds(t *testing.T) {
	p := newTestProfiles(t, "")
	tests := []struct {
		name string
		bio  *string
		sm   *string
		av   *string
	}{
		{"bio", strPtr(strings.Repeat("a", wire.MaxBioChars+1)), nil, nil},
		{"status", nil, strPtr(strings.Repeat("a", wire.MaxStatusChars+1)), nil},
		{"avatar", nil, nil, strPtr(strings.Repeat("a", wire.MaxAvatarChars+1))},
	}
	for _, tt := range tests {
		if err := p.Update("alice", tt.bio, tt.sm, tt.av); !errors.Is(err, wire.ErrFieldTooLong) {
			t.Errorf("%s: err = %v", tt.name, err)
		}
	}
	if p.Len() != 0 {
		t.Fatal("rejected update created a profile")
	}
}

func TestRegisterKeepsProfileData(t *testing.T) {
	p := newTestProfiles(t, "")
	if err := p.Update("alice", strPtr("bio text"), nil, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := p.Register("alice", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	prof, _ := p.Get("alice")
	if !prof.Registered || prof.Bio != "bio text" || prof.RegistrationDate == "" {
		t.Fatalf("profile after Register = %+v", prof)
	}
	if prof.PasswordHash != "" || prof.Salt != "" {
		t.Fatal("Get leaked credential fields")
	}
}

func TestTouchLastSeen(t *testing.T) {
	p := newTestProfiles(t, "")
	p.TouchLastSeen("stranger")
	if p.Len() != 0 {
		t.Fatal("TouchLastSeen created a profile")
	}

	if err := p.Register("alice", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	before, _ := p.Get("alice")
	p.TouchLastSeen("alice")
	after, _ := p.Get("alice")
	if after.LastSeen == "" || after.LastSeen < before.RegistrationDate {
		t.Fatalf("LastSeen = %q", after.LastSeen)
	}
}

func TestDelete(t *testing.T) {
	p := newTestProfiles(t, "")
	if err := p.Update("guest", strPtr("x"), nil, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := p.Delete("guest", ""); err != nil {
		t.Fatalf("Delete unregistered: %v", err)
	}

	if err := p.Register("alice", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Delete("alice", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("Delete wrong password: %v", err)
	}
	if err := p.Delete("alice", "hunter22"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := p.Delete("alice", "hunter22"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("Delete gone: %v", err)
	}
}

func TestProfilesPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_profiles.json")
	p := newTestProfiles(t, path)
	if err := p.Register("alice", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Update("alice", strPtr("still here"), nil, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	q := newTestProfiles(t, path)
	if !q.IsRegistered("alice") {
		t.Fatal("registration lost on reload")
	}
	if !q.VerifyPassword("alice", "hunter22") {
		t.Fatal("password lost on reload")
	}
	prof, _ := q.Get("alice")
	if prof.Bio != "still here" {
		t.Fatalf("bio after reload = %q", prof.Bio)
	}
}

func TestSearch(t *testing.T) {
	p := newTestProfiles(t, "")
	if err := p.Register("alice", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Update("bob", strPtr("resident Alice fan"), nil, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := p.Update("carol", strPtr("unrelated"), nil, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got := p.Search("alice", 10)
	if len(got) != 2 || got[0].Nickname != "alice" || got[1].Nickname != "bob" {
		t.Fatalf("Search = %+v", got)
	}
	for _, prof := range got {
		if prof.PasswordHash != "" || prof.Salt != "" {
			t.Fatal("Search leaked credential fields")
		}
	}
	if got := p.Search("alice", 1); len(got) != 1 {
		t.Fatalf("Search max = %d results", len(got))
	}

	if nicks := p.RegisteredNicknames(); len(nicks) != 1 || nicks[0] != "alice" {
		t.Fatalf("RegisteredNicknames = %v", nicks)
	}
}
