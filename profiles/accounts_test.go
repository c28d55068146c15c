package profiles

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestAccounts(t *testing.T, cfg AccountConfig) *Accounts {
	t.Helper()
	a, err := NewAccounts(cfg)
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}
	return a
}

func TestCreateAndAuthenticate(t *testing.T) {
	a := newTestAccounts(t, AccountConfig{})
	if err := a.Create("alice", "hunter22", "alice@example.com"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := a.Create("alice", "hunter22", ""); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate Create: %v", err)
	}
	if err := a.Create("bob", "short", ""); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("weak Create: %v", err)
	}

	if _, err := a.Authenticate("alice", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := a.Authenticate("nobody", "hunter22"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("unknown user: %v", err)
	}

	token, err := a.Authenticate("alice", "hunter22")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user, ok := a.VerifySession(token); !ok || user != "alice" {
		t.Fatalf("VerifySession = %q, %v", user, ok)
	}
	if !a.Logout(token) {
		t.Fatal("Logout failed")
	}
	if _, ok := a.VerifySession(token); ok {
		t.Fatal("session survived logout")
	}

	info, ok := a.Info("alice")
	if !ok || info.Email != "alice@example.com" || info.CreatedAt == "" || info.LastLogin == "" {
		t.Fatalf("Info = %+v, %v", info, ok)
	}
}

func TestLockout(t *testing.T) {
	a := newTestAccounts(t, AccountConfig{})
	base := time.Unix(1700000000, 0)
	now := base
	a.now = func() time.Time { return now }

	if err := a.Create("alice", "hunter22", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < DefaultLockoutThreshold; i++ {
		if _, err := a.Authenticate("alice", "wrong"); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if !a.Locked("alice") {
		t.Fatal("account not locked after threshold")
	}
	// The correct password is also refused while locked.
	if _, err := a.Authenticate("alice", "hunter22"); !errors.Is(err, ErrLocked) {
		t.Fatalf("locked Authenticate: %v", err)
	}

	now = base.Add(DefaultLockoutWindow + time.Second)
	if a.Locked("alice") {
		t.Fatal("lock outlived the window")
	}
	if _, err := a.Authenticate("alice", "hunter22"); err != nil {
		t.Fatalf("Authenticate after window: %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	a := newTestAccounts(t, AccountConfig{SessionTTL: time.Hour})
	base := time.Unix(1700000000, 0)
	now := base
	a.now = func() time.Time { return now }

	if err := a.Create("alice", "hunter22", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	token, err := a.Authenticate("alice", "hunter22")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	now = base.Add(2 * time.Hour)
	if _, ok := a.VerifySession(token); ok {
		t.Fatal("expired session accepted")
	}

	token2, _ := a.Authenticate("alice", "hunter22")
	now = now.Add(2 * time.Hour)
	if removed := a.SweepSessions(); removed != 1 {
		t.Fatalf("SweepSessions = %d", removed)
	}
	if _, ok := a.VerifySession(token2); ok {
		t.Fatal("swept session accepted")
	}
}

func TestAdmit(t *testing.T) {
	a := newTestAccounts(t, AccountConfig{})
	if err := a.Create("alice", "hunter22", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Unknown nickname passes when authentication is not required.
	if tok, err := a.Admit("guest", "", ""); err != nil || tok != "" {
		t.Fatalf("guest Admit = %q, %v", tok, err)
	}
	// Account holders must present their password.
	if _, err := a.Admit("alice", "", ""); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("passwordless Admit: %v", err)
	}
	tok, err := a.Admit("alice", "hunter22", "")
	if err != nil || tok == "" {
		t.Fatalf("Admit = %q, %v", tok, err)
	}
	// A valid token is accepted without minting another.
	if tok2, err := a.Admit("alice", "", tok); err != nil || tok2 != "" {
		t.Fatalf("token Admit = %q, %v", tok2, err)
	}
	// A token for someone else falls through to the password check.
	if _, err := a.Admit("bob", "", tok); err != nil {
		t.Fatalf("mismatched token for accountless nickname: %v", err)
	}
	if err := a.Create("bob", "swordfish", ""); err != nil {
		t.Fatalf("Create bob: %v", err)
	}
	if _, err := a.Admit("bob", "", tok); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("mismatched token Admit: %v", err)
	}
}

func TestAdmitRequireAuth(t *testing.T) {
	a := newTestAccounts(t, AccountConfig{RequireAuth: true})
	if _, err := a.Admit("guest", "", ""); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Admit without account: %v", err)
	}
}

func TestDisabled(t *testing.T) {
	a := newTestAccounts(t, AccountConfig{})
	if err := a.Create("alice", "hunter22", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := a.SetDisabled("alice", true); err != nil {
		t.Fatalf("SetDisabled: %v", err)
	}
	if _, err := a.Authenticate("alice", "hunter22"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Authenticate: %v", err)
	}
	if err := a.SetDisabled("alice", false); err != nil {
		t.Fatalf("SetDisabled: %v", err)
	}
	if _, err := a.Authenticate("alice", "hunter22"); err != nil {
		t.Fatalf("re-enabled Authenticate: %v", err)
	}
	if err := a.SetDisabled("nobody", true); !errors.Is(err, ErrUnknown) {
		t.Fatalf("SetDisabled unknown: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	a := newTestAccounts(t, AccountConfig{})
	if err := a.Create("alice", "hunter22", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := a.ChangePassword("alice", "wrong", "newpassword"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("ChangePassword wrong old: %v", err)
	}
	if err := a.ChangePassword("alice", "hunter22", "tiny"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("ChangePassword weak new: %v", err)
	}
	if err := a.ChangePassword("alice", "hunter22", "newpassword"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := a.Authenticate("alice", "hunter22"); !errors.Is(err, ErrBadCredentials) {
		t.Fatal("old password still accepted")
	}
	if _, err := a.Authenticate("alice", "newpassword"); err != nil {
		t.Fatalf("new password: %v", err)
	}
}

func TestAccountsPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	a := newTestAccounts(t, AccountConfig{Path: path})
	if err := a.Create("alice", "hunter22", "alice@example.com"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	b := newTestAccounts(t, AccountConfig{Path: path})
	if !b.Exists("alice") || b.Len() != 1 {
		t.Fatalf("reload lost the account")
	}
	if _, err := b.Authenticate("alice", "hunter22"); err != nil {
		t.Fatalf("Authenticate after reload: %v", err)
	}
	info, _ := b.Info("alice")
	if info.Email != "alice@example.com" {
		t.Fatalf("Info after reload = %+v", info)
	}
}
