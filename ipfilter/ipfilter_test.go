package ipfilter

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestFilter(t *testing.T, whitelistMode bool) (*Filter, string) {
	t.Helper()
	dir := t.TempDir()
	f, err := New(Config{
		BlacklistPath:   filepath.Join(dir, "ip_blacklist.json"),
		WhitelistPath:   filepath.Join(dir, "ip_whitelist.json"),
		EnableWhitelist: whitelistMode,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f, dir
}

func addr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("ParseAddr(%q): %v", s, err)
	}
	return a
}

func TestBlacklist(t *testing.T) {
	f, _ := newTestFilter(t, false)

	if ok, _ := f.Allowed(addr(t, "192.0.2.1")); !ok {
		t.Fatal("fresh filter denies")
	}
	if err := f.AddBlacklist("192.0.2.1"); err != nil {
		t.Fatalf("AddBlacklist: %v", err)
	}
	if err := f.AddBlacklist("10.0.0.0/8"); err != nil {
		t.Fatalf("AddBlacklist cidr: %v", err)
	}

	cases := []struct {
		ip   string
		want bool
	}{
		{"192.0.2.1", false},
		{"192.0.2.2", true},
		{"10.1.2.3", false},
		{"11.0.0.1", true},
	}
	for _, tc := range cases {
		ok, verdict := f.Allowed(addr(t, tc.ip))
		if ok != tc.want {
			t.Errorf("Allowed(%s) = %v (%s), want %v", tc.ip, ok, verdict, tc.want)
		}
		if !ok && verdict != VerdictBlacklisted {
			t.Errorf("verdict for %s = %q", tc.ip, verdict)
		}
	}

	if err := f.RemoveBlacklist("192.0.2.1"); err != nil {
		t.Fatalf("RemoveBlacklist: %v", err)
	}
	if ok, _ := f.Allowed(addr(t, "192.0.2.1")); !ok {
		t.Fatal("removal did not take effect")
	}
}

func TestWhitelistMode(t *testing.T) {
	f, _ := newTestFilter(t, true)
	if err := f.AddWhitelist("127.0.0.1"); err != nil {
		t.Fatalf("AddWhitelist: %v", err)
	}
	if err := f.AddWhitelist("192.168.0.0/16"); err != nil {
		t.Fatalf("AddWhitelist cidr: %v", err)
	}

	if ok, _ := f.Allowed(addr(t, "127.0.0.1")); !ok {
		t.Fatal("whitelisted ip denied")
	}
	if ok, _ := f.Allowed(addr(t, "192.168.44.5")); !ok {
		t.Fatal("whitelisted network denied")
	}
	ok, verdict := f.Allowed(addr(t, "8.8.8.8"))
	if ok || verdict != VerdictNotWhitelisted {
		t.Fatalf("non-whitelisted: ok=%v verdict=%q", ok, verdict)
	}
}

func TestTempBanPrecedesWhitelist(t *testing.T) {
	f, _ := newTestFilter(t, true)
	if err := f.AddWhitelist("127.0.0.1"); err != nil {
		t.Fatalf("AddWhitelist: %v", err)
	}
	base := time.Unix(1700000000, 0)
	now := base
	f.now = func() time.Time { return now }

	f.TempBan(addr(t, "127.0.0.1"), 5*time.Minute)
	ok, verdict := f.Allowed(addr(t, "127.0.0.1"))
	if ok || verdict != VerdictTempBanned {
		t.Fatalf("temp-banned: ok=%v verdict=%q", ok, verdict)
	}

	now = base.Add(5*time.Minute + time.Second)
	if ok, _ := f.Allowed(addr(t, "127.0.0.1")); !ok {
		t.Fatal("ban did not expire")
	}
}

func TestSweepTempBans(t *testing.T) {
	f, _ := newTestFilter(t, false)
	base := time.Unix(1700000000, 0)
	now := base
	f.now = func() time.Time { return now }

	f.TempBan(addr(t, "192.0.2.1"), time.Minute)
	f.TempBan(addr(t, "192.0.2.2"), time.Hour)
	now = base.Add(10 * time.Minute)
	if left := f.SweepTempBans(); left != 1 {
		t.Fatalf("remaining bans = %d, want 1", left)
	}
}

func TestPersistAndReload(t *testing.T) {
	f, dir := newTestFilter(t, false)
	if err := f.AddBlacklist("203.0.113.7"); err != nil {
		t.Fatalf("AddBlacklist: %v", err)
	}
	if err := f.AddBlacklist("10.0.0.0/8"); err != nil {
		t.Fatalf("AddBlacklist: %v", err)
	}

	// A second filter over the same files sees the same entries.
	g, err := New(Config{BlacklistPath: filepath.Join(dir, "ip_blacklist.json")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ok, _ := g.Allowed(addr(t, "203.0.113.7")); ok {
		t.Fatal("persisted address not loaded")
	}
	if ok, _ := g.Allowed(addr(t, "10.9.9.9")); ok {
		t.Fatal("persisted network not loaded")
	}

	// Reload picks up external edits.
	if err := os.WriteFile(filepath.Join(dir, "ip_blacklist.json"), []byte(`{"ips":[],"networks":[]}`), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := g.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if ok, _ := g.Allowed(addr(t, "203.0.113.7")); !ok {
		t.Fatal("reload kept stale entry")
	}
}

func TestLoadSkipsBadEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ip_blacklist.json")
	doc := `{"ips":["not-an-ip","192.0.2.9"],"networks":["nope/99","10.0.0.0/8"]}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := New(Config{BlacklistPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ok, _ := f.Allowed(addr(t, "192.0.2.9")); ok {
		t.Fatal("good entry lost alongside bad ones")
	}
	if ok, _ := f.Allowed(addr(t, "10.1.1.1")); ok {
		t.Fatal("good network lost alongside bad ones")
	}
}

func TestClear(t *testing.T) {
	f, _ := newTestFilter(t, false)
	if err := f.AddBlacklist("192.0.2.1"); err != nil {
		t.Fatalf("AddBlacklist: %v", err)
	}
	if err := f.ClearBlacklist(); err != nil {
		t.Fatalf("ClearBlacklist: %v", err)
	}
	if ok, _ := f.Allowed(addr(t, "192.0.2.1")); !ok {
		t.Fatal("clear did not take effect")
	}
	if err := f.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if ok, _ := f.Allowed(addr(t, "192.0.2.1")); !ok {
		t.Fatal("clear was not persisted")
	}
}

func TestParseEntryRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "hostname", "300.1.2.3", "10.0.0.0/33"} {
		if _, _, err := parseEntry(s); err == nil {
			t.Errorf("parseEntry(%q) accepted", s)
		}
	}
}
