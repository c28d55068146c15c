package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/justirc/justirc-go/crypto/e2ee"
)

func TestRun_VersionFlag(t *testing.T) {
	oldVersion := version
	t.Cleanup(func() { version = oldVersion })
	version = "v9.9.9"

	var stdout, stderr bytes.Buffer
	code := run([]string{"--version"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d (stderr=%q)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "v9.9.9") {
		t.Fatalf("version output %q", stdout.String())
	}
}

func TestRun_GeneratesIdentity(t *testing.T) {
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run([]string{"--out-dir", dir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d (stderr=%q)", code, stderr.String())
	}

	var out ready
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("parse ready JSON: %v (stdout=%q)", err, stdout.String())
	}
	if out.IdentityFile == "" || out.PublicKey == "" {
		t.Fatalf("incomplete ready record: %+v", out)
	}

	priv, err := e2ee.LoadIdentityFile(filepath.Join(dir, "identity_key.json"))
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if got := e2ee.EncodePublicKey(priv.PublicKey()); got != out.PublicKey {
		t.Fatalf("public key mismatch: file %q, ready %q", got, out.PublicKey)
	}
}

func TestRun_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--out-dir", dir}, &stdout, &stderr); code != 0 {
		t.Fatalf("first run: exit %d (stderr=%q)", code, stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	if code := run([]string{"--out-dir", dir}, &stdout, &stderr); code != 2 {
		t.Fatalf("second run: exit %d, want 2 (stderr=%q)", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "refusing to overwrite") {
		t.Fatalf("stderr %q", stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	if code := run([]string{"--out-dir", dir, "--overwrite"}, &stdout, &stderr); code != 0 {
		t.Fatalf("overwrite run: exit %d (stderr=%q)", code, stderr.String())
	}
}

func TestRun_IdentityFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--out-dir", dir}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d (stderr=%q)", code, stderr.String())
	}
	fi, err := os.Stat(filepath.Join(dir, "identity_key.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Fatalf("identity file mode %o, want 600", perm)
	}
}
