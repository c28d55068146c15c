package e2ee

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestIdentityFileRoundTrip(t *testing.T) {
	priv, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	path := filepath.Join(t.TempDir(), "identity.json")
	if err := WriteIdentityFile(path, priv); err != nil {
		t.Fatalf("WriteIdentityFile: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Fatalf("perm = %o", perm)
		}
	}

	loaded, err := LoadIdentityFile(path)
	if err != nil {
		t.Fatalf("LoadIdentityFile: %v", err)
	}
	if !loaded.PublicKey().Equal(priv.PublicKey()) {
		t.Fatal("loaded key differs")
	}
}

func TestLoadIdentityFileRejectsBad(t *testing.T) {
	dir := t.TempDir()
	priv, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	other, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	write := func(name string, f IdentityFile) string {
		t.Helper()
		data, err := json.Marshal(f)
		if err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing privkey", write("a.json", IdentityFile{})},
		{"garbage privkey", write("b.json", IdentityFile{PrivKeyB64: "%%%"})},
		{"short privkey", write("c.json", IdentityFile{PrivKeyB64: base64.RawURLEncoding.EncodeToString([]byte("short"))})},
		{"mismatched pubkey", write("d.json", IdentityFile{
			PrivKeyB64: base64.RawURLEncoding.EncodeToString(priv.Bytes()),
			PubKeyB64:  base64.RawURLEncoding.EncodeToString(other.PublicKey().Bytes()),
		})},
	}
	for _, tt := range tests {
		if _, err := LoadIdentityFile(tt.path); err == nil {
			t.Errorf("%s: load succeeded", tt.name)
		}
	}

	notJSON := filepath.Join(dir, "e.json")
	if err := os.WriteFile(notJSON, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadIdentityFile(notJSON); err == nil {
		t.Error("truncated JSON: load succeeded")
	}
	if _, err := LoadIdentityFile(filepath.Join(dir, "absent.json")); err == nil {
		t.Error("missing file: load succeeded")
	}
}
