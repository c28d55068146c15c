package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/justirc/justirc-go/broker"
)

func TestRun_VersionFlag(t *testing.T) {
	oldVersion := version
	oldCommit := commit
	t.Cleanup(func() {
		version = oldVersion
		commit = oldCommit
	})
	version = "v9.9.9"
	commit = "deadbeef"

	var stdout, stderr bytes.Buffer
	code := run([]string{"--version"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d (stderr=%q)", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "v9.9.9") || !strings.Contains(out, "deadbeef") {
		t.Fatalf("version output %q", out)
	}
}

func TestRun_RejectsBadPort(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--port", "0"}, &stdout, &stderr); code != 2 {
		t.Fatalf("exit %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "invalid -port") {
		t.Fatalf("stderr %q", stderr.String())
	}
}

func TestRun_RejectsBadEnv(t *testing.T) {
	t.Setenv("JUSTIRC_PORT", "not-a-port")
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("exit %d, want 2 (stderr=%q)", code, stderr.String())
	}
}

func TestConfigPathFromArgs(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"absent", []string{"--port", "6667"}, ""},
		{"space form", []string{"-config", "broker.json"}, "broker.json"},
		{"equals form", []string{"--config=broker.json"}, "broker.json"},
		{"after other flags", []string{"--port", "6667", "-config", "b.json"}, "b.json"},
		{"terminated", []string{"--", "-config", "b.json"}, ""},
		{"dangling", []string{"-config"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := configPathFromArgs(tc.args); got != tc.want {
				t.Fatalf("configPathFromArgs(%v) = %q, want %q", tc.args, got, tc.want)
			}
		})
	}
}

func TestFileConfig_Apply(t *testing.T) {
	cfg := broker.DefaultConfig()
	base := cfg

	var fc fileConfig
	fc.apply(&cfg)
	if cfg.Port != base.Port || cfg.Host != base.Host {
		t.Fatalf("empty file changed config: %+v", cfg)
	}

	port := 7000
	readTimeout := 90
	name := "irc.justirc.io"
	fc = fileConfig{
		Port:           &port,
		ServerName:     &name,
		ReadTimeout:    &readTimeout,
		AllowedOrigins: []string{"https://justirc.io"},
	}
	fc.apply(&cfg)
	if cfg.Port != 7000 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.ServerName != "irc.justirc.io" {
		t.Errorf("server name = %q", cfg.ServerName)
	}
	if cfg.ReadTimeout != 90*time.Second {
		t.Errorf("read timeout = %v", cfg.ReadTimeout)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://justirc.io" {
		t.Errorf("allowed origins = %v", cfg.AllowedOrigins)
	}
	if cfg.Host != base.Host {
		t.Errorf("host changed to %q without a key", cfg.Host)
	}
}

func TestStringSliceFlag(t *testing.T) {
	var f stringSliceFlag
	if err := f.Set("https://a.example"); err != nil {
		t.Fatal(err)
	}
	if err := f.Set("https://b.example"); err != nil {
		t.Fatal(err)
	}
	if got := f.String(); got != "https://a.example,https://b.example" {
		t.Fatalf("String() = %q", got)
	}
}
