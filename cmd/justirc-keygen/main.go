// Command justirc-keygen generates an X25519 identity keypair for scripted
// clients and writes it as an owner-only JSON key file. The public key is
// printed in the ready record so it can be shared out of band.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/justirc/justirc-go/crypto/e2ee"
	"github.com/justirc/justirc-go/internal/cmdutil"
	jversion "github.com/justirc/justirc-go/internal/version"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type ready struct {
	Version      string `json:"version"`
	Commit       string `json:"commit"`
	Date         string `json:"date"`
	IdentityFile string `json:"identity_file"`
	PublicKey    string `json:"public_key"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	showVersion := false

	outDir := cmdutil.EnvString("JUSTIRC_OUT_DIR", ".")
	identityFile := cmdutil.EnvString("JUSTIRC_IDENTITY_FILE", "")
	var overwrite bool

	fs := flag.NewFlagSet("justirc-keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&outDir, "out-dir", outDir, "output directory for generated files (env: JUSTIRC_OUT_DIR)")
	fs.StringVar(&identityFile, "identity-file", identityFile, "output file for the identity key (default: <out-dir>/identity_key.json) (env: JUSTIRC_IDENTITY_FILE)")
	fs.BoolVar(&overwrite, "overwrite", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, jversion.String(version, commit, date))
		return 0
	}

	outDir = strings.TrimSpace(outDir)
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if identityFile == "" {
		identityFile = filepath.Join(outDir, "identity_key.json")
	} else if !filepath.IsAbs(identityFile) {
		identityFile = filepath.Join(outDir, identityFile)
	}

	if err := cmdutil.RefuseOverwrite(identityFile, overwrite); err != nil {
		fmt.Fprintln(stderr, err)
		if cmdutil.IsUsage(err) {
			return 2
		}
		return 1
	}

	priv, err := e2ee.GenerateIdentity()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := e2ee.WriteIdentityFile(identityFile, priv); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	_ = json.NewEncoder(stdout).Encode(ready{
		Version:      version,
		Commit:       commit,
		Date:         date,
		IdentityFile: absOr(identityFile),
		PublicKey:    e2ee.EncodePublicKey(priv.PublicKey()),
	})
	return 0
}

func absOr(path string) string {
	if path == "" {
		return ""
	}
	a, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return a
}
