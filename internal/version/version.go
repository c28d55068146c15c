// Package version renders the version line printed by the CLI tools.
package version

import (
	"runtime/debug"
	"strings"
)

// String builds a one-line version banner from the release values stamped
// in via -ldflags. Unstamped builds fall back to Go module build info, so
// `go install`ed binaries still report their module version and VCS state.
//
// The line reads "version (commit) date"; commit and date are omitted when
// nothing useful is known, and an empty version prints as "dev".
func String(version, commit, date string) string {
	v := strings.TrimSpace(version)
	c := strings.TrimSpace(commit)
	d := strings.TrimSpace(date)

	if info, ok := debug.ReadBuildInfo(); ok {
		if placeholder(v, "dev", "(devel)") {
			if mv := strings.TrimSpace(info.Main.Version); !placeholder(mv, "(devel)") {
				v = mv
			}
		}
		if placeholder(c, "unknown") {
			if rev := setting(info, "vcs.revision"); rev != "" {
				c = rev
			}
		}
		if placeholder(d, "unknown") {
			if when := setting(info, "vcs.time"); when != "" {
				d = when
			}
		}
	}

	out := v
	if out == "" {
		out = "dev"
	}
	if !placeholder(c, "unknown") {
		out += " (" + c + ")"
	}
	if !placeholder(d, "unknown") {
		out += " " + d
	}
	return out
}

// placeholder reports whether v is empty or one of the stand-in values a
// build stamps when it has no real answer.
func placeholder(v string, standIns ...string) bool {
	if v == "" {
		return true
	}
	for _, s := range standIns {
		if v == s {
			return true
		}
	}
	return false
}

func setting(info *debug.BuildInfo, key string) string {
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
