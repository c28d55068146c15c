package cmdutil

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup returns the trimmed value of key and whether it carried anything.
// Blank counts as unset, so `JUSTIRC_PORT=` behaves like an absent
// variable.
func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// EnvString returns the value of key, or fallback when unset.
func EnvString(key, fallback string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return fallback
}

// EnvBool returns the boolean value of key, or fallback when unset.
func EnvBool(key string, fallback bool) (bool, error) {
	v, ok := lookup(key)
	if !ok {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// EnvInt returns the integer value of key, or fallback when unset.
func EnvInt(key string, fallback int) (int, error) {
	v, ok := lookup(key)
	if !ok {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// EnvDuration returns the duration value of key, or fallback when unset.
// Values use Go duration syntax, e.g. "300s" or "5m".
func EnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

// SplitCSVEnv splits a comma-separated value into trimmed non-empty parts.
func SplitCSVEnv(key string) []string {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
