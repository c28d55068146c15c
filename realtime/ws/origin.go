package ws

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// IsOriginAllowed checks the request's Origin header against an allow-list.
// Entries may be full origins ("https://chat.example.com"), bare hostnames
// ("example.com"), host:port pairs, wildcard hostnames ("*.example.com",
// which also matches the base domain), or exact non-standard values such as
// "null". Hostname comparisons are case-insensitive. Requests without an
// Origin header, typically non-browser clients, are admitted when
// allowNoOrigin is set.
func IsOriginAllowed(r *http.Request, allowed []string, allowNoOrigin bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return allowNoOrigin
	}
	var host, hostname string
	if parsed, err := url.Parse(origin); err == nil {
		host = parsed.Host
		hostname = parsed.Hostname()
	}
	for _, entry := range allowed {
		if entryMatches(strings.TrimSpace(entry), origin, host, hostname) {
			return true
		}
	}
	return false
}

// entryMatches applies one allow-list entry. The entry's shape picks the
// comparison: a scheme means a full-origin match, a leading "*." a domain
// suffix match, a parseable host:port a Host match, anything else a
// hostname or exact-string match.
func entryMatches(entry, origin, host, hostname string) bool {
	if entry == "" {
		return false
	}
	if strings.Contains(entry, "://") {
		return origin == entry
	}
	if base, wild := strings.CutPrefix(entry, "*."); wild {
		if base == "" || hostname == "" {
			return false
		}
		h, b := strings.ToLower(hostname), strings.ToLower(base)
		return h == b || strings.HasSuffix(h, "."+b)
	}
	if host != "" {
		if _, _, err := net.SplitHostPort(entry); err == nil {
			return strings.EqualFold(host, entry)
		}
	}
	if hostname != "" && strings.EqualFold(hostname, entry) {
		return true
	}
	return origin == entry
}

// NewOriginChecker adapts IsOriginAllowed to the upgrader's CheckOrigin
// signature.
func NewOriginChecker(allowed []string, allowNoOrigin bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return IsOriginAllowed(r, allowed, allowNoOrigin)
	}
}
