// Package ipfilter screens source addresses before the broker admits a
// connection. It keeps two JSON-persisted lists of addresses and CIDR
// networks (deny and allow) plus in-memory temporary bans.
//
// Evaluation order is fixed: an active temporary ban denies first, then a
// deny-list hit, then (when whitelist mode is on) the absence of an
// allow-list hit.
package ipfilter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/justirc/justirc-go/internal/securefile"
)

// DefaultTempBan is how long a temporary ban lasts when no duration is given.
const DefaultTempBan = 15 * time.Minute

// ErrBadEntry indicates a list entry that is neither an address nor a CIDR.
var ErrBadEntry = errors.New("ipfilter: invalid address or network")

// Verdict explains why an address was denied.
type Verdict string

const (
	VerdictAllowed        Verdict = "allowed"
	VerdictTempBanned     Verdict = "temp_banned"
	VerdictBlacklisted    Verdict = "blacklisted"
	VerdictNotWhitelisted Verdict = "not_whitelisted"
)

// Config configures a Filter.
type Config struct {
	// BlacklistPath and WhitelistPath locate the persisted lists. Empty
	// paths disable persistence for that list.
	BlacklistPath string
	WhitelistPath string
	// EnableWhitelist denies any address not matched by the allow list.
	EnableWhitelist bool
	// LoggerFactory provides the component logger; nil uses the default.
	LoggerFactory logging.LoggerFactory
}

type list struct {
	ips      map[netip.Addr]struct{}
	networks map[netip.Prefix]struct{}
}

func newList() list {
	return list{ips: make(map[netip.Addr]struct{}), networks: make(map[netip.Prefix]struct{})}
}

func (l list) contains(addr netip.Addr) bool {
	if _, ok := l.ips[addr]; ok {
		return true
	}
	for p := range l.networks {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// listDoc is the on-disk shape of one list.
type listDoc struct {
	IPs      []string `json:"ips"`
	Networks []string `json:"networks"`
}

// Filter is the address screen. All methods are safe for concurrent use.
type Filter struct {
	mu              sync.Mutex
	blacklist       list
	whitelist       list
	enableWhitelist bool
	tempBans        map[netip.Addr]time.Time
	blacklistPath   string
	whitelistPath   string
	log             logging.LeveledLogger
	now             func() time.Time
}

// New builds a Filter and loads both lists from disk. A missing list file
// is an empty list; an unreadable one is an error.
func New(cfg Config) (*Filter, error) {
	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	f := &Filter{
		blacklist:       newList(),
		whitelist:       newList(),
		enableWhitelist: cfg.EnableWhitelist,
		tempBans:        make(map[netip.Addr]time.Time),
		blacklistPath:   cfg.BlacklistPath,
		whitelistPath:   cfg.WhitelistPath,
		log:             loggerFactory.NewLogger("ipfilter"),
		now:             time.Now,
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Allowed evaluates addr against the screen.
func (f *Filter) Allowed(addr netip.Addr) (bool, Verdict) {
	addr = addr.Unmap()
	f.mu.Lock()
	defer f.mu.Unlock()
	if until, ok := f.tempBans[addr]; ok {
		if f.now().Before(until) {
			return false, VerdictTempBanned
		}
		delete(f.tempBans, addr)
	}
	if f.blacklist.contains(addr) {
		return false, VerdictBlacklisted
	}
	if f.enableWhitelist && !f.whitelist.contains(addr) {
		return false, VerdictNotWhitelisted
	}
	return true, VerdictAllowed
}

// TempBan denies addr for d (DefaultTempBan when d<=0) without touching the
// persisted lists.
func (f *Filter) TempBan(addr netip.Addr, d time.Duration) {
	if d <= 0 {
		d = DefaultTempBan
	}
	addr = addr.Unmap()
	f.mu.Lock()
	f.tempBans[addr] = f.now().Add(d)
	f.mu.Unlock()
	f.log.Infof("temp ban %s for %s", addr, d)
}

// SweepTempBans drops expired temporary bans and returns how many remained.
func (f *Filter) SweepTempBans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for addr, until := range f.tempBans {
		if !now.Before(until) {
			delete(f.tempBans, addr)
		}
	}
	return len(f.tempBans)
}

// AddBlacklist inserts an address or CIDR into the deny list and persists it.
func (f *Filter) AddBlacklist(entry string) error {
	return f.mutate(&f.blacklist, f.blacklistPath, entry, true)
}

// RemoveBlacklist removes an address or CIDR from the deny list and persists it.
func (f *Filter) RemoveBlacklist(entry string) error {
	return f.mutate(&f.blacklist, f.blacklistPath, entry, false)
}

// AddWhitelist inserts an address or CIDR into the allow list and persists it.
func (f *Filter) AddWhitelist(entry string) error {
	return f.mutate(&f.whitelist, f.whitelistPath, entry, true)
}

// RemoveWhitelist removes an address or CIDR from the allow list and persists it.
func (f *Filter) RemoveWhitelist(entry string) error {
	return f.mutate(&f.whitelist, f.whitelistPath, entry, false)
}

// ClearBlacklist empties the deny list and persists the empty list.
func (f *Filter) ClearBlacklist() error {
	f.mu.Lock()
	f.blacklist = newList()
	doc := docLocked(f.blacklist)
	f.mu.Unlock()
	return save(f.blacklistPath, doc)
}

// ClearWhitelist empties the allow list and persists the empty list.
func (f *Filter) ClearWhitelist() error {
	f.mu.Lock()
	f.whitelist = newList()
	doc := docLocked(f.whitelist)
	f.mu.Unlock()
	return save(f.whitelistPath, doc)
}

func (f *Filter) mutate(l *list, path, entry string, add bool) error {
	addr, prefix, err := parseEntry(entry)
	if err != nil {
		return err
	}
	f.mu.Lock()
	if prefix.IsValid() {
		if add {
			l.networks[prefix] = struct{}{}
		} else {
			delete(l.networks, prefix)
		}
	} else {
		if add {
			l.ips[addr] = struct{}{}
		} else {
			delete(l.ips, addr)
		}
	}
	doc := docLocked(*l)
	f.mu.Unlock()
	return save(path, doc)
}

// parseEntry accepts either a bare address or a CIDR network.
func parseEntry(entry string) (netip.Addr, netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Addr{}, netip.Prefix{}, fmt.Errorf("%w: %q", ErrBadEntry, entry)
		}
		return netip.Addr{}, p.Masked(), nil
	}
	a, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Addr{}, netip.Prefix{}, fmt.Errorf("%w: %q", ErrBadEntry, entry)
	}
	return a.Unmap(), netip.Prefix{}, nil
}

// Reload re-reads both lists from disk, replacing the in-memory sets.
// Temporary bans are untouched. The broker calls this on SIGHUP.
func (f *Filter) Reload() error {
	bl, err := load(f.blacklistPath, f.log)
	if err != nil {
		return err
	}
	wl, err := load(f.whitelistPath, f.log)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.blacklist = bl
	f.whitelist = wl
	f.mu.Unlock()
	return nil
}

// Snapshot returns sorted copies of one list's entries for display.
func (f *Filter) Snapshot(whitelist bool) (ips, networks []string) {
	f.mu.Lock()
	l := f.blacklist
	if whitelist {
		l = f.whitelist
	}
	doc := docLocked(l)
	f.mu.Unlock()
	return doc.IPs, doc.Networks
}

func docLocked(l list) listDoc {
	doc := listDoc{IPs: make([]string, 0, len(l.ips)), Networks: make([]string, 0, len(l.networks))}
	for a := range l.ips {
		doc.IPs = append(doc.IPs, a.String())
	}
	for p := range l.networks {
		doc.Networks = append(doc.Networks, p.String())
	}
	sort.Strings(doc.IPs)
	sort.Strings(doc.Networks)
	return doc
}

func save(path string, doc listDoc) error {
	if path == "" {
		return nil
	}
	return securefile.WriteJSONAtomic(path, doc, 0o600)
}

func load(path string, log logging.LeveledLogger) (list, error) {
	l := newList()
	if path == "" {
		return l, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return l, err
	}
	var doc listDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return l, fmt.Errorf("ipfilter: parse %s: %w", path, err)
	}
	for _, s := range doc.IPs {
		a, _, err := parseEntry(s)
		if err != nil || !a.IsValid() {
			log.Warnf("skipping bad address %q in %s", s, path)
			continue
		}
		l.ips[a] = struct{}{}
	}
	for _, s := range doc.Networks {
		_, p, err := parseEntry(s)
		if err != nil || !p.IsValid() {
			log.Warnf("skipping bad network %q in %s", s, path)
			continue
		}
		l.networks[p] = struct{}{}
	}
	return l, nil
}
