package ratelimit

import (
	"sync"
	"time"
)

// Connection limiter defaults: 5 accepts per minute per source IP, and a
// 5 minute ban once an IP has been rejected 10 times inside the window.
const (
	DefaultMaxConnects   = 5
	DefaultConnectWindow = time.Minute
	DefaultBanThreshold  = 10
	DefaultBanDuration   = 5 * time.Minute
)

// Reason classifies a connection rejection.
type Reason string

const (
	ReasonRateLimited Reason = "rate_limited"
	ReasonTempBanned  Reason = "temp_banned"
)

// ConnLimiter gates connection attempts per source IP. An IP that keeps
// hammering after its window is exhausted is banned for a fixed period;
// the ban clears itself on the next attempt after expiry.
type ConnLimiter struct {
	mu           sync.Mutex
	limiter      *Limiter
	violations   map[string]int
	bans         map[string]time.Time
	banThreshold int
	banDuration  time.Duration
	now          func() time.Time
}

// NewConnLimiter builds a connection limiter. Non-positive arguments fall
// back to the package defaults.
func NewConnLimiter(max int, window time.Duration, banThreshold int, banDuration time.Duration) *ConnLimiter {
	if max <= 0 {
		max = DefaultMaxConnects
	}
	if window <= 0 {
		window = DefaultConnectWindow
	}
	if banThreshold <= 0 {
		banThreshold = DefaultBanThreshold
	}
	if banDuration <= 0 {
		banDuration = DefaultBanDuration
	}
	return &ConnLimiter{
		limiter:      NewLimiter(max, window),
		violations:   make(map[string]int),
		bans:         make(map[string]time.Time),
		banThreshold: banThreshold,
		banDuration:  banDuration,
		now:          time.Now,
	}
}

// Allow reports whether a connection from ip may be accepted. The second
// return explains a rejection.
func (c *ConnLimiter) Allow(ip string) (bool, Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if until, ok := c.bans[ip]; ok {
		if now.Before(until) {
			return false, ReasonTempBanned
		}
		delete(c.bans, ip)
		delete(c.violations, ip)
	}
	if c.limiter.Allow(ip) {
		return true, ""
	}
	c.violations[ip]++
	if c.violations[ip] >= c.banThreshold {
		c.bans[ip] = now.Add(c.banDuration)
		delete(c.violations, ip)
	}
	return false, ReasonRateLimited
}

// BannedUntil returns the ban expiry for ip, if one is active.
func (c *ConnLimiter) BannedUntil(ip string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.bans[ip]
	if !ok || !c.now().Before(until) {
		return time.Time{}, false
	}
	return until, true
}

// Cleanup drops expired bans and buckets idle for longer than maxIdle.
func (c *ConnLimiter) Cleanup(maxIdle time.Duration) {
	c.mu.Lock()
	now := c.now()
	for ip, until := range c.bans {
		if !now.Before(until) {
			delete(c.bans, ip)
			delete(c.violations, ip)
		}
	}
	c.mu.Unlock()

	c.limiter.Cleanup(maxIdle)

	c.mu.Lock()
	for ip := range c.violations {
		if !c.limiter.tracks(ip) {
			delete(c.violations, ip)
		}
	}
	c.mu.Unlock()
}
