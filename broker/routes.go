package broker

import "sync"

// routeCache memoizes per-channel member id lists for fan-out. Membership
// mutations invalidate the entry; a miss rebuilds it from the live set. The
// cache is an optimization only and never the source of truth.
type routeCache struct {
	mu      sync.Mutex
	entries map[string][]string
	hits    int64
	misses  int64
}

func newRouteCache() *routeCache {
	return &routeCache{entries: make(map[string][]string)}
}

// lookup returns the cached member ids for a channel. Callers must not
// mutate the returned slice.
func (c *routeCache) lookup(channel string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, ok := c.entries[channel]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return ids, ok
}

// put stores a copy of ids for the channel.
func (c *routeCache) put(channel string, ids []string) {
	cp := make([]string, len(ids))
	copy(cp, ids)
	c.mu.Lock()
	c.entries[channel] = cp
	c.mu.Unlock()
}

func (c *routeCache) invalidate(channel string) {
	c.mu.Lock()
	delete(c.entries, channel)
	c.mu.Unlock()
}

// stats reports lifetime hit and miss counts and the live entry count.
func (c *routeCache) stats() (hits, misses int64, entries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}
