package defaults

import "time"

const (
	minSweepInterval = time.Second
	maxSweepInterval = time.Minute
)

// IdleSweepInterval returns how often the broker scans for idle connections.
//
// It uses idleTimeout / 2, clamps the result into [1s, 60s], and guarantees
// the interval is strictly less than the idle timeout so a connection is
// never idle for two full timeouts before the sweep notices.
func IdleSweepInterval(idleTimeout time.Duration) time.Duration {
	if idleTimeout <= 0 {
		return 0
	}
	interval := idleTimeout / 2
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	if interval >= idleTimeout {
		interval = idleTimeout / 2
	}
	return interval
}
