// Package shutdown drains routes gracefully: inputs first, then in-flight
// work, then the rest of each route, bounded by per-route and global timeouts.
package shutdown

import "time"

// Defaults applied to zero Strategy fields.
const (
	DefaultTimeout       = 45 * time.Second
	DefaultGlobalTimeout = 300 * time.Second
	DefaultPollInterval  = 10 * time.Millisecond
)

// Strategy configures a drain.
type Strategy struct {
	// Timeout bounds the wait for one route's in-flight work.
	Timeout time.Duration
	// GlobalTimeout bounds the whole drain. Routes reached after it elapsed
	// are force-stopped without waiting.
	GlobalTimeout time.Duration
	// SuppressLoggingOnTimeout lowers forced-shutdown logs to debug.
	SuppressLoggingOnTimeout bool
	// Parallelism is the number of routes drained at once. 1 drains strictly
	// in order.
	Parallelism int
	// PollInterval is how often in-flight counters are checked.
	PollInterval time.Duration
}

func (s Strategy) withDefaults() Strategy {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.GlobalTimeout <= 0 {
		s.GlobalTimeout = DefaultGlobalTimeout
	}
	if s.Parallelism <= 0 {
		s.Parallelism = 1
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	return s
}
