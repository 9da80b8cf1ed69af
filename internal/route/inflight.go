package route

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Inflight counts units of work currently being processed by a route.
type Inflight struct {
	n atomic.Int64
}

// Begin records a unit of work and returns the function that completes it.
// Calling the returned function more than once has no further effect.
func (i *Inflight) Begin() (done func()) {
	i.n.Add(1)
	var once sync.Once
	return func() { once.Do(func() { i.n.Add(-1) }) }
}

// Count returns the number of units in flight.
func (i *Inflight) Count() int64 { return i.n.Load() }

// Wait polls until no unit is in flight, timeout elapses or ctx is done.
// It reports whether the route drained.
func (i *Inflight) Wait(ctx context.Context, timeout, poll time.Duration) bool {
	if i.Count() == 0 {
		return true
	}
	if timeout <= 0 {
		return false
	}
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return i.Count() == 0
		case <-timer.C:
			return i.Count() == 0
		case <-ticker.C:
			if i.Count() == 0 {
				return true
			}
		}
	}
}
