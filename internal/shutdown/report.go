package shutdown

import (
	"fmt"
	"time"

	"github.com/MrSnakeDoc/relay/internal/fault"
)

// Mode selects between stopping and suspending routes.
type Mode int

const (
	ModeStop Mode = iota
	ModeSuspend
)

func (m Mode) String() string {
	if m == ModeSuspend {
		return "suspend"
	}
	return "stop"
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "stop":
		*m = ModeStop
	case "suspend":
		*m = ModeSuspend
	default:
		return fmt.Errorf("unknown shutdown mode %q", b)
	}
	return nil
}

// TimeoutError records a route that was force-stopped with work in flight.
// It is soft: the route has already been stopped.
type TimeoutError struct {
	RouteID  string
	Inflight int64
	Waited   time.Duration
	Global   bool
}

func (e *TimeoutError) Error() string {
	scope := "route"
	if e.Global {
		scope = "global"
	}
	return fmt.Sprintf("route %s force-stopped after %s with %d in flight (%s timeout)",
		e.RouteID, e.Waited, e.Inflight, scope)
}

func (e *TimeoutError) Is(target error) bool { return target == fault.ErrShutdownTimeout }

// Result is the outcome of draining one route.
type Result struct {
	RouteID  string        `json:"route_id"`
	Forced   bool          `json:"forced"`
	Inflight int64         `json:"inflight,omitempty"`
	Waited   time.Duration `json:"waited"`
	Error    string        `json:"error,omitempty"`
}

// Report describes one drain.
type Report struct {
	Mode     Mode          `json:"mode"`
	Started  time.Time     `json:"started"`
	Elapsed  time.Duration `json:"elapsed"`
	Results  []Result      `json:"results"`
	Timeouts []error       `json:"-"`
}

// Forced returns the ids of force-stopped routes in drain order.
func (r *Report) Forced() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, res := range r.Results {
		if res.Forced {
			out = append(out, res.RouteID)
		}
	}
	return out
}
