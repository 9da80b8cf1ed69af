package route

import "fmt"

// State is a route lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Started
	Suspending
	Suspended
	Resuming
	Stopping
)

var stateNames = [...]string{
	Stopped:    "Stopped",
	Starting:   "Starting",
	Started:    "Started",
	Suspending: "Suspending",
	Suspended:  "Suspended",
	Resuming:   "Resuming",
	Stopping:   "Stopping",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown route state %q", b)
}

// transitions lists the allowed moves of the route state machine.
var transitions = map[State][]State{
	Stopped:    {Starting},
	Starting:   {Started, Stopped},
	Started:    {Suspending, Stopping},
	Suspending: {Suspended, Stopping},
	Suspended:  {Resuming, Stopping},
	Resuming:   {Started, Suspended},
	Stopping:   {Stopped},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
