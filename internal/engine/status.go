package engine

import "fmt"

// Status is the lifecycle state of an Engine.
type Status int

const (
	Stopped Status = iota
	Starting
	Started
	Suspending
	Suspended
	Resuming
	Stopping
	// VetoStarted is terminal: startup failed and was unwound.
	VetoStarted
)

var statusNames = [...]string{
	Stopped:     "Stopped",
	Starting:    "Starting",
	Started:     "Started",
	Suspending:  "Suspending",
	Suspended:   "Suspended",
	Resuming:    "Resuming",
	Stopping:    "Stopping",
	VetoStarted: "VetoStarted",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Transitional reports whether s is a state the engine only passes through.
func (s Status) Transitional() bool {
	switch s {
	case Starting, Suspending, Resuming, Stopping:
		return true
	}
	return false
}
