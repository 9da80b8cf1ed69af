// Package fault classifies errors raised by the coordinator into the kinds
// callers react to: validation, lifecycle, construction, shutdown timeout and
// startup abort.
//
// Concrete errors keep their own identity for errors.Is while also matching
// their kind:
//
//	var ErrRouteStillRunning = fault.New(fault.ErrLifecycle, "route is still running")
//
//	errors.Is(err, route.ErrRouteStillRunning) // true
//	errors.Is(err, fault.ErrLifecycle)         // true
package fault

import "errors"

var (
	// ErrValidation rejects input before any state is mutated.
	ErrValidation = errors.New("validation error")
	// ErrLifecycle rejects an operation that is invalid for the current state.
	ErrLifecycle = errors.New("lifecycle error")
	// ErrConstruction reports a component failing to build an endpoint or service.
	ErrConstruction = errors.New("construction error")
	// ErrShutdownTimeout is soft: forced completion already happened.
	ErrShutdownTimeout = errors.New("shutdown timeout")
	// ErrStartupAbort reports a start sequence that was unwound.
	ErrStartupAbort = errors.New("startup aborted")
)

type kindError struct {
	kind error
	msg  string
}

// New returns an error with its own identity that also matches kind.
func New(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

// KindOf returns the kind err belongs to, or nil when it is unclassified.
func KindOf(err error) error {
	for _, k := range []error{ErrValidation, ErrLifecycle, ErrConstruction, ErrShutdownTimeout, ErrStartupAbort} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
