package engine

import (
	"fmt"

	"github.com/MrSnakeDoc/relay/internal/fault"
)

var (
	// ErrTransitionInProgress rejects route mutation while the engine is
	// starting, stopping, suspending or resuming.
	ErrTransitionInProgress = fault.New(fault.ErrLifecycle, "lifecycle transition in progress")
	// ErrVetoed is returned by Start once a previous start was aborted.
	ErrVetoed = fault.New(fault.ErrLifecycle, "context startup was vetoed")
	// ErrInvalidStatus rejects an operation the current status does not allow.
	ErrInvalidStatus = fault.New(fault.ErrLifecycle, "operation invalid for context status")
)

// StartupAbortError wraps the failure that aborted Start. Everything started
// before the failure has been stopped.
type StartupAbortError struct {
	Cause error
}

func (e *StartupAbortError) Error() string {
	return fmt.Sprintf("startup aborted: %v", e.Cause)
}

func (e *StartupAbortError) Unwrap() error { return e.Cause }

func (e *StartupAbortError) Is(target error) bool { return target == fault.ErrStartupAbort }
