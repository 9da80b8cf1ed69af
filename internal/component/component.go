// Package component provides the built-in endpoint components:
//
//	direct:name            synchronous in-process hand-off between routes
//	log:name?level=info    logs every message it receives
//	timer:name?period=1s   emits a message on every tick
package component

import (
	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/fault"
	"github.com/MrSnakeDoc/relay/internal/logger"
)

// ErrNoConsumers is returned when sending to a direct endpoint nobody consumes.
var ErrNoConsumers = fault.New(fault.ErrLifecycle, "no consumers available on endpoint")

// ErrInvalidParameter is returned for malformed endpoint parameters.
var ErrInvalidParameter = fault.New(fault.ErrValidation, "invalid endpoint parameter")

// Registrar accepts components by scheme.
type Registrar interface {
	AddComponent(name string, c endpoint.Component) error
}

// RegisterDefaults adds the built-in components to r.
func RegisterDefaults(r Registrar, log logger.Logger) error {
	if err := r.AddComponent("direct", NewDirect()); err != nil {
		return err
	}
	if err := r.AddComponent("log", NewLog(log)); err != nil {
		return err
	}
	return r.AddComponent("timer", NewTimer(log))
}
