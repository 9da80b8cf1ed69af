// Package endpoint holds the endpoint and component contracts and the
// registry that caches resolved endpoints by normalized URI.
package endpoint

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/relay/internal/fault"
	"github.com/MrSnakeDoc/relay/internal/message"
)

var (
	// ErrInvalidURI is returned for URIs that cannot be normalized.
	ErrInvalidURI = fault.New(fault.ErrValidation, "invalid endpoint uri")
	// ErrNoSuchComponent is returned when no component serves a URI scheme.
	ErrNoSuchComponent = fault.New(fault.ErrConstruction, "no such component")
	// ErrNilEndpoint is returned when a nil endpoint is registered.
	ErrNilEndpoint = fault.New(fault.ErrValidation, "endpoint is nil")
	// ErrNotFound is returned when removing an endpoint that is not registered.
	ErrNotFound = fault.New(fault.ErrValidation, "endpoint not registered")
)

// Endpoint is a resolved source or destination.
type Endpoint interface {
	URI() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Producer sends messages to an endpoint.
type Producer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Process(ctx context.Context, msg *message.Message) error
}

// Consumer feeds messages from an endpoint into a processor.
type Consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Suspendable consumers can pause without releasing their resources.
type Suspendable interface {
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}

// ProducerEndpoint can be used as a route step.
type ProducerEndpoint interface {
	Endpoint
	CreateProducer() (Producer, error)
}

// ConsumerEndpoint can be used as a route input.
type ConsumerEndpoint interface {
	Endpoint
	CreateConsumer(processor message.Processor) (Consumer, error)
}

// Component builds endpoints for one URI scheme.
type Component interface {
	CreateEndpoint(ctx context.Context, uri string, params map[string]string) (Endpoint, error)
}

// ComponentResolver returns the component serving a scheme.
// Failures wrap ErrNoSuchComponent.
type ComponentResolver interface {
	Resolve(scheme string) (Component, error)
}

// ConstructionError reports a component failing to build or start an endpoint.
type ConstructionError struct {
	URI string
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("create endpoint %s: %v", e.URI, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

func (e *ConstructionError) Is(target error) bool { return target == fault.ErrConstruction }
