package engine

import (
	"context"

	"github.com/MrSnakeDoc/relay/internal/service"
)

// AddService registers svc. It starts immediately when the engine is started
// or forceStart is set, otherwise with the engine. Adding the same instance
// twice is a no-op.
func (e *Engine) AddService(ctx context.Context, svc service.Service, stopOnShutdown, forceStart bool) (service.Handle, error) {
	return e.services.Add(ctx, svc, stopOnShutdown, forceStart)
}

// DeferStartService stages svc until the engine is almost started: after
// routes, before startup listeners. On a started engine it starts at once.
func (e *Engine) DeferStartService(ctx context.Context, svc service.Service, stopOnShutdown bool) (service.Handle, error) {
	return e.services.DeferStart(ctx, svc, stopOnShutdown)
}

// RemoveService unregisters svc without stopping it.
func (e *Engine) RemoveService(svc service.Service) bool {
	return e.services.Remove(svc)
}

func (e *Engine) HasService(svc service.Service) bool {
	return e.services.Has(svc)
}

// Services returns a view of every registered service.
func (e *Engine) Services() []service.Info {
	return e.services.Snapshot()
}

// ServiceRegistry exposes the registry for typed lookups such as
// service.Lookup[T].
func (e *Engine) ServiceRegistry() *service.Registry {
	return e.services
}
