package engine

import (
	"context"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
)

// EndpointRegistry returns the current endpoint cache. Stop replaces it.
func (e *Engine) EndpointRegistry() *endpoint.Registry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.endpoints
}

// Endpoint resolves uri, creating the endpoint in the dynamic cache on first use.
func (e *Engine) Endpoint(ctx context.Context, uri string) (endpoint.Endpoint, error) {
	return e.EndpointRegistry().Resolve(ctx, uri)
}

// HasEndpoint returns the cached endpoint for uri without creating one.
func (e *Engine) HasEndpoint(uri string) (endpoint.Endpoint, bool) {
	return e.EndpointRegistry().Lookup(uri)
}

// AddEndpoint registers ep under uri as a static endpoint. A previously
// registered endpoint is stopped and returned.
func (e *Engine) AddEndpoint(ctx context.Context, uri string, ep endpoint.Endpoint) (endpoint.Endpoint, error) {
	return e.EndpointRegistry().AddStatic(ctx, uri, ep)
}

// RemoveEndpoint stops and removes ep.
func (e *Engine) RemoveEndpoint(ctx context.Context, ep endpoint.Endpoint) error {
	return e.EndpointRegistry().Remove(ctx, ep)
}

// RemoveEndpoints stops and removes every endpoint matching pattern.
func (e *Engine) RemoveEndpoints(ctx context.Context, pattern string) ([]endpoint.Endpoint, error) {
	return e.EndpointRegistry().RemoveMatching(ctx, pattern)
}

// EndpointSnapshot describes every cached endpoint, sorted by URI.
func (e *Engine) EndpointSnapshot() []endpoint.Info {
	return e.EndpointRegistry().Snapshot()
}

func (e *Engine) Endpoints() []endpoint.Endpoint {
	return e.EndpointRegistry().Endpoints()
}

// EndpointMap returns the cached endpoints keyed by normalized URI.
func (e *Engine) EndpointMap() map[string]endpoint.Endpoint {
	return e.EndpointRegistry().Map()
}

// RegisterEndpointCallback adds s to the current cache and to every cache
// created after a Stop.
func (e *Engine) RegisterEndpointCallback(s endpoint.Strategy) {
	e.mu.Lock()
	e.strategies = append(e.strategies, s)
	eps := e.endpoints
	e.mu.Unlock()
	eps.RegisterCallback(s)
}

func (e *Engine) AddComponent(name string, c endpoint.Component) error {
	return e.components.Add(name, c)
}

func (e *Engine) HasComponent(name string) (endpoint.Component, bool) {
	return e.components.Get(name)
}

func (e *Engine) RemoveComponent(name string) (endpoint.Component, bool) {
	return e.components.Remove(name)
}

func (e *Engine) ComponentNames() []string {
	return e.components.Names()
}
