package app

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/relay/internal/component"
	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/engine"
	"github.com/MrSnakeDoc/relay/internal/route"
	routesource "github.com/MrSnakeDoc/relay/internal/sources/routes"
)

// Validate checks a routes file without starting anything: the document,
// every definition, and that each endpoint names a known component. It
// returns the routes as they would be added.
func Validate(ctx context.Context, path string) ([]route.Info, error) {
	e := engine.New("validate")
	if err := component.RegisterDefaults(e, nil); err != nil {
		return nil, err
	}
	if err := e.AddRoutes(ctx, routesource.NewLoader(path)); err != nil {
		return nil, err
	}

	var errs error
	for _, def := range e.RouteDefinitions() {
		for _, uri := range def.URIs() {
			p, err := endpoint.Normalize(uri)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("route %s: %w", def.ID, err))
				continue
			}
			if _, ok := e.HasComponent(p.Scheme); !ok {
				errs = multierr.Append(errs, fmt.Errorf("route %s: %w: %s", def.ID, endpoint.ErrNoSuchComponent, p.Scheme))
			}
		}
	}
	if errs != nil {
		return nil, errs
	}
	return e.Routes(), nil
}
