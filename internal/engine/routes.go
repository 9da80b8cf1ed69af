package engine

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/route"
	"github.com/MrSnakeDoc/relay/internal/shutdown"
)

// beginMutation takes the lifecycle lock for a route mutation. It fails fast
// while a lifecycle transition holds or waits for the lock, and fails after
// waiting behind another mutation if a transition ran in the meantime.
func (e *Engine) beginMutation() error {
	if e.lifecycle.TryLock() {
		if st := e.Status(); st.Transitional() {
			e.lifecycle.Unlock()
			return fmt.Errorf("%w: context is %s", ErrTransitionInProgress, st)
		}
		return nil
	}
	if e.pending.Load() > 0 {
		return fmt.Errorf("%w: context is %s", ErrTransitionInProgress, e.Status())
	}
	gen := e.gen.Load()
	e.lifecycle.Lock()
	if e.gen.Load() != gen || e.Status().Transitional() {
		e.lifecycle.Unlock()
		return fmt.Errorf("%w: context is %s", ErrTransitionInProgress, e.Status())
	}
	return nil
}

// lockTransition takes the lifecycle lock for a status transition and
// returns its release.
func (e *Engine) lockTransition() func() {
	e.pending.Add(1)
	e.lifecycle.Lock()
	e.gen.Add(1)
	return func() {
		e.lifecycle.Unlock()
		e.pending.Add(-1)
	}
}

// AddRoutes adds the routes produced by b. The whole batch is validated
// before anything changes. A route whose id is already in use replaces the
// existing route: the old route is stopped and removed, and its endpoints no
// other route uses are stopped, before the new route is added. The old route
// is not restored if the new one fails to start.
//
// Routes start right away when the engine is started; otherwise they start
// with the engine (or on Resume when it is suspended).
func (e *Engine) AddRoutes(ctx context.Context, b route.Builder) error {
	defs, err := b.Configure()
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}
	return e.AddRouteDefinitions(ctx, defs...)
}

// AddRouteDefinitions is AddRoutes over a fixed list.
func (e *Engine) AddRouteDefinitions(ctx context.Context, defs ...*route.Definition) error {
	if err := e.beginMutation(); err != nil {
		return err
	}
	defer e.lifecycle.Unlock()

	prepared, err := e.routes.Prepare(defs)
	if err != nil {
		return err
	}

	added := make([]*route.Route, 0, len(prepared))
	for _, def := range prepared {
		if old, ok := e.routes.Get(def.ID); ok {
			if err := e.replaceLocked(ctx, old); err != nil {
				return err
			}
		}
		r, err := e.routes.Add(def)
		if err != nil {
			return err
		}
		added = append(added, r)
	}

	var auto []*route.Route
	for _, r := range added {
		if r.Definition().IsAutoStartup() {
			auto = append(auto, r)
		}
	}

	switch e.Status() {
	case Started:
		return e.startRoutes(ctx, auto)
	case Suspended:
		e.mu.Lock()
		for _, r := range auto {
			e.pendingStart = append(e.pendingStart, r.ID())
		}
		e.mu.Unlock()
	}
	return nil
}

func (e *Engine) replaceLocked(ctx context.Context, old *route.Route) error {
	e.log.Info("replacing route", logger.String("route_id", old.ID()))

	if st := old.State(); st != route.Stopped {
		if err := e.drainLocked(ctx, shutdown.ModeStop, old); err != nil {
			return fmt.Errorf("stop replaced route %s: %w", old.ID(), err)
		}
	}

	eps := e.EndpointRegistry()
	orphans, err := e.routes.Remove(old.ID(), eps)
	if err != nil {
		return err
	}
	if err := eps.RemoveUnreferenced(ctx, orphans); err != nil {
		e.log.Warn("failed to stop endpoints of replaced route",
			logger.String("route_id", old.ID()),
			logger.Error(err))
	}
	return nil
}

func (e *Engine) drainLocked(ctx context.Context, mode shutdown.Mode, r *route.Route) error {
	report, err := e.coordinator.Drain(ctx, mode, targets([]*route.Route{r}))
	e.routes.Prune()
	e.mu.Lock()
	e.lastReport = report
	e.mu.Unlock()
	return err
}

// RemoveRoute removes a stopped route and drops its endpoint references.
// Endpoints left unreferenced stay registered; remove them explicitly with
// RemoveEndpoint or RemoveEndpoints.
func (e *Engine) RemoveRoute(id string) error {
	if err := e.beginMutation(); err != nil {
		return err
	}
	defer e.lifecycle.Unlock()

	orphans, err := e.routes.Remove(id, e.EndpointRegistry())
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		e.log.Debug("route endpoints unreferenced",
			logger.String("route_id", id),
			logger.Strings("uris", orphans))
	}
	return nil
}

// StartRoute starts a stopped route of a started engine.
func (e *Engine) StartRoute(ctx context.Context, id string) error {
	if err := e.beginMutation(); err != nil {
		return err
	}
	defer e.lifecycle.Unlock()

	if e.Status() != Started {
		return e.invalidStatus("start route " + id)
	}
	return e.routes.Start(ctx, id, e.EndpointRegistry())
}

// StopRoute gracefully stops one route, draining its in-flight work.
func (e *Engine) StopRoute(ctx context.Context, id string) error {
	return e.drainRoute(ctx, shutdown.ModeStop, id)
}

// SuspendRoute pauses one route. A route whose input cannot be suspended is
// stopped.
func (e *Engine) SuspendRoute(ctx context.Context, id string) error {
	return e.drainRoute(ctx, shutdown.ModeSuspend, id)
}

func (e *Engine) drainRoute(ctx context.Context, mode shutdown.Mode, id string) error {
	if err := e.beginMutation(); err != nil {
		return err
	}
	defer e.lifecycle.Unlock()

	r, ok := e.routes.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", route.ErrRouteNotFound, id)
	}
	st := r.State()
	if st == route.Stopped || (mode == shutdown.ModeSuspend && st == route.Suspended) {
		return nil
	}
	if st != route.Started && st != route.Suspended {
		return fmt.Errorf("%w: route %s is %s", route.ErrInvalidRouteState, id, st)
	}
	return e.drainLocked(ctx, mode, r)
}

// ResumeRoute continues a suspended route.
func (e *Engine) ResumeRoute(ctx context.Context, id string) error {
	if err := e.beginMutation(); err != nil {
		return err
	}
	defer e.lifecycle.Unlock()

	if e.Status() != Started {
		return e.invalidStatus("resume route " + id)
	}
	return e.routes.Resume(ctx, id, e.EndpointRegistry())
}

// Route returns a view of one route.
func (e *Engine) Route(id string) (route.Info, bool) {
	r, ok := e.routes.Get(id)
	if !ok {
		return route.Info{}, false
	}
	return r.Info(), true
}

// Routes returns every route in declaration order.
func (e *Engine) Routes() []route.Info {
	rs := e.routes.Routes()
	out := make([]route.Info, len(rs))
	for i, r := range rs {
		out[i] = r.Info()
	}
	return out
}

// RouteDefinitions returns copies of every route definition.
func (e *Engine) RouteDefinitions() []*route.Definition {
	rs := e.routes.Routes()
	out := make([]*route.Definition, len(rs))
	for i, r := range rs {
		out[i] = r.Definition()
	}
	return out
}

// RouteStartupOrder returns the order in which route inputs actually began
// consuming.
func (e *Engine) RouteStartupOrder() []route.StartupEntry {
	return e.routes.StartupOrder()
}
