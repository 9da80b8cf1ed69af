// Package engine is the runtime context: it owns the services, endpoints and
// routes of one isolated unit and drives them through a single lifecycle.
//
//	Stopped -> Starting -> Started -> Suspending -> Suspended -> Resuming -> Started
//	Started|Suspended -> Stopping -> Stopped
//	Starting -> VetoStarted (startup failed and was unwound)
//
// Stop is a cold reset: services flagged stopOnShutdown are dropped and the
// endpoint cache is replaced. Suspend and Resume keep every registry intact.
package engine

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/route"
	"github.com/MrSnakeDoc/relay/internal/service"
	"github.com/MrSnakeDoc/relay/internal/shutdown"
)

// Engine is one runtime context.
type Engine struct {
	name    string
	version string
	log     logger.Logger
	opts    options

	// lifecycle serializes status transitions and route mutation.
	lifecycle sync.Mutex
	// pending counts transitions holding or waiting for lifecycle; gen
	// counts every transition that took it.
	pending   atomic.Int32
	gen       atomic.Uint64
	status    atomic.Int32
	startedAt atomic.Int64

	mu             sync.RWMutex
	managementName string
	globalOptions  map[string]string
	endpoints      *endpoint.Registry
	strategies     []endpoint.Strategy
	listeners      []StartupListener
	listenersFired bool
	lastReport     *shutdown.Report
	suspended      []string // routes paused by Suspend, in shutdown order
	pendingStart   []string // routes added while suspended

	components  *endpoint.Components
	services    *service.Registry
	routes      *route.Manager
	coordinator *shutdown.Coordinator
}

// New creates a stopped engine.
func New(name string, opts ...Option) *Engine {
	o := options{
		logger:   logger.NewNop(),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.NewNop()
	}
	if o.observer == nil {
		o.observer = noopObserver{}
	}

	log := o.logger.Named("engine").With(logger.String("context", name))
	e := &Engine{
		name:           name,
		version:        o.version,
		log:            log,
		opts:           o,
		managementName: o.managementName,
		globalOptions:  maps.Clone(o.globalOptions),
		components:     endpoint.NewComponents(),
		services:       service.NewRegistry(log.Named("services")),
		routes:         route.NewManager(o.ids, log.Named("routes")),
		coordinator:    shutdown.New(o.strategy, log.Named("shutdown"), o.shutdownObserver),
	}
	if e.managementName == "" {
		e.managementName = name
	}
	if e.globalOptions == nil {
		e.globalOptions = make(map[string]string)
	}
	e.endpoints = e.newEndpointRegistry()
	return e
}

func (e *Engine) newEndpointRegistry() *endpoint.Registry {
	opts := []endpoint.Option{
		endpoint.WithMaxDynamic(e.opts.maxDynamic),
		endpoint.WithLogger(e.log.Named("endpoints")),
	}
	if e.opts.endpointObserver != nil {
		opts = append(opts, endpoint.WithObserver(e.opts.endpointObserver))
	}
	return endpoint.NewRegistry(e.components, opts...)
}

func (e *Engine) Name() string    { return e.name }
func (e *Engine) Version() string { return e.version }

func (e *Engine) ManagementName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.managementName
}

func (e *Engine) SetManagementName(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.managementName = name
}

func (e *Engine) Status() Status { return Status(e.status.Load()) }

// IsVetoStarted reports whether a start was aborted.
func (e *Engine) IsVetoStarted() bool { return e.Status() == VetoStarted }

// Uptime returns the time since the engine last started, or zero.
func (e *Engine) Uptime() time.Duration {
	ts := e.startedAt.Load()
	if ts == 0 {
		return 0
	}
	return time.Since(time.Unix(0, ts))
}

func (e *Engine) setStatus(s Status) {
	prev := Status(e.status.Swap(int32(s)))
	e.opts.observer.StatusChanged(e.name, s)
	e.log.Debug("status changed",
		logger.String("from", prev.String()),
		logger.String("status", s.String()))
}

// Start starts services, then auto-startup routes, then deferred services,
// then startup listeners. Calling it while starting or started does nothing;
// on a suspended engine it resumes. A failure unwinds everything started so
// far, leaves the engine VetoStarted and is returned as a StartupAbortError.
func (e *Engine) Start(ctx context.Context) error {
	if st := e.Status(); st == Starting || st == Started {
		return nil
	}

	defer e.lockTransition()()

	switch e.Status() {
	case Started:
		return nil
	case VetoStarted:
		return ErrVetoed
	case Suspended:
		return e.resumeLocked(ctx)
	}

	began := time.Now()
	e.setStatus(Starting)
	e.log.Info("starting context")

	if err := e.startLocked(ctx); err != nil {
		e.log.Error("context startup failed, unwinding", logger.Error(err))
		if uerr := e.stopLocked(ctx); uerr != nil {
			e.log.Warn("errors while unwinding startup", logger.Error(uerr))
		}
		e.setStatus(VetoStarted)
		return &StartupAbortError{Cause: err}
	}

	e.startedAt.Store(time.Now().UnixNano())
	e.setStatus(Started)
	e.log.Info("context started",
		logger.Int("routes", e.routes.Len()),
		logger.Duration("elapsed", time.Since(began)))
	return nil
}

func (e *Engine) startLocked(ctx context.Context) error {
	if err := e.services.StartAll(ctx); err != nil {
		return err
	}

	var auto []*route.Route
	for _, r := range e.routes.Routes() {
		if r.Definition().IsAutoStartup() && r.State() == route.Stopped {
			auto = append(auto, r)
		}
	}
	if err := e.startRoutes(ctx, auto); err != nil {
		return err
	}

	if err := e.services.MarkStarted(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	listeners := append([]StartupListener(nil), e.listeners...)
	e.listenersFired = true
	e.mu.Unlock()
	for _, l := range listeners {
		if err := l.OnStarted(ctx, e, false); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) startRoutes(ctx context.Context, routes []*route.Route) error {
	planned, err := route.Plan(routes)
	if err != nil {
		return err
	}
	eps := e.EndpointRegistry()
	for _, r := range planned {
		if err := e.routes.Start(ctx, r.ID(), eps); err != nil {
			return err
		}
	}
	return nil
}

// Stop drains routes in reverse startup order, stops services flagged
// stopOnShutdown in reverse start order and resets the endpoint cache. Route
// definitions are kept. Forced route shutdowns are recorded in
// LastShutdownReport and do not fail Stop. Calling it on a stopped or
// stopping engine does nothing.
func (e *Engine) Stop(ctx context.Context) error {
	if st := e.Status(); st == Stopped || st == Stopping {
		return nil
	}

	defer e.lockTransition()()

	switch e.Status() {
	case Stopped, VetoStarted:
		return nil
	}

	began := time.Now()
	e.setStatus(Stopping)
	e.log.Info("stopping context")

	err := e.stopLocked(ctx)

	e.startedAt.Store(0)
	e.setStatus(Stopped)
	e.log.Info("context stopped", logger.Duration("elapsed", time.Since(began)))
	return err
}

func (e *Engine) stopLocked(ctx context.Context) error {
	e.services.BeginStop()
	report, drainErr := e.coordinator.Drain(ctx, shutdown.ModeStop, targets(e.routes.ShutdownOrder()))

	eps := e.EndpointRegistry()
	for _, r := range e.routes.Routes() {
		if st := r.State(); st != route.Stopped {
			drainErr = multierr.Append(drainErr, r.Stop(ctx))
		}
		e.routes.Detach(r.ID(), eps)
	}
	e.routes.Prune()

	svcErr := e.services.StopAll(ctx)
	epErr := eps.StopAll(ctx)

	e.mu.Lock()
	e.lastReport = report
	e.suspended = nil
	e.pendingStart = nil
	e.listenersFired = false
	e.endpoints = e.newEndpointRegistry()
	for _, s := range e.strategies {
		e.endpoints.RegisterCallback(s)
	}
	e.mu.Unlock()

	if drainErr != nil {
		e.log.Warn("errors while draining routes", logger.Error(drainErr))
	}
	if epErr != nil {
		e.log.Warn("errors while stopping endpoints", logger.Error(epErr))
	}
	if svcErr != nil {
		return svcErr
	}
	return multierr.Combine(drainErr, epErr)
}

// Suspend pauses every running route without touching services or the
// endpoint cache. Routes whose input cannot be suspended are stopped and
// started again by Resume.
func (e *Engine) Suspend(ctx context.Context) error {
	if e.Status() == Suspended {
		return nil
	}

	defer e.lockTransition()()

	switch e.Status() {
	case Suspended:
		return nil
	case Started:
	default:
		return e.invalidStatus("suspend")
	}

	e.setStatus(Suspending)
	running := e.routes.ShutdownOrder()
	report, err := e.coordinator.Drain(ctx, shutdown.ModeSuspend, targets(running))
	e.routes.Prune()

	ids := make([]string, len(running))
	for i, r := range running {
		ids[i] = r.ID()
	}
	e.mu.Lock()
	e.lastReport = report
	e.suspended = ids
	e.mu.Unlock()

	e.setStatus(Suspended)
	e.log.Info("context suspended", logger.Int("routes", len(ids)))
	return err
}

// Resume continues the routes paused by Suspend in their original startup
// order, then starts routes added while suspended.
func (e *Engine) Resume(ctx context.Context) error {
	if e.Status() == Started {
		return nil
	}

	defer e.lockTransition()()

	switch e.Status() {
	case Started:
		return nil
	case Suspended:
		return e.resumeLocked(ctx)
	default:
		return e.invalidStatus("resume")
	}
}

func (e *Engine) resumeLocked(ctx context.Context) error {
	e.setStatus(Resuming)

	e.mu.Lock()
	ids := e.suspended
	pending := e.pendingStart
	e.suspended = nil
	e.pendingStart = nil
	e.mu.Unlock()

	eps := e.EndpointRegistry()
	var errs error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := e.routes.Resume(ctx, ids[i], eps); err != nil {
			e.log.Warn("failed to resume route", logger.String("route_id", ids[i]), logger.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	var toStart []*route.Route
	for _, id := range pending {
		if r, ok := e.routes.Get(id); ok && r.State() == route.Stopped {
			toStart = append(toStart, r)
		}
	}
	errs = multierr.Append(errs, e.startRoutes(ctx, toStart))

	e.setStatus(Started)
	e.log.Info("context resumed", logger.Int("routes", len(ids)))
	return errs
}

// LastShutdownReport describes the most recent drain by Stop, Suspend or a
// route-level stop.
func (e *Engine) LastShutdownReport() *shutdown.Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastReport
}

func (e *Engine) invalidStatus(op string) error {
	return fmt.Errorf("%w: cannot %s in status %s", ErrInvalidStatus, op, e.Status())
}

func targets(routes []*route.Route) []shutdown.Target {
	out := make([]shutdown.Target, len(routes))
	for i, r := range routes {
		out[i] = r
	}
	return out
}
