package route

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/message"
)

// Endpoints is the part of the endpoint registry a route needs: it pins its
// endpoints on start and drops the references when it is removed.
type Endpoints interface {
	Acquire(ctx context.Context, uri, routeID string) (endpoint.Endpoint, error)
	Release(uri, routeID string) bool
}

// Route is a running instance of a Definition.
type Route struct {
	def  *Definition
	rank int
	seq  uint64
	log  logger.Logger

	mu        sync.Mutex // serializes transitions
	state     atomic.Int32
	consumer  endpoint.Consumer
	producers []endpoint.Producer
	degraded  bool
	cancelRun context.CancelFunc // ends the work of the current run
	refs      []string
	startedAt atomic.Int64

	inflight Inflight
}

// Info is a read-only view of a route.
type Info struct {
	ID           string        `json:"id"`
	Description  string        `json:"description,omitempty"`
	From         string        `json:"from"`
	To           []string      `json:"to"`
	State        State         `json:"state"`
	StartupOrder int           `json:"startup_order"`
	AutoStartup  bool          `json:"auto_startup"`
	DependsOn    []string      `json:"depends_on,omitempty"`
	Inflight     int64         `json:"inflight"`
	Uptime       time.Duration `json:"uptime"`
}

func newRoute(def *Definition, rank int, seq uint64, log logger.Logger) *Route {
	return &Route{
		def:  def,
		rank: rank,
		seq:  seq,
		log:  log.With(logger.String("route_id", def.ID)),
	}
}

func (r *Route) ID() string { return r.def.ID }

// Definition returns a copy of the route definition.
func (r *Route) Definition() *Definition { return r.def.Clone() }

// Rank is the effective startup order.
func (r *Route) Rank() int { return r.rank }

func (r *Route) DependsOn() []string { return slices.Clone(r.def.DependsOn) }

func (r *Route) State() State { return State(r.state.Load()) }

// Inflight returns the route's in-flight tracker.
func (r *Route) Inflight() *Inflight { return &r.inflight }

// InflightCount returns the number of messages being processed.
func (r *Route) InflightCount() int64 { return r.inflight.Count() }

// WaitIdle waits up to timeout for in-flight work to finish.
func (r *Route) WaitIdle(ctx context.Context, timeout, poll time.Duration) bool {
	return r.inflight.Wait(ctx, timeout, poll)
}

// Uptime returns how long the route has been consuming, or zero when stopped.
func (r *Route) Uptime() time.Duration {
	ts := r.startedAt.Load()
	if ts == 0 {
		return 0
	}
	return time.Since(time.Unix(0, ts))
}

// Refs returns the endpoint URIs the route holds references to.
func (r *Route) Refs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.refs)
}

func (r *Route) Info() Info {
	return Info{
		ID:           r.def.ID,
		Description:  r.def.Description,
		From:         r.def.From,
		To:           slices.Clone(r.def.To),
		State:        r.State(),
		StartupOrder: r.rank,
		AutoStartup:  r.def.IsAutoStartup(),
		DependsOn:    slices.Clone(r.def.DependsOn),
		Inflight:     r.inflight.Count(),
		Uptime:       r.Uptime(),
	}
}

func (r *Route) setStateLocked(to State) error {
	from := r.State()
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: route %s: %s -> %s", ErrInvalidRouteState, r.def.ID, from, to)
	}
	r.state.Store(int32(to))
	return nil
}

// Start resolves the route's endpoints, starts its steps and then its input.
// The route is Started once the input is consuming.
func (r *Route) Start(ctx context.Context, eps Endpoints) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setStateLocked(Starting); err != nil {
		return err
	}
	if err := r.startLocked(ctx, eps); err != nil {
		r.state.Store(int32(Stopped))
		r.log.Warn("route failed to start", logger.Error(err))
		return err
	}
	r.state.Store(int32(Started))
	r.startedAt.Store(time.Now().UnixNano())
	r.log.Info("route started", logger.String("from", r.def.From))
	return nil
}

func (r *Route) startLocked(ctx context.Context, eps Endpoints) error {
	in, err := r.acquireLocked(ctx, eps, r.def.From)
	if err != nil {
		return err
	}
	ce, ok := in.(endpoint.ConsumerEndpoint)
	if !ok {
		return fmt.Errorf("%w: route %s: %s", ErrNotConsumer, r.def.ID, in.URI())
	}

	producers := make([]endpoint.Producer, 0, len(r.def.To))
	for _, uri := range r.def.To {
		p, err := r.startProducer(ctx, eps, uri)
		if err != nil {
			stopProducers(ctx, producers)
			return err
		}
		producers = append(producers, p)
	}

	pipeline := slices.Clone(producers)
	runCtx, cancelRun := context.WithCancel(context.Background())
	consumer, err := ce.CreateConsumer(message.ProcessorFunc(func(ctx context.Context, msg *message.Message) error {
		return r.process(ctx, runCtx, pipeline, msg)
	}))
	if err != nil {
		cancelRun()
		stopProducers(ctx, producers)
		return &endpoint.ConstructionError{URI: in.URI(), Err: err}
	}
	if err := consumer.Start(ctx); err != nil {
		cancelRun()
		stopProducers(ctx, producers)
		return &endpoint.ConstructionError{URI: in.URI(), Err: err}
	}

	r.cancelRun = cancelRun
	r.consumer = consumer
	r.producers = producers
	r.degraded = false
	return nil
}

func (r *Route) startProducer(ctx context.Context, eps Endpoints, uri string) (endpoint.Producer, error) {
	ep, err := r.acquireLocked(ctx, eps, uri)
	if err != nil {
		return nil, err
	}
	pe, ok := ep.(endpoint.ProducerEndpoint)
	if !ok {
		return nil, fmt.Errorf("%w: route %s: %s", ErrNotProducer, r.def.ID, ep.URI())
	}
	p, err := pe.CreateProducer()
	if err != nil {
		return nil, &endpoint.ConstructionError{URI: ep.URI(), Err: err}
	}
	if err := p.Start(ctx); err != nil {
		return nil, &endpoint.ConstructionError{URI: ep.URI(), Err: err}
	}
	return p, nil
}

func (r *Route) acquireLocked(ctx context.Context, eps Endpoints, uri string) (endpoint.Endpoint, error) {
	ep, err := eps.Acquire(ctx, uri, r.def.ID)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", r.def.ID, err)
	}
	if key := ep.URI(); !slices.Contains(r.refs, key) {
		r.refs = append(r.refs, key)
	}
	return ep, nil
}

// process runs msg through the pipeline. Its context is also cancelled when
// the run it belongs to is completed, so work that outlived a drain stops.
func (r *Route) process(ctx, runCtx context.Context, pipeline []endpoint.Producer, msg *message.Message) error {
	if runCtx.Err() != nil {
		return fmt.Errorf("%w: route %s is not running", ErrInvalidRouteState, r.def.ID)
	}
	done := r.inflight.Begin()
	defer done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(runCtx, cancel)()

	msg.SetHeader(message.HeaderRouteID, r.def.ID)
	for i, p := range pipeline {
		if err := p.Process(ctx, msg); err != nil {
			return fmt.Errorf("route %s: step %d (%s): %w", r.def.ID, i, r.def.To[i], err)
		}
	}
	return nil
}

// Quiesce stops the route input so no new work enters. With suspend set, a
// suspendable input is paused instead; any other input is stopped and the
// route ends Stopped once completed.
func (r *Route) Quiesce(ctx context.Context, suspend bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if suspend {
		if err := r.setStateLocked(Suspending); err != nil {
			return err
		}
		if s, ok := r.consumer.(endpoint.Suspendable); ok {
			err := s.Suspend(ctx)
			if err == nil {
				return nil
			}
			r.log.Warn("route input failed to suspend, stopping instead", logger.Error(err))
		} else {
			r.log.Debug("route input not suspendable, stopping instead")
		}
		r.degraded = true
	}

	if err := r.setStateLocked(Stopping); err != nil {
		return err
	}
	if r.consumer == nil {
		return nil
	}
	if err := r.consumer.Stop(ctx); err != nil {
		return fmt.Errorf("stop route %s input: %w", r.def.ID, err)
	}
	return nil
}

// Complete finishes a Quiesce: a suspending route becomes Suspended, a
// stopping route cancels the work still in flight, stops its steps and
// becomes Stopped.
func (r *Route) Complete(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.State() {
	case Suspending:
		r.state.Store(int32(Suspended))
		r.log.Info("route suspended")
		return nil
	case Stopping:
		if r.cancelRun != nil {
			r.cancelRun()
			r.cancelRun = nil
		}
		err := stopProducers(ctx, r.producers)
		r.consumer = nil
		r.producers = nil
		r.startedAt.Store(0)
		r.state.Store(int32(Stopped))
		r.log.Info("route stopped")
		return err
	default:
		return fmt.Errorf("%w: route %s: complete from %s", ErrInvalidRouteState, r.def.ID, r.State())
	}
}

// Degraded reports whether the last suspend fell back to a stop.
func (r *Route) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// Stop stops the route without waiting for in-flight work.
func (r *Route) Stop(ctx context.Context) error {
	qErr := r.Quiesce(ctx, false)
	if qErr != nil && r.State() != Stopping {
		return qErr
	}
	return multierr.Append(qErr, r.Complete(ctx))
}

// Suspend pauses the route without waiting for in-flight work.
func (r *Route) Suspend(ctx context.Context) error {
	qErr := r.Quiesce(ctx, true)
	if qErr != nil && r.State() != Suspending && r.State() != Stopping {
		return qErr
	}
	return multierr.Append(qErr, r.Complete(ctx))
}

// Resume continues a suspended route. A route whose suspend degraded to a
// stop is started again.
func (r *Route) Resume(ctx context.Context, eps Endpoints) error {
	r.mu.Lock()
	if r.State() == Stopped && r.degraded {
		r.mu.Unlock()
		return r.Start(ctx, eps)
	}
	defer r.mu.Unlock()

	if err := r.setStateLocked(Resuming); err != nil {
		return err
	}
	if s, ok := r.consumer.(endpoint.Suspendable); ok {
		if err := s.Resume(ctx); err != nil {
			r.state.Store(int32(Suspended))
			return fmt.Errorf("resume route %s input: %w", r.def.ID, err)
		}
	}
	r.state.Store(int32(Started))
	r.log.Info("route resumed")
	return nil
}

// release drops the route's endpoint references and returns the URIs no
// route references anymore.
func (r *Route) release(eps Endpoints) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var orphans []string
	for _, uri := range r.refs {
		if eps.Release(uri, r.def.ID) {
			orphans = append(orphans, uri)
		}
	}
	r.refs = nil
	return orphans
}

func stopProducers(ctx context.Context, producers []endpoint.Producer) error {
	var errs error
	for i := len(producers) - 1; i >= 0; i-- {
		if err := producers[i].Stop(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
