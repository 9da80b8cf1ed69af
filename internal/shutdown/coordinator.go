package shutdown

import (
	"context"
	"slices"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/relay/internal/logger"
)

// Target is a route as seen by the coordinator.
type Target interface {
	ID() string
	DependsOn() []string
	InflightCount() int64
	// WaitIdle polls until nothing is in flight or timeout elapses and
	// reports whether the route drained.
	WaitIdle(ctx context.Context, timeout, poll time.Duration) bool
	// Quiesce stops (or suspends) the input so no new work enters.
	Quiesce(ctx context.Context, suspend bool) error
	// Complete stops the rest of the route once it drained or timed out.
	Complete(ctx context.Context) error
}

// Observer is notified once per drained route.
type Observer interface {
	RouteDrained(mode Mode, forced bool, waited time.Duration)
}

type noopObserver struct{}

func (noopObserver) RouteDrained(Mode, bool, time.Duration) {}

// Coordinator drains routes according to a Strategy.
type Coordinator struct {
	strategy Strategy
	log      logger.Logger
	observer Observer
}

// New creates a coordinator. Zero strategy fields take their defaults.
func New(strategy Strategy, log logger.Logger, observer Observer) *Coordinator {
	if log == nil {
		log = logger.NewNop()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Coordinator{
		strategy: strategy.withDefaults(),
		log:      log,
		observer: observer,
	}
}

// Strategy returns the effective strategy.
func (c *Coordinator) Strategy() Strategy { return c.strategy }

// Drain stops or suspends targets, which must be in shutdown order (reverse
// startup order). Each route's input is quiesced and its in-flight work is
// awaited, both within the per-route timeout or what is left of the global
// one. The route is then completed, forcibly if work remains. Up to Parallelism
// routes drain at once; a route waits for every earlier route that depends
// on it.
//
// Forced completions are reported as TimeoutErrors in the report and do not
// fail the drain. The returned error combines quiesce and completion failures.
func (c *Coordinator) Drain(ctx context.Context, mode Mode, targets []Target) (*Report, error) {
	start := time.Now()
	deadline := start.Add(c.strategy.GlobalTimeout)

	results := make([]Result, len(targets))
	timeouts := make([]error, len(targets))
	errs := make([]error, len(targets))
	done := make([]chan struct{}, len(targets))
	for i := range targets {
		done[i] = make(chan struct{})
	}

	c.log.Info("draining routes",
		logger.String("mode", mode.String()),
		logger.Int("routes", len(targets)),
		logger.Duration("timeout", c.strategy.Timeout),
		logger.Duration("global_timeout", c.strategy.GlobalTimeout))

	var g errgroup.Group
	g.SetLimit(c.strategy.Parallelism)
	for i, t := range targets {
		var dependents []chan struct{}
		for j := 0; j < i; j++ {
			if slices.Contains(targets[j].DependsOn(), t.ID()) {
				dependents = append(dependents, done[j])
			}
		}

		g.Go(func() error {
			defer close(done[i])
			for _, ch := range dependents {
				<-ch
			}
			results[i], timeouts[i], errs[i] = c.drainOne(ctx, mode, t, deadline)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		Mode:    mode,
		Started: start,
		Elapsed: time.Since(start),
		Results: results,
	}
	for _, te := range timeouts {
		if te != nil {
			report.Timeouts = append(report.Timeouts, te)
		}
	}

	c.log.Info("routes drained",
		logger.String("mode", mode.String()),
		logger.Duration("elapsed", report.Elapsed),
		logger.Int("forced", len(report.Timeouts)))
	return report, multierr.Combine(errs...)
}

func (c *Coordinator) drainOne(ctx context.Context, mode Mode, t Target, deadline time.Time) (Result, error, error) {
	log := c.log.With(logger.String("route_id", t.ID()))
	res := Result{RouteID: t.ID()}

	began := time.Now()
	until, global := began.Add(c.strategy.Timeout), false
	if deadline.Before(until) {
		until, global = deadline, true
	}

	// quiescing counts against the route's budget
	var errs error
	qctx, cancel := context.WithDeadline(ctx, until)
	err := t.Quiesce(qctx, mode == ModeSuspend)
	cancel()
	if err != nil {
		log.Warn("failed to quiesce route input", logger.Error(err))
		errs = multierr.Append(errs, err)
	}

	wait := time.Until(until)
	drained := t.WaitIdle(ctx, wait, c.strategy.PollInterval)
	res.Waited = time.Since(began)

	var timeout error
	if !drained {
		res.Forced = true
		res.Inflight = t.InflightCount()
		timeout = &TimeoutError{
			RouteID:  t.ID(),
			Inflight: res.Inflight,
			Waited:   res.Waited,
			Global:   global,
		}
		fields := []logger.Field{
			logger.Int64("inflight", res.Inflight),
			logger.Duration("waited", res.Waited),
			logger.Bool("global", global),
		}
		if c.strategy.SuppressLoggingOnTimeout {
			log.Debug("forcing route shutdown", fields...)
		} else {
			log.Warn("forcing route shutdown", fields...)
		}
	}

	if err := t.Complete(ctx); err != nil {
		log.Warn("failed to complete route shutdown", logger.Error(err))
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		res.Error = errs.Error()
	}

	c.observer.RouteDrained(mode, res.Forced, res.Waited)
	return res, timeout, errs
}
