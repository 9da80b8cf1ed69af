// Package metrics exports engine, endpoint cache and shutdown activity to
// Prometheus. A Collector satisfies the observer interfaces of those
// packages; attach it with Options.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/engine"
	"github.com/MrSnakeDoc/relay/internal/shutdown"
)

const namespace = "relay"

var statuses = []engine.Status{
	engine.Stopped,
	engine.Starting,
	engine.Started,
	engine.Suspending,
	engine.Suspended,
	engine.Resuming,
	engine.Stopping,
	engine.VetoStarted,
}

// Collector holds the relay metrics. Calls on a nil *Collector are no-ops.
type Collector struct {
	status      *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	cacheHits   *prometheus.CounterVec
	cacheMisses prometheus.Counter
	evictions   prometheus.Counter
	endpoints   *prometheus.GaugeVec
	drained     *prometheus.CounterVec
	drainWait   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered. Collectors already registered are reused, so several
// engines in one process share the same series.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "status",
			Help:      "Current lifecycle status of a context (1 for the active status)",
		}, []string{"context", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "transitions_total",
			Help:      "Lifecycle status changes by target status",
		}, []string{"context", "status"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoints",
			Name:      "cache_hits_total",
			Help:      "Endpoint lookups served from the cache, by tier",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoints",
			Name:      "cache_misses_total",
			Help:      "Endpoint lookups that created a new endpoint",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoints",
			Name:      "evictions_total",
			Help:      "Dynamic endpoints evicted from the cache",
		}),
		endpoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "endpoints",
			Name:      "cached",
			Help:      "Cached endpoints by tier",
		}, []string{"tier"}),
		drained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "routes_drained_total",
			Help:      "Routes drained by the shutdown coordinator",
		}, []string{"mode", "forced"}),
		drainWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "drain_wait_seconds",
			Help:      "Time spent waiting for a route's in-flight work",
			Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 15, 45, 120, 300},
		}, []string{"mode"}),
	}

	if reg != nil {
		c.status = registerOrReuse(reg, c.status).(*prometheus.GaugeVec)
		c.transitions = registerOrReuse(reg, c.transitions).(*prometheus.CounterVec)
		c.cacheHits = registerOrReuse(reg, c.cacheHits).(*prometheus.CounterVec)
		c.cacheMisses = registerOrReuse(reg, c.cacheMisses).(prometheus.Counter)
		c.evictions = registerOrReuse(reg, c.evictions).(prometheus.Counter)
		c.endpoints = registerOrReuse(reg, c.endpoints).(*prometheus.GaugeVec)
		c.drained = registerOrReuse(reg, c.drained).(*prometheus.CounterVec)
		c.drainWait = registerOrReuse(reg, c.drainWait).(*prometheus.HistogramVec)
	}
	return c
}

func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// Options attaches c to an engine.
func (c *Collector) Options() []engine.Option {
	if c == nil {
		return nil
	}
	return []engine.Option{
		engine.WithObserver(c),
		engine.WithEndpointObserver(c),
		engine.WithShutdownObserver(c),
	}
}

func (c *Collector) StatusChanged(name string, status engine.Status) {
	if c == nil {
		return
	}
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		c.status.WithLabelValues(name, label(s)).Set(v)
	}
	c.transitions.WithLabelValues(name, label(status)).Inc()
}

func label(s engine.Status) string { return strings.ToLower(s.String()) }

func (c *Collector) CacheHit(tier string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(tier).Inc()
}

func (c *Collector) CacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

func (c *Collector) Evicted() {
	if c == nil {
		return
	}
	c.evictions.Inc()
}

func (c *Collector) Sizes(static, dynamic int) {
	if c == nil {
		return
	}
	c.endpoints.WithLabelValues(endpoint.TierStatic).Set(float64(static))
	c.endpoints.WithLabelValues(endpoint.TierDynamic).Set(float64(dynamic))
}

func (c *Collector) RouteDrained(mode shutdown.Mode, forced bool, waited time.Duration) {
	if c == nil {
		return
	}
	c.drained.WithLabelValues(mode.String(), strconv.FormatBool(forced)).Inc()
	c.drainWait.WithLabelValues(mode.String()).Observe(waited.Seconds())
}

var (
	_ engine.Observer   = (*Collector)(nil)
	_ endpoint.Observer = (*Collector)(nil)
	_ shutdown.Observer = (*Collector)(nil)
)
