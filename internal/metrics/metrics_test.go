package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/relay/internal/component"
	"github.com/MrSnakeDoc/relay/internal/engine"
	"github.com/MrSnakeDoc/relay/internal/route"
	"github.com/MrSnakeDoc/relay/internal/shutdown"
)

// value returns the counter, gauge or histogram sample count of the series
// name{labels}. ok is false when the series does not exist.
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue(), true
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue(), true
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount()), true
			}
		}
	}
	return 0, false
}

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.StatusChanged("ctx", engine.Starting)
	c.StatusChanged("ctx", engine.Started)
	c.CacheHit("static")
	c.CacheHit("static")
	c.CacheMiss()
	c.Evicted()
	c.Sizes(2, 7)
	c.RouteDrained(shutdown.ModeStop, true, 100*time.Millisecond)
	c.RouteDrained(shutdown.ModeSuspend, false, time.Millisecond)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"relay_context_status", map[string]string{"context": "ctx", "status": "started"}, 1},
		{"relay_context_status", map[string]string{"context": "ctx", "status": "starting"}, 0},
		{"relay_context_transitions_total", map[string]string{"status": "started"}, 1},
		{"relay_endpoints_cache_hits_total", map[string]string{"tier": "static"}, 2},
		{"relay_endpoints_cache_misses_total", nil, 1},
		{"relay_endpoints_evictions_total", nil, 1},
		{"relay_endpoints_cached", map[string]string{"tier": "static"}, 2},
		{"relay_endpoints_cached", map[string]string{"tier": "dynamic"}, 7},
		{"relay_shutdown_routes_drained_total", map[string]string{"mode": "stop", "forced": "true"}, 1},
		{"relay_shutdown_routes_drained_total", map[string]string{"mode": "suspend", "forced": "false"}, 1},
		{"relay_shutdown_drain_wait_seconds", map[string]string{"mode": "stop"}, 1},
	}
	for _, tt := range tests {
		got, ok := value(t, reg, tt.name, tt.labels)
		require.True(t, ok, "%s%v missing", tt.name, tt.labels)
		assert.Equal(t, tt.want, got, "%s%v", tt.name, tt.labels)
	}
}

func TestCollectorReusesRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg)
	b := New(reg)

	a.CacheMiss()
	b.CacheMiss()

	got, ok := value(t, reg, "relay_endpoints_cache_misses_total", nil)
	require.True(t, ok)
	assert.Equal(t, 2.0, got)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.StatusChanged("x", engine.Started)
		c.CacheHit("static")
		c.CacheMiss()
		c.Evicted()
		c.Sizes(1, 1)
		c.RouteDrained(shutdown.ModeStop, false, 0)
	})
	assert.Nil(t, c.Options())
}

func TestCollectorObservesEngine(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	c := New(reg)

	e := engine.New("metrics", c.Options()...)
	require.NoError(t, component.RegisterDefaults(e, nil))
	require.NoError(t, e.AddRouteDefinitions(ctx, &route.Definition{
		ID:   "tick",
		From: "timer:t?period=1h",
		To:   []string{"log:out"},
	}))
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Stop(ctx))

	status, ok := value(t, reg, "relay_context_status", map[string]string{"context": "metrics", "status": "stopped"})
	require.True(t, ok)
	assert.Equal(t, 1.0, status)

	misses, ok := value(t, reg, "relay_endpoints_cache_misses_total", nil)
	require.True(t, ok)
	assert.Equal(t, 2.0, misses)

	drained, ok := value(t, reg, "relay_shutdown_routes_drained_total", map[string]string{"mode": "stop", "forced": "false"})
	require.True(t, ok)
	assert.Equal(t, 1.0, drained)
}
