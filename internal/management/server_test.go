package management

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/relay/internal/component"
	"github.com/MrSnakeDoc/relay/internal/engine"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/management/deps"
	"github.com/MrSnakeDoc/relay/internal/metrics"
	"github.com/MrSnakeDoc/relay/internal/route"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newEngine(t *testing.T, reg *prometheus.Registry) *engine.Engine {
	t.Helper()
	var opts []engine.Option
	if reg != nil {
		opts = metrics.New(reg).Options()
	}
	e := engine.New("mgmt", append(opts, engine.WithVersion("1.2.3"))...)
	require.NoError(t, component.RegisterDefaults(e, nil))
	require.NoError(t, e.AddRouteDefinitions(context.Background(),
		&route.Definition{ID: "tick", From: "timer:t?period=1h", To: []string{"direct:in"}},
		&route.Definition{ID: "sink", From: "direct:in", To: []string{"log:out"}},
	))
	return e
}

func newDeps(e *engine.Engine) deps.Deps {
	return deps.Deps{
		Logger:    logger.NewNop(),
		StartTime: time.Unix(0, 0),
		TimeNow:   func() time.Time { return time.Unix(90, 0) },
		Version:   "1.2.3",
		Context:   e,
	}
}

func get(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w
}

func TestHealthAndReadiness(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	h := NewRouter(newDeps(e))

	var health map[string]any
	w := get(t, h, "/healthz", &health)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "Stopped", health["context"])
	assert.Equal(t, 90.0, health["uptime_seconds"])

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz", nil).Code)

	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop(ctx) })

	var ready map[string]any
	w = get(t, h, "/readyz", &ready)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, ready["ready"])
	assert.Equal(t, "Started", ready["status"])
}

func TestRouteEndpoints(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop(ctx) })
	h := NewRouter(newDeps(e))

	var routes []route.Info
	require.Equal(t, http.StatusOK, get(t, h, "/api/routes", &routes).Code)
	require.Len(t, routes, 2)

	var one route.Info
	require.Equal(t, http.StatusOK, get(t, h, "/api/routes/sink", &one).Code)
	assert.Equal(t, "direct:in", one.From)
	assert.Equal(t, route.Started, one.State)

	w := get(t, h, "/api/routes/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "missing")

	var order []route.StartupEntry
	require.Equal(t, http.StatusOK, get(t, h, "/api/startup-order", &order).Code)
	require.Len(t, order, 2)
	assert.Equal(t, "tick", order[0].RouteID)

	var endpoints []map[string]any
	require.Equal(t, http.StatusOK, get(t, h, "/api/endpoints", &endpoints).Code)
	assert.Len(t, endpoints, 3)
}

func TestContextEndpoint(t *testing.T) {
	e := newEngine(t, nil)

	d := newDeps(e)
	d.SnapshotStore = pinger{err: errors.New("connection refused")}

	var body struct {
		Name         string                     `json:"name"`
		Version      string                     `json:"version"`
		Routes       int                        `json:"routes"`
		Dependencies map[string]componentStatus `json:"dependencies"`
	}
	require.Equal(t, http.StatusOK, get(t, NewRouter(d), "/api/context", &body).Code)
	assert.Equal(t, "mgmt", body.Name)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, 2, body.Routes)
	assert.False(t, body.Dependencies["snapshot_store"].OK)
	assert.Equal(t, "connection refused", body.Dependencies["snapshot_store"].Error)
	assert.False(t, body.Dependencies["routes"].OK)

	d.SnapshotStore = nil
	require.Equal(t, http.StatusOK, get(t, NewRouter(d), "/api/context", &body).Code)
	assert.Equal(t, "disabled", body.Dependencies["snapshot_store"].Mode)
}

type componentStatus struct {
	OK    bool   `json:"ok"`
	Mode  string `json:"mode"`
	Error string `json:"error"`
}

func TestShutdownReportEndpoint(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	h := NewRouter(newDeps(e))

	assert.Equal(t, http.StatusNoContent, get(t, h, "/api/shutdown-report", nil).Code)

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Stop(ctx))

	var report map[string]any
	require.Equal(t, http.StatusOK, get(t, h, "/api/shutdown-report", &report).Code)
	assert.Equal(t, "stop", report["mode"])
	assert.Len(t, report["results"], 2)
}

func TestServicesEndpoint(t *testing.T) {
	e := newEngine(t, nil)
	var services []map[string]any
	require.Equal(t, http.StatusOK, get(t, NewRouter(newDeps(e)), "/api/services", &services).Code)
	assert.Empty(t, services)
}

func TestMetricsEndpoint(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	e := newEngine(t, reg)
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop(ctx) })

	d := newDeps(e)
	assert.Equal(t, http.StatusNotFound, get(t, NewRouter(d), "/metrics", nil).Code)

	d.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	w := get(t, NewRouter(d), "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `relay_context_status{context="mgmt",status="started"} 1`)
}

func TestAccessControl(t *testing.T) {
	e := newEngine(t, nil)
	d := newDeps(e)
	d.AllowedCIDRS = []string{"192.168.0.0/16"}
	d.AllowedHosts = []string{"relay.local"}
	h := NewRouter(d)

	r := httptest.NewRequest(http.MethodGet, "/api/routes", nil)
	r.Host = "relay.local"
	r.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code, "address outside allowed cidrs")

	r = httptest.NewRequest(http.MethodGet, "/api/routes", nil)
	r.Host = "relay.local:8080"
	r.RemoteAddr = "192.168.1.5:1234"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Host = "other.local"
	r.RemoteAddr = "192.168.1.5:1234"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code, "host not allowed")
}

func TestOnlyGetIsServed(t *testing.T) {
	h := NewRouter(newDeps(newEngine(t, nil)))
	r := httptest.NewRequest(http.MethodPost, "/api/routes", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
