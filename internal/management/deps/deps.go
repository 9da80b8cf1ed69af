package deps

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/engine"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/management/mw"
	"github.com/MrSnakeDoc/relay/internal/route"
	"github.com/MrSnakeDoc/relay/internal/service"
	"github.com/MrSnakeDoc/relay/internal/shutdown"
)

// Introspector is the read-only view of a context served over HTTP.
// *engine.Engine implements it.
type Introspector interface {
	Info() engine.Info
	Status() engine.Status
	Routes() []route.Info
	Route(id string) (route.Info, bool)
	RouteStartupOrder() []route.StartupEntry
	EndpointSnapshot() []endpoint.Info
	Services() []service.Info
	LastShutdownReport() *shutdown.Report
}

// Pinger checks an external dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger        logger.Logger
	StartTime     time.Time
	Version       string
	Commit        string
	BuildDate     string
	GoVersion     string
	TimeNow       func() time.Time   // for testing, defaults to time.Now
	Context       Introspector       // the context being served
	Metrics       http.Handler       // Prometheus handler, nil disables /metrics
	SnapshotStore Pinger             // Redis snapshot store, nil when publishing is off
	AllowedHosts  []string           // Host headers allowed to access the server
	AllowedCIDRS  []string           // IPs allowed to access the API
	TrustProxy    bool               // true if running behind a trusted reverse proxy
	RateLimit     mw.RateLimitConfig // per-client limit on /api, Burst 0 disables
}

// Now returns the current time through TimeNow.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
