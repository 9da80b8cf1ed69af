package redis

import (
	"time"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/engine"
	"github.com/MrSnakeDoc/relay/internal/route"
	"github.com/MrSnakeDoc/relay/internal/service"
	"github.com/MrSnakeDoc/relay/internal/shutdown"
)

// Snapshot is the published introspection state of one context.
type Snapshot struct {
	Context        engine.Info          `json:"context"`
	Routes         []route.Info         `json:"routes"`
	Endpoints      []endpoint.Info      `json:"endpoints"`
	Services       []service.Info       `json:"services"`
	StartupOrder   []route.StartupEntry `json:"startup_order"`
	ShutdownReport *shutdown.Report     `json:"shutdown_report,omitempty"`
	TakenAt        time.Time            `json:"taken_at"`
}

// Name returns the management name the snapshot is published under.
func (s *Snapshot) Name() string {
	return s.Context.ManagementName
}

// Capture reads the current state of e.
func Capture(e *engine.Engine) *Snapshot {
	return &Snapshot{
		Context:        e.Info(),
		Routes:         e.Routes(),
		Endpoints:      e.EndpointSnapshot(),
		Services:       e.Services(),
		StartupOrder:   e.RouteStartupOrder(),
		ShutdownReport: e.LastShutdownReport(),
		TakenAt:        time.Now().UTC(),
	}
}
