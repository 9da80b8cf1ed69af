package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/relay/internal/engine"
	"github.com/MrSnakeDoc/relay/internal/management/deps"
)

type healthzResponse struct {
	Status        string        `json:"status"`
	Context       engine.Status `json:"context"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Version       string        `json:"version,omitempty"`
	Commit        string        `json:"commit,omitempty"`
	BuildDate     string        `json:"build_date,omitempty"`
	GoVersion     string        `json:"go_version,omitempty"`
}

// Healthz reports the process as alive whatever the context status.
func Healthz(d deps.Deps) http.HandlerFunc {
	start := d.StartTime
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthzResponse{
			Status:        "ok",
			Context:       d.Context.Status(),
			Version:       d.Version,
			Commit:        d.Commit,
			BuildDate:     d.BuildDate,
			GoVersion:     d.GoVersion,
			UptimeSeconds: d.Now().Sub(start).Seconds(),
		})
	}
}
