package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/relay/internal/engine"
	"github.com/MrSnakeDoc/relay/internal/management/deps"
)

type componentStatus struct {
	OK    bool   `json:"ok"`
	Mode  string `json:"mode,omitempty"`
	Error string `json:"error,omitempty"`
}

type contextResponse struct {
	engine.Info
	Dependencies map[string]componentStatus `json:"dependencies"`
}

// Context describes the context and the health of what it depends on.
func Context(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, contextResponse{
			Info: d.Context.Info(),
			Dependencies: map[string]componentStatus{
				"routes":         routesStatus(d),
				"snapshot_store": checkSnapshotStore(r.Context(), d),
			},
		})
	}
}

func routesStatus(d deps.Deps) componentStatus {
	if d.Context.Status() == engine.Started {
		return componentStatus{OK: true, Mode: "running"}
	}
	return componentStatus{OK: false, Mode: d.Context.Status().String()}
}

func checkSnapshotStore(parent context.Context, d deps.Deps) componentStatus {
	if d.SnapshotStore == nil {
		return componentStatus{OK: true, Mode: "disabled"}
	}

	ctx, cancel := context.WithTimeout(parent, time.Second)
	defer cancel()

	if err := d.SnapshotStore.Ping(ctx); err != nil {
		return componentStatus{OK: false, Mode: "degraded", Error: err.Error()}
	}
	return componentStatus{OK: true, Mode: "publishing"}
}
