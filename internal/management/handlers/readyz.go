package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/relay/internal/engine"
	"github.com/MrSnakeDoc/relay/internal/management/deps"
)

type readyzResponse struct {
	Ready  bool          `json:"ready"`
	Status engine.Status `json:"status"`
}

// Readyz is 200 only while the context is Started.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := d.Context.Status()
		ready := status == engine.Started
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, readyzResponse{Ready: ready, Status: status})
	}
}
