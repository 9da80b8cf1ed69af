package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/relay/internal/management/deps"
)

func Endpoints(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Context.EndpointSnapshot())
	}
}

func Services(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Context.Services())
	}
}

// ShutdownReport returns the last drain report, or 204 before any.
func ShutdownReport(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := d.Context.LastShutdownReport()
		if report == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
