package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/relay/internal/management/deps"
)

func Routes(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Context.Routes())
	}
}

func Route(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		info, ok := d.Context.Route(id)
		if !ok {
			writeError(w, http.StatusNotFound, "route "+id+" not found")
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// StartupOrder lists started routes in the order they came up.
func StartupOrder(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Context.RouteStartupOrder())
	}
}
