package mw

import (
	"net/http"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/utils"
)

// EnforceHost allows requests only if the Host header matches one of the
// allowed patterns, with or without its port. Patterns are globs such as
// "*.example.com". An empty list does not filter.
func EnforceHost(allowedHosts []string, log logger.Logger) func(http.Handler) http.Handler {
	if len(allowedHosts) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if matchHost(r.Host, allowedHosts) {
				next.ServeHTTP(w, r)
				return
			}
			log.Debug("request rejected by host filter", logger.String("host", r.Host))
			w.WriteHeader(http.StatusForbidden)
		})
	}
}

func matchHost(host string, patterns []string) bool {
	bare := utils.ParseHostNoPort(host)
	for _, p := range patterns {
		for _, h := range []string{host, bare} {
			if ok, err := doublestar.Match(p, h); err == nil && ok {
				return true
			}
		}
	}
	return false
}
