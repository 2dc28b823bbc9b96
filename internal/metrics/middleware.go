package metrics

import (
	"net/http"
	"strings"
	"time"
)

// statusWriter captures the status code a handler wrote, defaulting to 200
// when the handler never calls WriteHeader explicitly.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// routeLabel folds a request path onto the fixed route set so the path
// label stays bounded. Provider names in breaker control routes are
// collapsed into one label; anything unrecognized becomes "other".
func routeLabel(path string) string {
	switch path {
	case "/api/health", "/api/fetch", "/api/cache", "/api/cache/status", "/metrics":
		return path
	}
	if strings.HasPrefix(path, "/api/breakers/") {
		return "/api/breakers/{provider}/close"
	}
	return "other"
}

// HTTPMiddleware records count, duration and in-flight gauge for every
// request into the fetch service. A nil registry records nothing.
func HTTPMiddleware(reg *Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reg.InFlightInc()
			defer reg.InFlightDec()

			start := time.Now()

			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			reg.RecordRequest(r.Method, routeLabel(r.URL.Path), sw.statusCode, time.Since(start).Seconds())
		})
	}
}
