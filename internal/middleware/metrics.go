package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RequestRecorder receives one observation per served request.
type RequestRecorder interface {
	ObserveRequest(method, route string, status int)
}

// Metrics reports every request to rec, labelled with the chi route pattern
// so unmatched paths collapse into a single series.
func Metrics(rec RequestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := wrap(w)
			next.ServeHTTP(rw, r)
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			rec.ObserveRequest(r.Method, route, rw.status)
		})
	}
}
