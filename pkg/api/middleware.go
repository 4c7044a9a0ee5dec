package api

import (
	"net/http"
	"strconv"

	"github.com/confidentio/tdxid/pkg/metrics"
)

// instrument wraps handler with the request-count and latency metrics
// teacher pkg/api/health.go mounts /metrics alongside - one observation
// per request, labeled by the route name rather than the raw path so
// cardinality stays bounded.
func instrument(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := metrics.NewTimer()
		handler(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
