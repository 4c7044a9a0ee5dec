package api

import (
	"net/http"
	"time"

	"github.com/confidentio/tdxid/pkg/metrics"
)

// healthResponse mirrors the teacher's liveness-check shape
// (pkg/api/health.go), trimmed to what this service needs.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// mountOps registers the ambient /health, /ready, and /metrics endpoints
// common to both services, per the teacher's health-check idiom.
func mountOps(mux *http.ServeMux, ready func() (bool, string)) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now()})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ok, reason := ready()
		status := http.StatusOK
		state := "ready"
		if !ok {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		writeJSON(w, status, struct {
			Status string `json:"status"`
			Reason string `json:"reason,omitempty"`
		}{Status: state, Reason: reason})
	})

	mux.Handle("/metrics", metrics.Handler())
}
