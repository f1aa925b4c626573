package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"collection-viewer/internal/models"
	"collection-viewer/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	// Component reachability
	IndexStoreConnected bool  `json:"indexStoreConnected"`
	DocStoreConnected   bool  `json:"docStoreConnected"`
	BrokerConnected     bool  `json:"brokerConnected"`
	PendingJobs         int64 `json:"pendingJobs"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// probe runs the component health probe. A handler wired without one
// reports everything down, which keeps the endpoints honest during early
// startup.
func (h *Handlers) probe(r *http.Request) models.SystemHealth {
	if h.health == nil {
		return models.SystemHealth{}
	}
	return h.health(r.Context())
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.probe(r)

	// The API can serve reads without the broker; job announcements queue
	// up against it, so a down broker degrades rather than fails.
	ready := health.IndexStoreConnected && health.DocStoreConnected

	response := HealthResponse{
		Ready:               ready,
		Version:             startup.Version,
		Uptime:              time.Since(h.startedAt).Round(time.Second).String(),
		IndexStoreConnected: health.IndexStoreConnected,
		DocStoreConnected:   health.DocStoreConnected,
		BrokerConnected:     health.BrokerConnected,
		PendingJobs:         health.PendingJobs,
		GoVersion:           runtime.Version(),
		NumCPU:              runtime.NumCPU(),
		NumGoroutine:        runtime.NumGoroutine(),
	}

	switch {
	case !ready:
		response.Status = statusStarting
	case !health.BrokerConnected:
		response.Status = statusDegraded
	default:
		response.Status = statusHealthy
	}

	w.Header().Set("Content-Type", "application/json")

	// Return 503 only if not ready at all
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	writeJSON(w, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when the service is ready to accept traffic
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := h.probe(r)

	w.Header().Set("Content-Type", "application/json")
	if health.IndexStoreConnected && health.DocStoreConnected {
		w.WriteHeader(http.StatusOK)
		writeJSON(w, map[string]string{
			"status": "ready",
		})
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]string{
			"status": "not_ready",
		})
	}
}

// GetVersion returns the application version and build information
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	buildInfo := startup.GetBuildInfo()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, buildInfo)
}
