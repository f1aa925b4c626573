package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"collection-viewer/internal/middleware"
)

// RouterOptions tunes the middleware wrapped around the route table.
type RouterOptions struct {
	LogHealthChecks bool
	MetricsEnabled  bool
}

// Routes builds the route table without middleware. Exposed so startup can
// walk and log the registered routes.
func (h *Handlers) Routes() *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes (no auth required)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/login", h.Login).Methods("POST")
	auth.HandleFunc("/refresh", h.Refresh).Methods("POST")
	auth.HandleFunc("/logout", h.Logout).Methods("POST")

	// Protected API routes. The search route registers ahead of {id} so
	// "search" never parses as a collection id.
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/collections", h.ListCollections).Methods("GET")
	api.HandleFunc("/collections/search", h.SearchCollections).Methods("GET")
	api.HandleFunc("/collections/{id}", h.GetCollection).Methods("GET")
	api.HandleFunc("/collections/{id}/navigation", h.GetNavigation).Methods("GET")
	api.HandleFunc("/collections/{id}/siblings", h.GetSiblings).Methods("GET")
	api.HandleFunc("/collections/{id}/thumbnail", h.GetThumbnail).Methods("GET")
	api.HandleFunc("/collections/{id}/scan", h.ScanCollection).Methods("POST")

	// Background jobs
	api.HandleFunc("/jobs", h.CreateJob).Methods("POST")
	api.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/cancel", h.CancelJob).Methods("POST")

	// Index maintenance
	api.HandleFunc("/index/rebuild", h.RebuildIndex).Methods("POST")
	api.HandleFunc("/index/verify", h.VerifyIndex).Methods("POST")

	// Dashboard
	api.HandleFunc("/dashboard", h.GetDashboard).Methods("GET")
	api.HandleFunc("/dashboard/activity", h.GetActivity).Methods("GET")

	return r
}

// NewRouter wraps the route table in the middleware chain. From the
// outside in: recovery, request logging, metrics, compression, then auth,
// so a rejected request still gets logged and counted.
func (h *Handlers) NewRouter(opts RouterOptions) http.Handler {
	router := h.Routes()

	authConfig := middleware.AuthConfig{
		Validator:    h.issuer,
		Enabled:      h.AuthEnforced,
		SkipPrefixes: middleware.DefaultAuthSkipPrefixes(),
	}
	handler := middleware.Auth(authConfig)(router)

	handler = middleware.Compression(middleware.DefaultCompressionConfig())(handler)

	if opts.MetricsEnabled {
		handler = middleware.Metrics(middleware.DefaultMetricsConfig())(handler)
	}

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = opts.LogHealthChecks
	handler = middleware.Logger(loggingConfig)(handler)

	return middleware.Recovery()(handler)
}
