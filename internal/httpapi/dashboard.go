package httpapi

import (
	"net/http"
	"strconv"

	"collection-viewer/internal/errs"
)

// defaultActivityLimit caps the activity feed when the client does not ask
// for a specific length.
const defaultActivityLimit = 20

// GetDashboard serves the cached dashboard statistics, computing a fresh
// snapshot when the cache has expired or was never built.
func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Dashboard(r.Context())
	if errs.IsNotFound(err) {
		stats, err = h.engine.ComputeAndStoreDashboard(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, stats)
}

// GetActivity serves the recent activity feed, newest first.
func (h *Handlers) GetActivity(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultActivityLimit)
	if v, err := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64); err == nil && v > 0 {
		limit = v
	}

	entries, err := h.engine.RecentActivity(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"activity": entries,
		"count":    len(entries),
	})
}
