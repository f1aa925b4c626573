package httpapi

import (
	"net/http"

	"collection-viewer/internal/collectionindex"
	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/models"
	"collection-viewer/internal/thumbnail"
)

// ListCollections serves one page of an ordering, optionally scoped to a
// library or a collection type.
func (h *Handlers) ListCollections(w http.ResponseWriter, r *http.Request) {
	field, dir, err := sortParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, size := pageParams(r)

	library := r.URL.Query().Get("library")
	typeFilter := r.URL.Query().Get("type")
	if library != "" && typeFilter != "" {
		writeError(w, errs.Validationf("library and type filters are mutually exclusive"))
		return
	}

	var result *collectionindex.Page
	switch {
	case library != "":
		result, err = h.engine.GetLibraryPage(r.Context(), library, page, size, field, dir)
	case typeFilter != "":
		t := models.CollectionType(typeFilter)
		if t != models.TypeFolder && t != models.TypeArchive {
			writeError(w, errs.Validationf("unknown collection type %q", typeFilter))
			return
		}
		result, err = h.engine.GetTypePage(r.Context(), t, page, size, field, dir)
	default:
		result, err = h.engine.GetPage(r.Context(), page, size, field, dir)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result)
}

// SearchCollections serves a name/description/tag search. An empty query
// falls back to the primary ordering.
func (h *Handlers) SearchCollections(w http.ResponseWriter, r *http.Request) {
	field, dir, err := sortParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, size := pageParams(r)

	result, err := h.engine.SearchPage(r.Context(), r.URL.Query().Get("q"), page, size, field, dir)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result)
}

// GetCollection serves the full collection document and bumps its view
// count. The bump is best effort; a failed counter never blocks the read.
func (h *Handlers) GetCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := h.collections.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if c.IsDeleted {
		writeError(w, errs.NotFoundf("collection %s not found", id.Hex()))
		return
	}

	if err := h.collections.IncrementViews(r.Context(), id); err != nil {
		logging.Warn("View count bump for %s failed: %v", id.Hex(), err)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, c)
}

// GetNavigation serves the previous/next neighbors of a collection in the
// requested ordering.
func (h *Handlers) GetNavigation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	field, dir, err := sortParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	nav, err := h.engine.GetNavigation(r.Context(), id.Hex(), field, dir)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, nav)
}

// GetSiblings serves the ordering page around a collection.
func (h *Handlers) GetSiblings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	field, dir, err := sortParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, size := pageParams(r)

	siblings, err := h.engine.GetSiblings(r.Context(), id.Hex(), page, size, field, dir)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, siblings)
}

// GetThumbnail serves the cached cover thumbnail as a data URL string, or
// 404 when no blob is cached.
func (h *Handlers) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	raw, err := h.engine.CachedThumbnail(r.Context(), id.Hex())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, thumbnail.InlineBytes(raw))
}

// ScanCollection enqueues a scan job for the collection and announces it on
// the bus.
func (h *Handlers) ScanCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := h.collections.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if c.IsDeleted {
		writeError(w, errs.NotFoundf("collection %s not found", id.Hex()))
		return
	}

	job := &models.BackgroundJob{
		JobType:      models.JobScanCollection,
		CollectionID: &id,
	}
	jobID, err := h.runner.Enqueue(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{
		"jobId":  jobID.Hex(),
		"status": string(models.JobPending),
	})
}
