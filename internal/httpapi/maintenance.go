package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"collection-viewer/internal/collectionindex"
	"collection-viewer/internal/models"
)

// rebuildRequest is the POST /api/index/rebuild body.
type rebuildRequest struct {
	Mode           string `json:"mode,omitempty"`
	DryRun         bool   `json:"dryRun,omitempty"`
	SkipThumbnails bool   `json:"skipThumbnails,omitempty"`
}

// verifyRequest is the POST /api/index/verify body.
type verifyRequest struct {
	DryRun bool `json:"dryRun,omitempty"`
}

// RebuildIndex starts an index rebuild in the background and returns the
// job that tracks it. The job is claimed here rather than announced on the
// bus so the rebuild starts immediately in this process and never competes
// with a second rebuild picked up by another consumer.
func (h *Handlers) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	mode, err := collectionindex.ParseRebuildMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}

	job := &models.BackgroundJob{
		JobType: models.JobRebuildIndex,
		Parameters: map[string]string{
			"mode":           string(mode),
			"dryRun":         strconv.FormatBool(req.DryRun),
			"skipThumbnails": strconv.FormatBool(req.SkipThumbnails),
		},
	}
	jobID, err := h.queue.Create(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}

	claimed, err := h.queue.ClaimByID(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	go h.runner.Execute(context.Background(), claimed)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, jobAccepted{JobID: jobID.Hex(), Status: string(models.JobRunning)})
}

// VerifyIndex runs a consistency check between the document store and the
// index and reports the differences. Verification only reads, so it runs
// inline and returns the full report.
func (h *Handlers) VerifyIndex(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.engine.VerifyIndex(r.Context(), req.DryRun)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result)
}
