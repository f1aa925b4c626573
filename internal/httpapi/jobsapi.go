package httpapi

import (
	"net/http"
	"strconv"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/models"
)

// defaultJobListLimit caps a job listing when the client does not ask for
// a specific size.
const defaultJobListLimit = 50

// createJobRequest is the POST /api/jobs body.
type createJobRequest struct {
	Type         string            `json:"type"`
	CollectionID string            `json:"collectionId,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
}

// jobAccepted is the body returned when a job has been queued.
type jobAccepted struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// CreateJob queues an arbitrary background job and announces it on the bus.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	jobType := models.JobType(req.Type)
	if !models.ValidJobType(jobType) {
		writeError(w, errs.Validationf("unknown job type %q", req.Type))
		return
	}

	job := &models.BackgroundJob{
		JobType:    jobType,
		Parameters: req.Parameters,
	}
	if req.CollectionID != "" {
		id, err := primitive.ObjectIDFromHex(req.CollectionID)
		if err != nil {
			writeError(w, errs.Validationf("invalid collection id %q", req.CollectionID))
			return
		}
		job.CollectionID = &id
	}

	jobID, err := h.runner.Enqueue(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, jobAccepted{JobID: jobID.Hex(), Status: string(models.JobPending)})
}

// ListJobs serves recent jobs, newest first, optionally filtered by status.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.JobPending, models.JobRunning, models.JobCompleted,
		models.JobFailed, models.JobCancelled:
	default:
		writeError(w, errs.Validationf("unknown job status %q", status))
		return
	}

	limit := int64(defaultJobListLimit)
	if v, err := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64); err == nil && v > 0 {
		limit = v
	}

	list, err := h.queue.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJob serves one job record.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := h.queue.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, job)
}

// CancelJob cancels a pending job. Jobs that have already been claimed or
// finished report not found, matching the store's pending-only guard.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.queue.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, jobAccepted{JobID: id.Hex(), Status: string(models.JobCancelled)})
}
