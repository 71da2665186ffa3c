package httphandler

import (
	"net/http"
)

// CreateJob validates the provider list and starts a fetch job. The job runs
// in the background; the response is the queued job.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	job, err := h.jobs.Create(r.Context(), ownerFrom(r.Context()), req.ProviderIDs)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create job", "providers", req.ProviderIDs)
		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(*job))
}

// ListJobs returns the caller's jobs, newest first.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list jobs")
		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, toJobResponse(j))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetJob returns one job with its per-provider results.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, err := h.jobs.Get(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get job", "job_id", id)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(*job))
}

// CancelJob requests cooperative cancellation. Cancelling a finished job
// returns it unchanged.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, err := h.jobs.Cancel(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to cancel job", "job_id", id)
		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(*job))
}
