package httphandler

import (
	"net/http"

	"github.com/ericfisherdev/keyfetch/internal/application"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// ListSchedules returns the caller's schedules.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.schedules.List(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list schedules")
		return
	}

	resp := make([]ScheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		resp = append(resp, toScheduleResponse(s))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateSchedule validates a recurrence and stores it with its first run time.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sch, err := h.schedules.Create(r.Context(), ownerFrom(r.Context()), application.CreateScheduleInput{
		Name:        req.Name,
		Frequency:   model.Frequency(req.Frequency),
		DayOfWeek:   req.DayOfWeek,
		DayOfMonth:  req.DayOfMonth,
		TimeOfDay:   req.TimeOfDay,
		Timezone:    req.Timezone,
		ProviderIDs: req.ProviderIDs,
		Enabled:     req.Enabled,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create schedule", "name", req.Name)
		return
	}

	writeJSON(w, http.StatusCreated, toScheduleResponse(*sch))
}

// ToggleSchedule enables or disables a schedule. Enabling recomputes the next
// run from now.
func (h *Handler) ToggleSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req ToggleScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	sch, err := h.schedules.Toggle(r.Context(), ownerFrom(r.Context()), id, *req.Enabled)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to toggle schedule", "schedule_id", id)
		return
	}

	writeJSON(w, http.StatusOK, toScheduleResponse(*sch))
}

// DeleteSchedule removes a schedule. Jobs it already dispatched are kept.
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.schedules.Delete(r.Context(), ownerFrom(r.Context()), id); err != nil {
		writeServiceError(w, h.logger, err, "failed to delete schedule", "schedule_id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RunSchedule dispatches a schedule immediately through the regular claim path.
func (h *Handler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, err := h.schedules.TriggerNow(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to run schedule", "schedule_id", id)
		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(*job))
}
