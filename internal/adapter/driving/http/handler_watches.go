package httphandler

import (
	"net/http"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/application"
)

// ListWatches returns the caller's watches with their derived states.
func (h *Handler) ListWatches(w http.ResponseWriter, r *http.Request) {
	views, err := h.watches.List(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list watches")
		return
	}

	resp := make([]WatchResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, toWatchResponse(v))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateWatch starts tracking the expiry of one of the caller's credentials.
// expiresAt accepts RFC 3339 or a bare YYYY-MM-DD date (midnight UTC).
func (h *Handler) CreateWatch(w http.ResponseWriter, r *http.Request) {
	var req CreateWatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	expiresAt, ok := parseExpiry(req.ExpiresAt)
	if !ok {
		writeError(w, http.StatusBadRequest, "expiresAt must be an RFC 3339 timestamp or YYYY-MM-DD date")
		return
	}

	view, err := h.watches.Create(r.Context(), ownerFrom(r.Context()), application.CreateWatchInput{
		CredentialID:    req.CredentialID,
		ExpiresAt:       expiresAt,
		AlertDaysBefore: req.AlertDaysBefore,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create watch", "credential_id", req.CredentialID)
		return
	}

	writeJSON(w, http.StatusCreated, toWatchResponse(*view))
}

func parseExpiry(raw string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// WatchSummary counts the caller's watches by derived state.
func (h *Handler) WatchSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.watches.Summary(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to summarize watches")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// DismissWatch silences a watch.
func (h *Handler) DismissWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	view, err := h.watches.Dismiss(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to dismiss watch", "watch_id", id)
		return
	}

	writeJSON(w, http.StatusOK, toWatchResponse(*view))
}

// RemoveWatch deletes a watch.
func (h *Handler) RemoveWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.watches.Remove(r.Context(), ownerFrom(r.Context()), id); err != nil {
		writeServiceError(w, h.logger, err, "failed to remove watch", "watch_id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
