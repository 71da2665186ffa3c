package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/application"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps an application error to its HTTP status. Anything
// not recognised is logged with attrs and answered with a generic 500 body.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, msg string, attrs ...any) {
	switch {
	case model.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case model.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "resource was modified concurrently, retry the request")
	case errors.Is(err, model.ErrProxyUnavailable):
		writeError(w, http.StatusConflict, model.ErrProxyUnavailable.Error())
	case errors.Is(err, model.ErrDecryption):
		logger.Warn(msg, append(attrs, "error", err)...)
		writeError(w, http.StatusUnprocessableEntity, "stored value could not be decrypted")
	default:
		logger.Error(msg, append(attrs, "error", err)...)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads a bounded JSON body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// --- Jobs ---

// CreateJobRequest is the JSON body for starting a fetch job.
type CreateJobRequest struct {
	ProviderIDs []string `json:"providerIds"`
}

// ProviderResultResponse is the per-provider outcome inside a job.
type ProviderResultResponse struct {
	ProviderID    string   `json:"providerId"`
	Status        string   `json:"status"`
	Attempts      int      `json:"attempts"`
	Error         string   `json:"error,omitempty"`
	CredentialIDs []string `json:"credentialIds"`
	ProxyID       string   `json:"proxyId,omitempty"`
	FinishedAt    *string  `json:"finishedAt"`
}

// JobResponse is the JSON representation of a fetch job.
type JobResponse struct {
	ID                 string                   `json:"id"`
	Status             string                   `json:"status"`
	ProviderIDs        []string                 `json:"providerIds"`
	TotalProviders     int                      `json:"totalProviders"`
	CompletedProviders int                      `json:"completedProviders"`
	FailedProviders    int                      `json:"failedProviders"`
	Results            []ProviderResultResponse `json:"results"`
	CancelRequested    bool                     `json:"cancelRequested"`
	ErrorMessage       string                   `json:"errorMessage,omitempty"`
	CreatedAt          string                   `json:"createdAt"`
	StartedAt          *string                  `json:"startedAt"`
	CompletedAt        *string                  `json:"completedAt"`
}

// toJobResponse converts a job, listing provider results in the job's
// provider order.
func toJobResponse(j model.FetchJob) JobResponse {
	results := make([]ProviderResultResponse, 0, len(j.ProviderIDs))
	for _, id := range j.ProviderIDs {
		res, ok := j.Results[id]
		if !ok {
			res = model.ProviderResult{ProviderID: id, Status: model.ProviderStatusPending}
		}
		credIDs := res.CredentialIDs
		if credIDs == nil {
			credIDs = []string{}
		}
		results = append(results, ProviderResultResponse{
			ProviderID:    id,
			Status:        string(res.Status),
			Attempts:      res.Attempts,
			Error:         res.Error,
			CredentialIDs: credIDs,
			ProxyID:       res.ProxyID,
			FinishedAt:    formatTimePtr(res.FinishedAt),
		})
	}

	return JobResponse{
		ID:                 j.ID,
		Status:             string(j.Status),
		ProviderIDs:        j.ProviderIDs,
		TotalProviders:     j.TotalProviders,
		CompletedProviders: j.CompletedProviders,
		FailedProviders:    j.FailedProviders,
		Results:            results,
		CancelRequested:    j.CancelRequested,
		ErrorMessage:       j.ErrorMessage,
		CreatedAt:          formatTime(j.CreatedAt),
		StartedAt:          formatTimePtr(j.StartedAt),
		CompletedAt:        formatTimePtr(j.CompletedAt),
	}
}

// --- Vault ---

// PutCredentialRequest is the JSON body for storing or rotating a credential.
type PutCredentialRequest struct {
	ProviderID string `json:"providerId"`
	KeyType    string `json:"keyType"`
	Label      string `json:"label"`
	Value      string `json:"value"`
	ChangeType string `json:"changeType"`
}

// CredentialResponse is credential metadata. It never carries the value.
type CredentialResponse struct {
	ID           string `json:"id"`
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName"`
	KeyType      string `json:"keyType"`
	Label        string `json:"label"`
	Version      int    `json:"version"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// RevealResponse carries a decrypted credential value.
type RevealResponse struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// NoteRequest is the JSON body for annotating a credential.
type NoteRequest struct {
	Note string `json:"note"`
}

// HistoryEntryResponse is one history entry. NoteHTML is the note rendered
// from markdown and sanitized.
type HistoryEntryResponse struct {
	ID           string `json:"id"`
	CredentialID string `json:"credentialId"`
	ChangeType   string `json:"changeType"`
	Note         string `json:"note"`
	NoteHTML     string `json:"noteHtml"`
	CreatedAt    string `json:"createdAt"`
}

// VaultSummaryResponse counts history entries by change type.
type VaultSummaryResponse struct {
	WindowDays int            `json:"windowDays"`
	Counts     map[string]int `json:"counts"`
}

func toCredentialResponse(c model.Credential) CredentialResponse {
	return CredentialResponse{
		ID:           c.ID,
		ProviderID:   c.ProviderID,
		ProviderName: c.ProviderName,
		KeyType:      c.KeyType,
		Label:        c.KeyLabel,
		Version:      c.Version,
		CreatedAt:    formatTime(c.CreatedAt),
		UpdatedAt:    formatTime(c.UpdatedAt),
	}
}

func toHistoryEntryResponse(e model.CredentialHistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:           e.ID,
		CredentialID: e.CredentialID,
		ChangeType:   string(e.ChangeType),
		Note:         e.SnapshotNote,
		NoteHTML:     renderNote(e.SnapshotNote),
		CreatedAt:    formatTime(e.CreatedAt),
	}
}

// --- Proxies ---

// AddProxyRequest is the JSON body for adding a proxy, either as a URL in
// any accepted shape or as discrete fields.
type AddProxyRequest struct {
	URL      string `json:"url"`
	Label    string `json:"label"`
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Type     string `json:"type"`
	Country  string `json:"country"`
	City     string `json:"city"`
}

// ImportProxiesRequest is the JSON body for a bulk import. Text holds one
// proxy per line; URLs is appended to it.
type ImportProxiesRequest struct {
	Text string   `json:"text"`
	URLs []string `json:"urls"`
	Type string   `json:"type"`
}

// ImportFailureResponse is one rejected line of a bulk import.
type ImportFailureResponse struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ImportProxiesResponse reports the outcome of a bulk import.
type ImportProxiesResponse struct {
	Added    []ProxyResponse         `json:"added"`
	Failures []ImportFailureResponse `json:"failures"`
}

// ProxyResponse is the JSON representation of a proxy. The password is
// never returned; HasPassword reports whether one is stored.
type ProxyResponse struct {
	ID                  string  `json:"id"`
	Label               string  `json:"label"`
	Protocol            string  `json:"protocol"`
	Host                string  `json:"host"`
	Port                int     `json:"port"`
	Username            string  `json:"username,omitempty"`
	HasPassword         bool    `json:"hasPassword"`
	Type                string  `json:"type"`
	Country             string  `json:"country,omitempty"`
	City                string  `json:"city,omitempty"`
	Healthy             bool    `json:"healthy"`
	LatencyMs           *int    `json:"latencyMs"`
	SuccessCount        int     `json:"successCount"`
	FailCount           int     `json:"failCount"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
	ExternalIP          string  `json:"externalIp,omitempty"`
	LastTestedAt        *string `json:"lastTestedAt"`
	LastUsedAt          *string `json:"lastUsedAt"`
	CreatedAt           string  `json:"createdAt"`
}

// ProxyTestResponse is the outcome of a live proxy test.
type ProxyTestResponse struct {
	Healthy    bool   `json:"healthy"`
	ExternalIP string `json:"externalIp"`
	Country    string `json:"country"`
	City       string `json:"city"`
	LatencyMs  int    `json:"latencyMs"`
	Error      string `json:"error,omitempty"`
	TestedAt   string `json:"testedAt"`
}

func toProxyResponse(p model.ProxyEntry) ProxyResponse {
	return ProxyResponse{
		ID:                  p.ID,
		Label:               p.Label,
		Protocol:            string(p.Protocol),
		Host:                p.Host,
		Port:                p.Port,
		Username:            p.Username,
		HasPassword:         p.Password != "",
		Type:                string(p.Type),
		Country:             p.Country,
		City:                p.City,
		Healthy:             p.Healthy,
		LatencyMs:           p.LatencyMs,
		SuccessCount:        p.SuccessCount,
		FailCount:           p.FailCount,
		ConsecutiveFailures: p.ConsecutiveFailures,
		ExternalIP:          p.ExternalIP,
		LastTestedAt:        formatTimePtr(p.LastTestedAt),
		LastUsedAt:          formatTimePtr(p.LastUsedAt),
		CreatedAt:           formatTime(p.CreatedAt),
	}
}

func toProxyTestResponse(r model.ProxyTestResult) ProxyTestResponse {
	return ProxyTestResponse{
		Healthy:    r.Healthy,
		ExternalIP: r.ExternalIP,
		Country:    r.Country,
		City:       r.City,
		LatencyMs:  r.LatencyMs,
		Error:      r.Error,
		TestedAt:   formatTime(r.TestedAt),
	}
}

// --- Schedules ---

// CreateScheduleRequest is the JSON body for creating a schedule.
type CreateScheduleRequest struct {
	Name        string   `json:"name"`
	Frequency   string   `json:"frequency"`
	DayOfWeek   *int     `json:"dayOfWeek"`
	DayOfMonth  int      `json:"dayOfMonth"`
	TimeOfDay   string   `json:"timeOfDay"`
	Timezone    string   `json:"timezone"`
	ProviderIDs []string `json:"providerIds"`
	Enabled     *bool    `json:"enabled"`
}

// ToggleScheduleRequest is the JSON body for enabling or disabling a schedule.
type ToggleScheduleRequest struct {
	Enabled *bool `json:"enabled"`
}

// ScheduleResponse is the JSON representation of a schedule.
type ScheduleResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Frequency      string   `json:"frequency"`
	DayOfWeek      *int     `json:"dayOfWeek"`
	DayOfMonth     int      `json:"dayOfMonth,omitempty"`
	TimeOfDay      string   `json:"timeOfDay"`
	Timezone       string   `json:"timezone"`
	ProviderIDs    []string `json:"providerIds"`
	Enabled        bool     `json:"enabled"`
	NextRunAt      string   `json:"nextRunAt"`
	TotalRuns      int      `json:"totalRuns"`
	SuccessfulRuns int      `json:"successfulRuns"`
	FailedRuns     int      `json:"failedRuns"`
	LastJobID      string   `json:"lastJobId,omitempty"`
	LastRunAt      *string  `json:"lastRunAt"`
	CreatedAt      string   `json:"createdAt"`
}

func toScheduleResponse(s model.SyncSchedule) ScheduleResponse {
	var dow *int
	if s.DayOfWeek != nil {
		d := int(*s.DayOfWeek)
		dow = &d
	}
	return ScheduleResponse{
		ID:             s.ID,
		Name:           s.Name,
		Frequency:      string(s.Frequency),
		DayOfWeek:      dow,
		DayOfMonth:     s.DayOfMonth,
		TimeOfDay:      s.TimeOfDay,
		Timezone:       s.Timezone,
		ProviderIDs:    s.ProviderIDs,
		Enabled:        s.Enabled,
		NextRunAt:      formatTime(s.NextRunAt),
		TotalRuns:      s.TotalRuns,
		SuccessfulRuns: s.SuccessfulRuns,
		FailedRuns:     s.FailedRuns,
		LastJobID:      s.LastJobID,
		LastRunAt:      formatTimePtr(s.LastRunAt),
		CreatedAt:      formatTime(s.CreatedAt),
	}
}

// --- Watches ---

// CreateWatchRequest is the JSON body for watching a credential's expiry.
type CreateWatchRequest struct {
	CredentialID    string `json:"credentialId"`
	ExpiresAt       string `json:"expiresAt"`
	AlertDaysBefore *int   `json:"alertDaysBefore"`
}

// WatchResponse is the JSON representation of a watch with its derived state.
type WatchResponse struct {
	ID              string `json:"id"`
	CredentialID    string `json:"credentialId"`
	ExpiresAt       string `json:"expiresAt"`
	AlertDaysBefore int    `json:"alertDaysBefore"`
	Status          string `json:"status"`
	State           string `json:"state"`
	DaysUntil       int    `json:"daysUntil"`
	CreatedAt       string `json:"createdAt"`
}

func toWatchResponse(v application.WatchView) WatchResponse {
	return WatchResponse{
		ID:              v.ID,
		CredentialID:    v.CredentialID,
		ExpiresAt:       formatTime(v.ExpiresAt),
		AlertDaysBefore: v.AlertDaysBefore,
		Status:          string(v.Status),
		State:           string(v.State),
		DaysUntil:       v.DaysUntil,
		CreatedAt:       formatTime(v.CreatedAt),
	}
}
