// Package httphandler is the REST driving adapter. Every route except the
// health check is scoped to the owner resolved from the request.
package httphandler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/application"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	jobs      *application.Orchestrator
	vault     *application.VaultService
	proxies   *application.ProxyService
	schedules *application.Scheduler
	watches   *application.WatchService
	owners    *OwnerResolver
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	jobs *application.Orchestrator,
	vault *application.VaultService,
	proxies *application.ProxyService,
	schedules *application.Scheduler,
	watches *application.WatchService,
	owners *OwnerResolver,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		jobs:      jobs,
		vault:     vault,
		proxies:   proxies,
		schedules: schedules,
		watches:   watches,
		owners:    owners,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. Owner-scoped routes additionally pass
// through identity resolution.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("POST /api/v1/jobs", h.CreateJob)
	api.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	api.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	api.HandleFunc("POST /api/v1/jobs/{id}/cancel", h.CancelJob)

	api.HandleFunc("GET /api/v1/credentials", h.ListCredentials)
	api.HandleFunc("POST /api/v1/credentials", h.PutCredential)
	api.HandleFunc("DELETE /api/v1/credentials/{id}", h.DeleteCredential)
	api.HandleFunc("GET /api/v1/credentials/{id}/reveal", h.RevealCredential)
	api.HandleFunc("GET /api/v1/credentials/{id}/history", h.CredentialHistory)
	api.HandleFunc("POST /api/v1/credentials/{id}/notes", h.AddNote)
	api.HandleFunc("POST /api/v1/history/{id}/rollback", h.Rollback)
	api.HandleFunc("GET /api/v1/vault/summary", h.VaultSummary)
	api.HandleFunc("GET /api/v1/vault/export", h.ExportVault)

	api.HandleFunc("GET /api/v1/proxies", h.ListProxies)
	api.HandleFunc("POST /api/v1/proxies", h.AddProxy)
	api.HandleFunc("POST /api/v1/proxies/import", h.ImportProxies)
	api.HandleFunc("DELETE /api/v1/proxies/{id}", h.RemoveProxy)
	api.HandleFunc("POST /api/v1/proxies/{id}/test", h.TestProxy)
	api.HandleFunc("GET /api/v1/proxies/recommended", h.RecommendedProxies)
	api.HandleFunc("GET /api/v1/providers", h.ListProviders)
	api.HandleFunc("GET /api/v1/providers/{id}/requirements", h.ProviderRequirements)

	api.HandleFunc("GET /api/v1/schedules", h.ListSchedules)
	api.HandleFunc("POST /api/v1/schedules", h.CreateSchedule)
	api.HandleFunc("POST /api/v1/schedules/{id}/toggle", h.ToggleSchedule)
	api.HandleFunc("DELETE /api/v1/schedules/{id}", h.DeleteSchedule)
	api.HandleFunc("POST /api/v1/schedules/{id}/run", h.RunSchedule)

	api.HandleFunc("GET /api/v1/watches", h.ListWatches)
	api.HandleFunc("POST /api/v1/watches", h.CreateWatch)
	api.HandleFunc("GET /api/v1/watches/summary", h.WatchSummary)
	api.HandleFunc("POST /api/v1/watches/{id}/dismiss", h.DismissWatch)
	api.HandleFunc("DELETE /api/v1/watches/{id}", h.RemoveWatch)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("/api/v1/", identityMiddleware(h.owners, logger, api))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
