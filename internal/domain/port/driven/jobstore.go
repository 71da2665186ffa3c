package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// JobStore defines the driven port for fetch job persistence.
type JobStore interface {
	// Create persists a new job together with pending results for each provider.
	Create(ctx context.Context, job model.FetchJob) error

	// Get returns a job owned by ownerID, including per-provider results.
	Get(ctx context.Context, ownerID, id string) (*model.FetchJob, error)

	// GetByID returns a job regardless of owner. Used by background runners.
	GetByID(ctx context.Context, id string) (*model.FetchJob, error)

	// ListByOwner returns an owner's jobs, newest first, capped at limit.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.FetchJob, error)

	// ListByStatus returns jobs in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...model.JobStatus) ([]model.FetchJob, error)

	// Transition moves a job to status "to" only if its current status is one
	// of "from". It reports whether the transition happened. at is recorded
	// as started_at for running and completed_at for terminal statuses.
	Transition(ctx context.Context, id string, from []model.JobStatus, to model.JobStatus, at time.Time, errMsg string) (bool, error)

	// RequestCancel sets the persisted cancel flag.
	RequestCancel(ctx context.Context, id string) error

	// RecordResult stores a provider outcome and increments the matching
	// counter atomically. Succeeded results increment completed_providers,
	// failed ones increment failed_providers, others leave counters alone.
	RecordResult(ctx context.Context, jobID string, result model.ProviderResult) error
}
