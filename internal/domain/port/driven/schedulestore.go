package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// ScheduleStore defines the driven port for sync schedule persistence.
type ScheduleStore interface {
	Create(ctx context.Context, s model.SyncSchedule) error
	Get(ctx context.Context, ownerID, id string) (*model.SyncSchedule, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.SyncSchedule, error)
	Delete(ctx context.Context, ownerID, id string) error

	// SetEnabled toggles a schedule and stores the supplied next run if the
	// stored claim_version still equals expectedVersion, bumping it so that
	// claims prepared before the toggle fail. It reports false when the
	// version moved on.
	SetEnabled(ctx context.Context, ownerID, id string, expectedVersion int64, enabled bool, nextRunAt time.Time) (bool, error)

	// ListDue returns enabled schedules whose next run is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]model.SyncSchedule, error)

	// Claim advances next_run_at and bumps claim_version only if the stored
	// claim_version still equals expectedVersion and the schedule is enabled.
	// Exactly one of several concurrent claimers observes true.
	Claim(ctx context.Context, id string, expectedVersion int64, nextRunAt, claimedAt time.Time) (bool, error)

	// RecordDispatch increments total_runs and remembers the job.
	RecordDispatch(ctx context.Context, id, jobID string) error

	// RecordOutcome increments successful_runs or failed_runs.
	RecordOutcome(ctx context.Context, id string, success bool) error
}
