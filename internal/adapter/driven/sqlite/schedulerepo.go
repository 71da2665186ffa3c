package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ScheduleStore = (*ScheduleRepo)(nil)

// ScheduleRepo is the SQLite implementation of the ScheduleStore port interface.
type ScheduleRepo struct {
	db *DB
}

// NewScheduleRepo creates a new ScheduleRepo backed by the given DB.
func NewScheduleRepo(db *DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

const scheduleColumns = `id, owner_id, name, frequency, day_of_week, day_of_month, time_of_day, timezone,
	provider_ids, enabled, next_run_at, claim_version, total_runs, successful_runs, failed_runs,
	last_job_id, last_run_at, created_at, updated_at`

// Create inserts a new schedule.
func (r *ScheduleRepo) Create(ctx context.Context, s model.SyncSchedule) error {
	const query = `INSERT INTO sync_schedules
		(id, owner_id, name, frequency, day_of_week, day_of_month, time_of_day, timezone,
		 provider_ids, enabled, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	providers, err := encodeStrings(s.ProviderIDs)
	if err != nil {
		return err
	}

	var dow any
	if s.DayOfWeek != nil {
		dow = int(*s.DayOfWeek)
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		s.ID, s.OwnerID, s.Name, string(s.Frequency), dow, s.DayOfMonth, s.TimeOfDay, s.Timezone,
		providers, boolToInt(s.Enabled), formatTime(s.NextRunAt), formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create schedule %q: %w", s.Name, err)
	}
	return nil
}

// Get returns a schedule owned by ownerID.
func (r *ScheduleRepo) Get(ctx context.Context, ownerID, id string) (*model.SyncSchedule, error) {
	const query = `SELECT ` + scheduleColumns + ` FROM sync_schedules WHERE id = ? AND owner_id = ?`

	s, err := scanSchedule(r.db.Reader.QueryRowContext(ctx, query, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("schedule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %q: %w", id, err)
	}
	return s, nil
}

// ListByOwner returns an owner's schedules ordered by name.
func (r *ScheduleRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.SyncSchedule, error) {
	const query = `SELECT ` + scheduleColumns + ` FROM sync_schedules WHERE owner_id = ? ORDER BY name, id`
	return r.list(ctx, query, ownerID)
}

// ListDue returns enabled schedules whose next run is at or before now.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time) ([]model.SyncSchedule, error) {
	const query = `SELECT ` + scheduleColumns + ` FROM sync_schedules
		WHERE enabled = 1 AND next_run_at <= ?
		ORDER BY next_run_at`
	return r.list(ctx, query, formatTime(now))
}

func (r *ScheduleRepo) list(ctx context.Context, query string, args ...any) ([]model.SyncSchedule, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []model.SyncSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return schedules, nil
}

// Delete removes a schedule owned by ownerID.
func (r *ScheduleRepo) Delete(ctx context.Context, ownerID, id string) error {
	const query = `DELETE FROM sync_schedules WHERE id = ? AND owner_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete schedule %q: %w", id, err)
	}
	return checkAffected(result, model.NotFound("schedule", id))
}

// SetEnabled toggles a schedule and stores nextRunAt. Like Claim it is a
// compare-and-swap on claim_version and bumps it, so a tick that read the
// schedule before the toggle can no longer claim it.
func (r *ScheduleRepo) SetEnabled(ctx context.Context, ownerID, id string, expectedVersion int64, enabled bool, nextRunAt time.Time) (bool, error) {
	const query = `UPDATE sync_schedules
		SET enabled = ?, next_run_at = ?, claim_version = claim_version + 1, updated_at = ?
		WHERE id = ? AND owner_id = ? AND claim_version = ?`

	result, err := r.db.Writer.ExecContext(ctx, query,
		boolToInt(enabled), formatTime(nextRunAt), formatTime(time.Now()), id, ownerID, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("toggle schedule %q: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	if _, err := r.Get(ctx, ownerID, id); err != nil {
		return false, err
	}
	return false, nil
}

// Claim is a compare-and-swap on claim_version. With a single writer
// connection the statement is serialized, and only the first claimer still
// matches the expected version.
func (r *ScheduleRepo) Claim(ctx context.Context, id string, expectedVersion int64, nextRunAt, claimedAt time.Time) (bool, error) {
	const query = `UPDATE sync_schedules
		SET next_run_at = ?, claim_version = claim_version + 1, last_run_at = ?, updated_at = ?
		WHERE id = ? AND claim_version = ? AND enabled = 1`

	result, err := r.db.Writer.ExecContext(ctx, query,
		formatTime(nextRunAt), formatTime(claimedAt), formatTime(claimedAt), id, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("claim schedule %q: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rows == 1, nil
}

// RecordDispatch increments total_runs and stores the dispatched job id.
func (r *ScheduleRepo) RecordDispatch(ctx context.Context, id, jobID string) error {
	const query = `UPDATE sync_schedules SET total_runs = total_runs + 1, last_job_id = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, jobID, id)
	if err != nil {
		return fmt.Errorf("record dispatch for schedule %q: %w", id, err)
	}
	return checkAffected(result, model.NotFound("schedule", id))
}

// RecordOutcome increments successful_runs or failed_runs.
func (r *ScheduleRepo) RecordOutcome(ctx context.Context, id string, success bool) error {
	query := `UPDATE sync_schedules SET failed_runs = failed_runs + 1 WHERE id = ?`
	if success {
		query = `UPDATE sync_schedules SET successful_runs = successful_runs + 1 WHERE id = ?`
	}

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("record outcome for schedule %q: %w", id, err)
	}
	return checkAffected(result, model.NotFound("schedule", id))
}

func scanSchedule(s scanner) (*model.SyncSchedule, error) {
	var sch model.SyncSchedule
	var frequency, providers, nextRunAt, createdAt, updatedAt string
	var dow sql.NullInt64
	var enabled int
	var lastRunAt sql.NullString

	err := s.Scan(
		&sch.ID, &sch.OwnerID, &sch.Name, &frequency, &dow, &sch.DayOfMonth, &sch.TimeOfDay, &sch.Timezone,
		&providers, &enabled, &nextRunAt, &sch.ClaimVersion, &sch.TotalRuns, &sch.SuccessfulRuns, &sch.FailedRuns,
		&sch.LastJobID, &lastRunAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sch.Frequency = model.Frequency(frequency)
	sch.Enabled = enabled == 1
	if dow.Valid {
		wd := time.Weekday(dow.Int64)
		sch.DayOfWeek = &wd
	}
	if sch.ProviderIDs, err = decodeStrings(providers); err != nil {
		return nil, err
	}
	if sch.NextRunAt, err = parseTime(nextRunAt); err != nil {
		return nil, fmt.Errorf("parse next_run_at: %w", err)
	}
	if sch.LastRunAt, err = parseNullTime(lastRunAt); err != nil {
		return nil, fmt.Errorf("parse last_run_at: %w", err)
	}
	if sch.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sch.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &sch, nil
}
