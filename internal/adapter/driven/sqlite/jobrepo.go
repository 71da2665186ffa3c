package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.JobStore = (*JobRepo)(nil)

// JobRepo is the SQLite implementation of the JobStore port interface.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new JobRepo backed by the given DB.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

const jobColumns = `id, owner_id, runner_id, status, provider_ids, total_providers, completed_providers,
	failed_providers, cancel_requested, error_message, created_at, started_at, completed_at`

// Create persists a job and a pending result row per provider.
func (r *JobRepo) Create(ctx context.Context, job model.FetchJob) error {
	const insertJob = `INSERT INTO fetch_jobs
		(id, owner_id, runner_id, status, provider_ids, total_providers, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	const insertResult = `INSERT INTO fetch_job_results (job_id, provider_id, status) VALUES (?, ?, ?)`

	providers, err := encodeStrings(job.ProviderIDs)
	if err != nil {
		return err
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertJob,
			job.ID, job.OwnerID, job.RunnerID, string(job.Status), providers, job.TotalProviders, formatTime(job.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("create job %q: %w", job.ID, err)
		}

		for _, providerID := range job.ProviderIDs {
			if _, err := tx.ExecContext(ctx, insertResult, job.ID, providerID, string(model.ProviderStatusPending)); err != nil {
				return fmt.Errorf("create result %s for job %q: %w", providerID, job.ID, err)
			}
		}
		return nil
	})
}

// Get returns a job owned by ownerID with its results.
func (r *JobRepo) Get(ctx context.Context, ownerID, id string) (*model.FetchJob, error) {
	const query = `SELECT ` + jobColumns + ` FROM fetch_jobs WHERE id = ? AND owner_id = ?`
	return r.getOne(ctx, id, query, id, ownerID)
}

// GetByID returns a job regardless of owner.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.FetchJob, error) {
	const query = `SELECT ` + jobColumns + ` FROM fetch_jobs WHERE id = ?`
	return r.getOne(ctx, id, query, id)
}

func (r *JobRepo) getOne(ctx context.Context, id, query string, args ...any) (*model.FetchJob, error) {
	job, err := scanJob(r.db.Reader.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", id, err)
	}

	if job.Results, err = r.loadResults(ctx, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

// ListByOwner returns an owner's jobs, newest first.
func (r *JobRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.FetchJob, error) {
	const query = `SELECT ` + jobColumns + ` FROM fetch_jobs
		WHERE owner_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	return r.list(ctx, query, ownerID, limit)
}

// ListByStatus returns jobs in any of the given statuses, oldest first.
func (r *JobRepo) ListByStatus(ctx context.Context, statuses ...model.JobStatus) ([]model.FetchJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := `SELECT ` + jobColumns + ` FROM fetch_jobs WHERE status IN (` + placeholders + `) ORDER BY created_at`

	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return r.list(ctx, query, args...)
}

func (r *JobRepo) list(ctx context.Context, query string, args ...any) ([]model.FetchJob, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.FetchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	for i := range jobs {
		if jobs[i].Results, err = r.loadResults(ctx, jobs[i].ID); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// Transition performs a conditional status change.
func (r *JobRepo) Transition(ctx context.Context, id string, from []model.JobStatus, to model.JobStatus, at time.Time, errMsg string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition job %q: no source statuses", id)
	}

	column := "completed_at"
	if to == model.JobStatusRunning {
		column = "started_at"
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	query := `UPDATE fetch_jobs SET status = ?, ` + column + ` = ?, error_message = ?
		WHERE id = ? AND status IN (` + placeholders + `)`

	args := []any{string(to), formatTime(at), errMsg, id}
	for _, s := range from {
		args = append(args, string(s))
	}

	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition job %q to %s: %w", id, to, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rows == 1, nil
}

// RequestCancel sets the persisted cancel flag.
func (r *JobRepo) RequestCancel(ctx context.Context, id string) error {
	const query = `UPDATE fetch_jobs SET cancel_requested = 1 WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("request cancel of job %q: %w", id, err)
	}
	return checkAffected(result, model.NotFound("job", id))
}

// RecordResult upserts a provider result and bumps the matching counter in
// one transaction so counters always agree with the result rows.
func (r *JobRepo) RecordResult(ctx context.Context, jobID string, res model.ProviderResult) error {
	const upsert = `INSERT INTO fetch_job_results
		(job_id, provider_id, status, attempts, error, credential_ids, proxy_id, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, provider_id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			error = excluded.error,
			credential_ids = excluded.credential_ids,
			proxy_id = excluded.proxy_id,
			finished_at = excluded.finished_at`

	credentialIDs, err := encodeStrings(res.CredentialIDs)
	if err != nil {
		return err
	}

	var counter string
	switch res.Status {
	case model.ProviderStatusSucceeded:
		counter = `UPDATE fetch_jobs SET completed_providers = completed_providers + 1 WHERE id = ?`
	case model.ProviderStatusFailed:
		counter = `UPDATE fetch_jobs SET failed_providers = failed_providers + 1 WHERE id = ?`
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, upsert,
			jobID, res.ProviderID, string(res.Status), res.Attempts, res.Error,
			credentialIDs, res.ProxyID, nullableTime(res.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("record result %s for job %q: %w", res.ProviderID, jobID, err)
		}

		if counter == "" {
			return nil
		}
		result, err := tx.ExecContext(ctx, counter, jobID)
		if err != nil {
			return fmt.Errorf("increment counters for job %q: %w", jobID, err)
		}
		return checkAffected(result, model.NotFound("job", jobID))
	})
}

func (r *JobRepo) loadResults(ctx context.Context, jobID string) (map[string]model.ProviderResult, error) {
	const query = `SELECT provider_id, status, attempts, error, credential_ids, proxy_id, finished_at
		FROM fetch_job_results WHERE job_id = ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("load results for job %q: %w", jobID, err)
	}
	defer rows.Close()

	results := make(map[string]model.ProviderResult)
	for rows.Next() {
		var res model.ProviderResult
		var status, credentialIDs string
		var finishedAt sql.NullString

		if err := rows.Scan(&res.ProviderID, &status, &res.Attempts, &res.Error, &credentialIDs, &res.ProxyID, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Status = model.ProviderStatus(status)
		if res.CredentialIDs, err = decodeStrings(credentialIDs); err != nil {
			return nil, err
		}
		if res.FinishedAt, err = parseNullTime(finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		results[res.ProviderID] = res
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

func scanJob(s scanner) (*model.FetchJob, error) {
	var job model.FetchJob
	var status, providers, createdAt string
	var cancelRequested int
	var startedAt, completedAt sql.NullString

	err := s.Scan(
		&job.ID, &job.OwnerID, &job.RunnerID, &status, &providers, &job.TotalProviders, &job.CompletedProviders,
		&job.FailedProviders, &cancelRequested, &job.ErrorMessage, &createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = model.JobStatus(status)
	job.CancelRequested = cancelRequested == 1
	if job.ProviderIDs, err = decodeStrings(providers); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if job.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	return &job, nil
}
