package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.WatchStore = (*WatchRepo)(nil)

// WatchRepo is the SQLite implementation of the WatchStore port interface.
type WatchRepo struct {
	db *DB
}

// NewWatchRepo creates a new WatchRepo backed by the given DB.
func NewWatchRepo(db *DB) *WatchRepo {
	return &WatchRepo{db: db}
}

const watchColumns = `id, owner_id, credential_id, expires_at, alert_days_before, status, last_notified_state, created_at`

// Create inserts a new watch.
func (r *WatchRepo) Create(ctx context.Context, w model.CredentialWatch) error {
	const query = `INSERT INTO credential_watches
		(id, owner_id, credential_id, expires_at, alert_days_before, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Writer.ExecContext(ctx, query,
		w.ID, w.OwnerID, w.CredentialID, formatTime(w.ExpiresAt), w.AlertDaysBefore, string(w.Status), formatTime(w.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create watch for credential %q: %w", w.CredentialID, err)
	}
	return nil
}

// Get returns a watch owned by ownerID.
func (r *WatchRepo) Get(ctx context.Context, ownerID, id string) (*model.CredentialWatch, error) {
	const query = `SELECT ` + watchColumns + ` FROM credential_watches WHERE id = ? AND owner_id = ?`

	w, err := scanWatch(r.db.Reader.QueryRowContext(ctx, query, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("watch", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get watch %q: %w", id, err)
	}
	return w, nil
}

// ListByOwner returns an owner's watches ordered by expiry.
func (r *WatchRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.CredentialWatch, error) {
	const query = `SELECT ` + watchColumns + ` FROM credential_watches WHERE owner_id = ? ORDER BY expires_at, id`
	return r.list(ctx, query, ownerID)
}

// ListActive returns every non-dismissed watch across owners.
func (r *WatchRepo) ListActive(ctx context.Context) ([]model.CredentialWatch, error) {
	const query = `SELECT ` + watchColumns + ` FROM credential_watches WHERE status = ? ORDER BY expires_at, id`
	return r.list(ctx, query, string(model.WatchStatusActive))
}

func (r *WatchRepo) list(ctx context.Context, query string, args ...any) ([]model.CredentialWatch, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list watches: %w", err)
	}
	defer rows.Close()

	var watches []model.CredentialWatch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch: %w", err)
		}
		watches = append(watches, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watches: %w", err)
	}
	return watches, nil
}

// SetStatus updates a watch's stored status.
func (r *WatchRepo) SetStatus(ctx context.Context, ownerID, id string, status model.WatchStatus) error {
	const query = `UPDATE credential_watches SET status = ? WHERE id = ? AND owner_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, string(status), id, ownerID)
	if err != nil {
		return fmt.Errorf("set watch %q status: %w", id, err)
	}
	return checkAffected(result, model.NotFound("watch", id))
}

// SetNotifiedState remembers the last state a notification was sent for.
func (r *WatchRepo) SetNotifiedState(ctx context.Context, id string, state model.WatchState) error {
	const query = `UPDATE credential_watches SET last_notified_state = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, string(state), id)
	if err != nil {
		return fmt.Errorf("set watch %q notified state: %w", id, err)
	}
	return checkAffected(result, model.NotFound("watch", id))
}

// Remove deletes a watch owned by ownerID.
func (r *WatchRepo) Remove(ctx context.Context, ownerID, id string) error {
	const query = `DELETE FROM credential_watches WHERE id = ? AND owner_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("remove watch %q: %w", id, err)
	}
	return checkAffected(result, model.NotFound("watch", id))
}

func scanWatch(s scanner) (*model.CredentialWatch, error) {
	var w model.CredentialWatch
	var expiresAt, status, notified, createdAt string

	err := s.Scan(&w.ID, &w.OwnerID, &w.CredentialID, &expiresAt, &w.AlertDaysBefore, &status, &notified, &createdAt)
	if err != nil {
		return nil, err
	}

	w.Status = model.WatchStatus(status)
	w.LastNotifiedState = model.WatchState(notified)
	if w.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &w, nil
}
