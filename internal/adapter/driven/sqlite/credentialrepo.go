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
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Values arrive already sealed by a driven.Cipher and are stored as base64.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo backed by the given DB.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

const credentialColumns = `id, owner_id, provider_id, provider_name, key_type, key_label,
	encrypted_value, version, created_at, updated_at, deleted_at`

// Get returns a live credential owned by ownerID.
func (r *CredentialRepo) Get(ctx context.Context, ownerID, id string) (*model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credentials
		WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`

	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("credential", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %q: %w", id, err)
	}
	return cred, nil
}

// FindByKey returns the live credential matching the natural key, or nil, nil.
func (r *CredentialRepo) FindByKey(ctx context.Context, ownerID, providerID, keyType, label string) (*model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credentials
		WHERE owner_id = ? AND provider_id = ? AND key_type = ? AND key_label = ? AND deleted_at IS NULL`

	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, ownerID, providerID, keyType, label))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find credential %s/%s: %w", providerID, keyType, err)
	}
	return cred, nil
}

// ListByOwner returns all live credentials for an owner ordered by provider, key type and label.
func (r *CredentialRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credentials
		WHERE owner_id = ? AND deleted_at IS NULL
		ORDER BY provider_id, key_type, key_label`

	rows, err := r.db.Reader.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

// Create inserts a new credential and its first history entry atomically. A
// concurrent insert of the same natural key surfaces as ErrConcurrencyConflict.
func (r *CredentialRepo) Create(ctx context.Context, cred model.Credential, entry model.CredentialHistoryEntry) error {
	const query = `INSERT INTO credentials
		(id, owner_id, provider_id, provider_name, key_type, key_label, encrypted_value, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			cred.ID, cred.OwnerID, cred.ProviderID, cred.ProviderName, cred.KeyType, cred.KeyLabel,
			cred.EncryptedValue.Encode(), cred.Version, formatTime(cred.CreatedAt), formatTime(cred.UpdatedAt),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("create credential %s/%s: %w", cred.ProviderID, cred.KeyType, model.ErrConcurrencyConflict)
		}
		if err != nil {
			return fmt.Errorf("create credential %s/%s: %w", cred.ProviderID, cred.KeyType, err)
		}
		return insertHistory(ctx, tx, entry)
	})
}

// Update replaces the live value under an optimistic version check and
// appends entry in the same transaction.
func (r *CredentialRepo) Update(ctx context.Context, cred model.Credential, expectedVersion int, entry model.CredentialHistoryEntry) error {
	const query = `UPDATE credentials
		SET encrypted_value = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL`

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			cred.EncryptedValue.Encode(), cred.Version, formatTime(cred.UpdatedAt), cred.ID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update credential %q: %w", cred.ID, err)
		}
		conflict := fmt.Errorf("update credential %q at version %d: %w", cred.ID, expectedVersion, model.ErrConcurrencyConflict)
		if err := checkAffected(result, conflict); err != nil {
			return err
		}
		return insertHistory(ctx, tx, entry)
	})
}

// SoftDelete marks a credential deleted so it no longer occupies its natural key.
func (r *CredentialRepo) SoftDelete(ctx context.Context, ownerID, id string) error {
	const query = `UPDATE credentials SET deleted_at = ? WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(time.Now()), id, ownerID)
	if err != nil {
		return fmt.Errorf("delete credential %q: %w", id, err)
	}
	return checkAffected(result, model.NotFound("credential", id))
}

// AppendHistory adds an entry without touching the live credential.
func (r *CredentialRepo) AppendHistory(ctx context.Context, entry model.CredentialHistoryEntry) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		return insertHistory(ctx, tx, entry)
	})
}

// GetHistoryEntry returns a history entry whose credential belongs to ownerID.
func (r *CredentialRepo) GetHistoryEntry(ctx context.Context, ownerID, id string) (*model.CredentialHistoryEntry, error) {
	const query = `SELECT h.id, h.credential_id, h.change_type, h.encrypted_snapshot, h.snapshot_note, h.created_at
		FROM credential_history h
		JOIN credentials c ON c.id = h.credential_id
		WHERE h.id = ? AND c.owner_id = ?`

	entry, err := scanHistoryEntry(r.db.Reader.QueryRowContext(ctx, query, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("history entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get history entry %q: %w", id, err)
	}
	return entry, nil
}

// ListHistory returns a credential's history, newest first.
func (r *CredentialRepo) ListHistory(ctx context.Context, credentialID string) ([]model.CredentialHistoryEntry, error) {
	const query = `SELECT id, credential_id, change_type, encrypted_snapshot, snapshot_note, created_at
		FROM credential_history
		WHERE credential_id = ?
		ORDER BY created_at DESC, rowid DESC`

	rows, err := r.db.Reader.QueryContext(ctx, query, credentialID)
	if err != nil {
		return nil, fmt.Errorf("list history for %q: %w", credentialID, err)
	}
	defer rows.Close()

	var entries []model.CredentialHistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// CountChangesSince groups an owner's history entries by change type.
// Entries of soft-deleted credentials still count.
func (r *CredentialRepo) CountChangesSince(ctx context.Context, ownerID string, since time.Time) (map[model.ChangeType]int, error) {
	const query = `SELECT h.change_type, COUNT(*)
		FROM credential_history h
		JOIN credentials c ON c.id = h.credential_id
		WHERE c.owner_id = ? AND h.created_at >= ?
		GROUP BY h.change_type`

	rows, err := r.db.Reader.QueryContext(ctx, query, ownerID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("count changes: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.ChangeType]int, len(model.AllChangeTypes))
	for _, ct := range model.AllChangeTypes {
		counts[ct] = 0
	}
	for rows.Next() {
		var ct string
		var n int
		if err := rows.Scan(&ct, &n); err != nil {
			return nil, fmt.Errorf("scan change count: %w", err)
		}
		counts[model.ChangeType(ct)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change counts: %w", err)
	}
	return counts, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, entry model.CredentialHistoryEntry) error {
	const query = `INSERT INTO credential_history
		(id, credential_id, change_type, encrypted_snapshot, snapshot_note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := tx.ExecContext(ctx, query,
		entry.ID, entry.CredentialID, string(entry.ChangeType),
		entry.EncryptedSnapshot.Encode(), entry.SnapshotNote, formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append history for credential %q: %w", entry.CredentialID, err)
	}
	return nil
}

func scanCredential(s scanner) (*model.Credential, error) {
	var cred model.Credential
	var encrypted, createdAt, updatedAt string
	var deletedAt sql.NullString

	err := s.Scan(
		&cred.ID, &cred.OwnerID, &cred.ProviderID, &cred.ProviderName, &cred.KeyType, &cred.KeyLabel,
		&encrypted, &cred.Version, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if cred.EncryptedValue, err = model.DecodeEncryptedValue(encrypted); err != nil {
		return nil, fmt.Errorf("credential %q: %w", cred.ID, err)
	}
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if cred.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, fmt.Errorf("parse deleted_at: %w", err)
	}
	return &cred, nil
}

func scanHistoryEntry(s scanner) (*model.CredentialHistoryEntry, error) {
	var entry model.CredentialHistoryEntry
	var changeType, snapshot, createdAt string

	err := s.Scan(&entry.ID, &entry.CredentialID, &changeType, &snapshot, &entry.SnapshotNote, &createdAt)
	if err != nil {
		return nil, err
	}

	entry.ChangeType = model.ChangeType(changeType)
	if entry.EncryptedSnapshot, err = model.DecodeEncryptedValue(snapshot); err != nil {
		return nil, fmt.Errorf("history entry %q: %w", entry.ID, err)
	}
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &entry, nil
}
