package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// CredentialStore defines the driven port for vault persistence. Values cross
// this boundary already encrypted; the store never sees plaintext.
//
// Lookups return a *model.NotFoundError for absent, deleted, or foreign rows.
type CredentialStore interface {
	// Get returns a live credential owned by ownerID.
	Get(ctx context.Context, ownerID, id string) (*model.Credential, error)

	// FindByKey returns the live credential with the given natural key, or
	// (nil, nil) if none exists.
	FindByKey(ctx context.Context, ownerID, providerID, keyType, label string) (*model.Credential, error)

	// ListByOwner returns all live credentials for an owner, ordered by provider.
	ListByOwner(ctx context.Context, ownerID string) ([]model.Credential, error)

	// Create inserts a new credential and its first history entry in one transaction.
	Create(ctx context.Context, cred model.Credential, entry model.CredentialHistoryEntry) error

	// Update replaces the live value and appends entry in one transaction,
	// but only if the stored version still equals expectedVersion. A lost
	// race returns model.ErrConcurrencyConflict and writes nothing.
	Update(ctx context.Context, cred model.Credential, expectedVersion int, entry model.CredentialHistoryEntry) error

	// SoftDelete marks a credential deleted. History is retained.
	SoftDelete(ctx context.Context, ownerID, id string) error

	// AppendHistory adds a history entry without touching the live value.
	AppendHistory(ctx context.Context, entry model.CredentialHistoryEntry) error

	// GetHistoryEntry returns an entry whose credential is owned by ownerID.
	GetHistoryEntry(ctx context.Context, ownerID, id string) (*model.CredentialHistoryEntry, error)

	// ListHistory returns a credential's entries, newest first.
	ListHistory(ctx context.Context, credentialID string) ([]model.CredentialHistoryEntry, error)

	// CountChangesSince counts an owner's history entries per change type
	// created at or after since.
	CountChangesSince(ctx context.Context, ownerID string, since time.Time) (map[model.ChangeType]int, error)
}
