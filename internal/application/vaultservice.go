package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/catalog"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// defaultSummaryWindowDays is the lookback used by DiffSummary when none is given.
const defaultSummaryWindowDays = 30

// conflictAttempts is how many times a write is tried before a version
// conflict is surfaced to the caller.
const conflictAttempts = 2

// PutInput describes a credential value to store.
type PutInput struct {
	ProviderID string
	KeyType    string
	Label      string
	Value      string
	// ChangeType recorded when the credential already exists. Defaults to
	// rotated. New credentials are always recorded as created.
	ChangeType model.ChangeType
}

// VaultService stores credentials encrypted, keeps their append-only
// history, and serves reveal, rollback, summary and export.
type VaultService struct {
	store   driven.CredentialStore
	cipher  driven.Cipher
	catalog *catalog.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewVaultService creates a new VaultService with all required dependencies.
func NewVaultService(store driven.CredentialStore, cipher driven.Cipher, cat *catalog.Catalog, logger *slog.Logger) *VaultService {
	return &VaultService{
		store:   store,
		cipher:  cipher,
		catalog: cat,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *VaultService) WithClock(now func() time.Time) *VaultService {
	s.now = now
	return s
}

// Put creates or updates the credential identified by the natural key
// (owner, provider, key type, label). A lost version race is retried once
// against fresh state before model.ErrConcurrencyConflict is returned.
func (s *VaultService) Put(ctx context.Context, ownerID string, in PutInput) (*model.Credential, error) {
	in.ProviderID = strings.TrimSpace(in.ProviderID)
	in.KeyType = strings.TrimSpace(in.KeyType)
	in.Label = strings.TrimSpace(in.Label)

	switch {
	case ownerID == "":
		return nil, model.Invalid("ownerId", "required")
	case in.ProviderID == "":
		return nil, model.Invalid("providerId", "required")
	case in.KeyType == "":
		return nil, model.Invalid("keyType", "required")
	case in.Value == "":
		return nil, model.Invalid("value", "required")
	}

	if in.ChangeType == "" {
		in.ChangeType = model.ChangeTypeRotated
	}
	if in.ChangeType != model.ChangeTypeRotated && in.ChangeType != model.ChangeTypeManualUpdate {
		return nil, model.Invalid("changeType", "must be rotated or manual_update")
	}

	sealed, err := s.cipher.Seal(ownerID, []byte(in.Value))
	if err != nil {
		return nil, fmt.Errorf("seal credential %s/%s: %w", in.ProviderID, in.KeyType, err)
	}

	var cred *model.Credential
	for attempt := 1; attempt <= conflictAttempts; attempt++ {
		cred, err = s.put(ctx, ownerID, in, sealed)
		if !errors.Is(err, model.ErrConcurrencyConflict) {
			break
		}
		s.logger.Debug("credential write conflict", "provider", in.ProviderID, "key_type", in.KeyType, "attempt", attempt)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("credential stored",
		"credential_id", cred.ID,
		"provider", cred.ProviderID,
		"key_type", cred.KeyType,
		"version", cred.Version,
	)
	return cred, nil
}

func (s *VaultService) put(ctx context.Context, ownerID string, in PutInput, sealed model.EncryptedValue) (*model.Credential, error) {
	existing, err := s.store.FindByKey(ctx, ownerID, in.ProviderID, in.KeyType, in.Label)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()

	if existing == nil {
		cred := model.Credential{
			ID:             newID(),
			OwnerID:        ownerID,
			ProviderID:     in.ProviderID,
			ProviderName:   s.providerName(in.ProviderID),
			KeyType:        in.KeyType,
			KeyLabel:       in.Label,
			EncryptedValue: sealed,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		entry := model.CredentialHistoryEntry{
			ID:                newID(),
			CredentialID:      cred.ID,
			ChangeType:        model.ChangeTypeCreated,
			EncryptedSnapshot: sealed,
			CreatedAt:         now,
		}
		if err := s.store.Create(ctx, cred, entry); err != nil {
			return nil, err
		}
		return &cred, nil
	}

	updated := *existing
	updated.EncryptedValue = sealed
	updated.Version = existing.Version + 1
	updated.UpdatedAt = now

	entry := model.CredentialHistoryEntry{
		ID:                newID(),
		CredentialID:      existing.ID,
		ChangeType:        in.ChangeType,
		EncryptedSnapshot: existing.EncryptedValue,
		CreatedAt:         now,
	}
	if err := s.store.Update(ctx, updated, existing.Version, entry); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Reveal decrypts and returns a credential's live value.
func (s *VaultService) Reveal(ctx context.Context, ownerID, credentialID string) (string, error) {
	cred, err := s.store.Get(ctx, ownerID, credentialID)
	if err != nil {
		return "", err
	}

	plaintext, err := s.cipher.Open(ownerID, cred.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("reveal credential %q: %w", credentialID, err)
	}
	return string(plaintext), nil
}

// AddNote appends a manual_update entry carrying a copy of the current value
// and the note. The live value and version are unchanged.
func (s *VaultService) AddNote(ctx context.Context, ownerID, credentialID, note string) (*model.CredentialHistoryEntry, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, model.Invalid("note", "required")
	}

	cred, err := s.store.Get(ctx, ownerID, credentialID)
	if err != nil {
		return nil, err
	}

	entry := model.CredentialHistoryEntry{
		ID:                newID(),
		CredentialID:      cred.ID,
		ChangeType:        model.ChangeTypeManualUpdate,
		EncryptedSnapshot: cred.EncryptedValue,
		SnapshotNote:      note,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Rollback restores the value captured by a history entry. The restored
// value is re-encrypted with a fresh nonce, and one rollback entry holding
// the replaced value is appended. Earlier entries are never modified.
func (s *VaultService) Rollback(ctx context.Context, ownerID, historyEntryID string) (*model.Credential, error) {
	target, err := s.store.GetHistoryEntry(ctx, ownerID, historyEntryID)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.cipher.Open(ownerID, target.EncryptedSnapshot)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %q: %w", historyEntryID, err)
	}

	var restored *model.Credential
	for attempt := 1; attempt <= conflictAttempts; attempt++ {
		restored, err = s.rollback(ctx, ownerID, target, plaintext)
		if !errors.Is(err, model.ErrConcurrencyConflict) {
			break
		}
		s.logger.Debug("rollback write conflict", "history_entry_id", historyEntryID, "attempt", attempt)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("credential rolled back",
		"credential_id", restored.ID,
		"history_entry_id", historyEntryID,
		"version", restored.Version,
	)
	return restored, nil
}

func (s *VaultService) rollback(ctx context.Context, ownerID string, target *model.CredentialHistoryEntry, plaintext []byte) (*model.Credential, error) {
	current, err := s.store.Get(ctx, ownerID, target.CredentialID)
	if err != nil {
		return nil, err
	}

	sealed, err := s.cipher.Seal(ownerID, plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal restored value: %w", err)
	}

	now := s.now().UTC()
	updated := *current
	updated.EncryptedValue = sealed
	updated.Version = current.Version + 1
	updated.UpdatedAt = now

	entry := model.CredentialHistoryEntry{
		ID:                newID(),
		CredentialID:      current.ID,
		ChangeType:        model.ChangeTypeRollback,
		EncryptedSnapshot: current.EncryptedValue,
		SnapshotNote:      "rolled back to " + target.ID,
		CreatedAt:         now,
	}
	if err := s.store.Update(ctx, updated, current.Version, entry); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DiffSummary counts history entries per change type over the last
// windowDays days. A non-positive window means 30 days.
func (s *VaultService) DiffSummary(ctx context.Context, ownerID string, windowDays int) (map[model.ChangeType]int, error) {
	if windowDays <= 0 {
		windowDays = defaultSummaryWindowDays
	}
	since := s.now().UTC().AddDate(0, 0, -windowDays)
	return s.store.CountChangesSince(ctx, ownerID, since)
}

// List returns credential metadata for an owner. Values stay encrypted.
func (s *VaultService) List(ctx context.Context, ownerID string) ([]model.Credential, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

// History returns a credential's entries, newest first.
func (s *VaultService) History(ctx context.Context, ownerID, credentialID string) ([]model.CredentialHistoryEntry, error) {
	if _, err := s.store.Get(ctx, ownerID, credentialID); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, credentialID)
}

// Delete soft-deletes a credential. Its history is retained.
func (s *VaultService) Delete(ctx context.Context, ownerID, credentialID string) error {
	if err := s.store.SoftDelete(ctx, ownerID, credentialID); err != nil {
		return err
	}
	s.logger.Info("credential deleted", "credential_id", credentialID)
	return nil
}

// LoginInput returns the automation login input stored for a provider, or
// nil when none is stored. It is kept as a JSON object under LoginKeyType.
func (s *VaultService) LoginInput(ctx context.Context, ownerID, providerID string) (map[string]string, error) {
	cred, err := s.store.FindByKey(ctx, ownerID, providerID, model.LoginKeyType, "")
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, nil
	}

	plaintext, err := s.cipher.Open(ownerID, cred.EncryptedValue)
	if err != nil {
		return nil, fmt.Errorf("open login for %s: %w", providerID, err)
	}

	var login map[string]string
	if err := json.Unmarshal(plaintext, &login); err != nil {
		return nil, model.Invalid("login", fmt.Sprintf("stored login for %s is not a JSON object", providerID))
	}
	return login, nil
}

func (s *VaultService) providerName(providerID string) string {
	if s.catalog != nil {
		if p, ok := s.catalog.Provider(providerID); ok {
			return p.Name
		}
	}
	return providerID
}
