package model

import (
	"encoding/base64"
	"fmt"
	"time"
)

// ChangeType classifies a credential history entry.
type ChangeType string

const (
	ChangeTypeCreated      ChangeType = "created"
	ChangeTypeRotated      ChangeType = "rotated"
	ChangeTypeManualUpdate ChangeType = "manual_update"
	ChangeTypeRollback     ChangeType = "rollback"
)

// Valid reports whether c is one of the known change types.
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeTypeCreated, ChangeTypeRotated, ChangeTypeManualUpdate, ChangeTypeRollback:
		return true
	}
	return false
}

// AllChangeTypes lists change types in the order summaries report them.
var AllChangeTypes = []ChangeType{
	ChangeTypeCreated,
	ChangeTypeRotated,
	ChangeTypeManualUpdate,
	ChangeTypeRollback,
}

// EncryptedValue is an AES-GCM sealed secret. The three parts are kept
// separate in memory and concatenated as nonce||ciphertext||tag on disk.
type EncryptedValue struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// gcmNonceSize and gcmTagSize are the standard AES-GCM sizes.
const (
	gcmNonceSize = 12
	gcmTagSize   = 16
)

// Encode returns the base64 form stored in the database.
func (v EncryptedValue) Encode() string {
	buf := make([]byte, 0, len(v.Nonce)+len(v.Ciphertext)+len(v.Tag))
	buf = append(buf, v.Nonce...)
	buf = append(buf, v.Ciphertext...)
	buf = append(buf, v.Tag...)
	return base64.StdEncoding.EncodeToString(buf)
}

// IsZero reports whether no value has been set.
func (v EncryptedValue) IsZero() bool {
	return len(v.Nonce) == 0 && len(v.Ciphertext) == 0 && len(v.Tag) == 0
}

// DecodeEncryptedValue parses the stored base64 form produced by Encode.
func DecodeEncryptedValue(encoded string) (EncryptedValue, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("decode encrypted value: %w", err)
	}
	if len(raw) < gcmNonceSize+gcmTagSize {
		return EncryptedValue{}, fmt.Errorf("encrypted value too short (%d bytes): %w", len(raw), ErrDecryption)
	}
	return EncryptedValue{
		Nonce:      raw[:gcmNonceSize],
		Ciphertext: raw[gcmNonceSize : len(raw)-gcmTagSize],
		Tag:        raw[len(raw)-gcmTagSize:],
	}, nil
}

// Credential is a secret retrieved from a provider and stored in the vault.
// The natural key is (OwnerID, ProviderID, KeyType, KeyLabel) among live rows.
type Credential struct {
	ID             string
	OwnerID        string
	ProviderID     string
	ProviderName   string
	KeyType        string
	KeyLabel       string // Optional; empty when the provider issues a single key of this type.
	EncryptedValue EncryptedValue
	Version        int // Starts at 1 and increases by exactly 1 per value change.
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// CredentialHistoryEntry is an append-only record of a credential change.
type CredentialHistoryEntry struct {
	ID                string
	CredentialID      string
	ChangeType        ChangeType
	EncryptedSnapshot EncryptedValue
	SnapshotNote      string
	CreatedAt         time.Time
}

// ExportRecord is one decrypted credential as written by vault exports.
type ExportRecord struct {
	Provider  string    `json:"provider"`
	KeyType   string    `json:"keyType"`
	Label     string    `json:"label"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExportFormat selects the serialization used by vault exports.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportEnv  ExportFormat = "env"
	ExportCSV  ExportFormat = "csv"
)

// LoginKeyType is the key type under which provider login input is stored.
// Its plaintext is a JSON object handed to the automation runner.
const LoginKeyType = "login"
