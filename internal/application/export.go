package application

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// csvHeader is the fixed column order of CSV exports.
var csvHeader = []string{"provider", "keyType", "label", "value", "createdAt"}

// ParseExportFormat validates a user supplied format name.
func ParseExportFormat(s string) (model.ExportFormat, error) {
	switch f := model.ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case model.ExportJSON, model.ExportEnv, model.ExportCSV:
		return f, nil
	case "":
		return model.ExportJSON, nil
	default:
		return "", model.Invalid("format", "must be json, env or csv")
	}
}

// Export decrypts every live credential of an owner and serializes them in
// the requested format. Any decryption failure aborts the export.
func (s *VaultService) Export(ctx context.Context, ownerID string, format model.ExportFormat) ([]byte, error) {
	creds, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	records := make([]model.ExportRecord, 0, len(creds))
	for _, c := range creds {
		plaintext, err := s.cipher.Open(ownerID, c.EncryptedValue)
		if err != nil {
			return nil, fmt.Errorf("export credential %q: %w", c.ID, err)
		}
		records = append(records, model.ExportRecord{
			Provider:  c.ProviderID,
			KeyType:   c.KeyType,
			Label:     c.KeyLabel,
			Value:     string(plaintext),
			CreatedAt: c.CreatedAt,
		})
	}

	s.logger.Info("vault exported", "format", format, "credentials", len(records))
	return EncodeExport(records, format)
}

// EncodeExport serializes records without touching the vault.
func EncodeExport(records []model.ExportRecord, format model.ExportFormat) ([]byte, error) {
	switch format {
	case model.ExportJSON:
		if records == nil {
			records = []model.ExportRecord{}
		}
		b, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json export: %w", err)
		}
		return append(b, '\n'), nil
	case model.ExportEnv:
		return encodeEnv(records), nil
	case model.ExportCSV:
		return encodeCSV(records)
	default:
		return nil, model.Invalid("format", fmt.Sprintf("unsupported export format %q", format))
	}
}

func encodeEnv(records []model.ExportRecord) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		parts := []string{r.Provider, r.KeyType}
		if r.Label != "" {
			parts = append(parts, r.Label)
		}
		fmt.Fprintf(&buf, "%s=%s\n", envName(parts...), shellQuote(r.Value))
	}
	return buf.Bytes()
}

// envName joins parts into an upper snake case variable name.
func envName(parts ...string) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteByte('_')
		}
		for _, r := range part {
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
				b.WriteRune(unicode.ToUpper(r))
			} else {
				b.WriteByte('_')
			}
		}
	}

	name := b.String()
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

// shellQuote wraps v in single quotes, escaping embedded single quotes.
func shellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

func encodeCSV(records []model.ExportRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{r.Provider, r.KeyType, r.Label, r.Value, r.CreatedAt.UTC().Format(time.RFC3339)}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
