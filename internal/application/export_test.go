package application_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/keyfetch/internal/application"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

func TestParseExportFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    model.ExportFormat
		wantErr bool
	}{
		{"", model.ExportJSON, false},
		{"json", model.ExportJSON, false},
		{"ENV", model.ExportEnv, false},
		{" csv ", model.ExportCSV, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := application.ParseExportFormat(tt.in)
			if tt.wantErr {
				assert.True(t, model.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func exportRecords() []model.ExportRecord {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []model.ExportRecord{
		{Provider: "openai", KeyType: "api_key", Value: "sk-abc", CreatedAt: created},
		{Provider: "google_cloud", KeyType: "api_key", Label: "prod-east", Value: "it's,quoted", CreatedAt: created},
	}
}

func TestEncodeExport_Env(t *testing.T) {
	out, err := application.EncodeExport(exportRecords(), model.ExportEnv)
	require.NoError(t, err)

	assert.Equal(t,
		"OPENAI_API_KEY='sk-abc'\n"+
			"GOOGLE_CLOUD_API_KEY_PROD_EAST='it'\\''s,quoted'\n",
		string(out))
}

func TestEncodeExport_CSV(t *testing.T) {
	out, err := application.EncodeExport(exportRecords(), model.ExportCSV)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "provider,keyType,label,value,createdAt", lines[0])
	assert.Equal(t, "openai,api_key,,sk-abc,2026-01-02T03:04:05Z", lines[1])
	assert.Equal(t, `google_cloud,api_key,prod-east,"it's,quoted",2026-01-02T03:04:05Z`, lines[2])
}

func TestEncodeExport_JSON(t *testing.T) {
	out, err := application.EncodeExport(exportRecords(), model.ExportJSON)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "openai", decoded[0]["provider"])
	assert.Equal(t, "prod-east", decoded[1]["label"])
	assert.Equal(t, "2026-01-02T03:04:05Z", decoded[0]["createdAt"])

	empty, err := application.EncodeExport(nil, model.ExportJSON)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(empty))
}

func TestVaultExport_DecryptsLiveCredentials(t *testing.T) {
	ctx := context.Background()
	svc, _ := newVault(t)

	_, err := svc.Put(ctx, owner, application.PutInput{ProviderID: "openai", KeyType: "api_key", Value: "sk-live"})
	require.NoError(t, err)
	_, err = svc.Put(ctx, "other-owner", application.PutInput{ProviderID: "openai", KeyType: "api_key", Value: "foreign"})
	require.NoError(t, err)

	out, err := svc.Export(ctx, owner, model.ExportEnv)
	require.NoError(t, err)
	assert.Equal(t, "OPENAI_API_KEY='sk-live'\n", string(out))
}
