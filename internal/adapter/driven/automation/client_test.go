package automation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/keyfetch/internal/adapter/driven/automation"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

func TestAttempt_Success(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/attempts", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"credentials":[{"key_type":"api_key","label":"","value":"sk-new"},{"key_type":"org_id","value":"org-1"},{"key_type":"","value":"dropped"}]}`))
	}))
	t.Cleanup(srv.Close)

	proxy := &model.ProxyEntry{Protocol: model.ProxySOCKS5, Host: "10.0.0.5", Port: 1080, Username: "u", Password: "p"}
	creds, err := automation.NewClient(srv.URL+"/", nil).Attempt(context.Background(), "openai", map[string]string{"email": "a@b.c"}, proxy)
	require.NoError(t, err)

	assert.Equal(t, []model.FetchedCredential{
		{KeyType: "api_key", Value: "sk-new"},
		{KeyType: "org_id", Value: "org-1"},
	}, creds)

	got := <-bodies
	assert.Equal(t, "openai", got["provider_id"])
	assert.Equal(t, "socks5://u:p@10.0.0.5:1080", got["proxy_url"])
	assert.Equal(t, map[string]any{"email": "a@b.c"}, got["login_input"])
}

func TestAttempt_RunnerRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"reason":"two-factor prompt"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := automation.NewClient(srv.URL, nil).Attempt(context.Background(), "stripe", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "two-factor prompt")
}

func TestAttempt_RunnerErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := automation.NewClient(srv.URL, nil).Attempt(context.Background(), "stripe", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestUnconfigured(t *testing.T) {
	_, err := automation.Unconfigured{}.Attempt(context.Background(), "openai", nil, nil)
	assert.ErrorIs(t, err, automation.ErrNotConfigured)
}
