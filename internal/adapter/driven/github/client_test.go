package github_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghAdapter "github.com/ericfisherdev/keyfetch/internal/adapter/driven/github"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// newTestVerifier creates a Verifier backed by the given httptest handler.
func newTestVerifier(t *testing.T, handler http.Handler) *ghAdapter.Verifier {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	v, err := ghAdapter.NewVerifierWithHTTPClient(
		server.Client(),
		server.URL+"/",
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	require.NoError(t, err)
	return v
}

func userHandler(validToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer "+validToken {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"Bad credentials"}`)
			return
		}
		fmt.Fprint(w, `{"login":"octocat","id":1}`)
	})
	return mux
}

func TestVerify_ValidToken(t *testing.T) {
	v := newTestVerifier(t, userHandler("ghp_good"))

	err := v.Verify(context.Background(), model.FetchedCredential{KeyType: "token", Value: "ghp_good"})
	assert.NoError(t, err)
}

func TestVerify_RejectedToken(t *testing.T) {
	v := newTestVerifier(t, userHandler("ghp_good"))

	err := v.Verify(context.Background(), model.FetchedCredential{KeyType: "token", Value: "ghp_bad"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ghAdapter.ErrTokenRejected)
	assert.Contains(t, err.Error(), "Bad credentials")
}

func TestVerify_ServerError(t *testing.T) {
	v := newTestVerifier(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := v.Verify(context.Background(), model.FetchedCredential{KeyType: "token", Value: "ghp_any"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ghAdapter.ErrTokenRejected)
}

func TestVerify_EmptyToken(t *testing.T) {
	v := newTestVerifier(t, userHandler("x"))
	assert.ErrorIs(t, v.Verify(context.Background(), model.FetchedCredential{}), ghAdapter.ErrTokenRejected)
}

func TestSupports(t *testing.T) {
	v := ghAdapter.NewVerifier(slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.True(t, v.Supports("github", "token"))
	assert.False(t, v.Supports("github", "login"))
	assert.False(t, v.Supports("openai", "token"))
}
