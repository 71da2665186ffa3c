// Package github verifies fetched GitHub tokens against the GitHub REST API
// using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialVerifier = (*Verifier)(nil)

// ErrTokenRejected means GitHub refused the token.
var ErrTokenRejected = errors.New("github rejected token")

const (
	providerID = "github"
	keyType    = "token"
)

// Verifier implements driven.CredentialVerifier for GitHub personal access
// tokens by resolving the authenticated user.
type Verifier struct {
	gh     *gh.Client
	logger *slog.Logger
}

// NewVerifier creates a Verifier with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client; auth is applied per verification)
func NewVerifier(logger *slog.Logger) *Verifier {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)

	return &Verifier{
		gh:     gh.NewClient(rateLimitClient),
		logger: logger,
	}
}

// NewVerifierWithHTTPClient creates a Verifier with a custom http.Client and
// base URL, for GitHub Enterprise API endpoints and httptest servers.
func NewVerifierWithHTTPClient(httpClient *http.Client, baseURL string, logger *slog.Logger) (*Verifier, error) {
	client := gh.NewClient(httpClient)

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Verifier{gh: client, logger: logger}, nil
}

// Supports reports whether the credential is a GitHub token.
func (v *Verifier) Supports(provider, kind string) bool {
	return provider == providerID && kind == keyType
}

// Verify calls GET /user with the token. A 401 or 403 yields ErrTokenRejected.
func (v *Verifier) Verify(ctx context.Context, cred model.FetchedCredential) error {
	if cred.Value == "" {
		return fmt.Errorf("empty token: %w", ErrTokenRejected)
	}

	user, resp, err := v.gh.WithAuthToken(cred.Value).Users.Get(ctx, "")
	v.logRateLimit(resp)

	if err != nil {
		var ghErr *gh.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil {
			switch ghErr.Response.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return fmt.Errorf("%w: %s", ErrTokenRejected, ghErr.Message)
			}
		}
		return fmt.Errorf("resolving github user: %w", err)
	}

	v.logger.Debug("github token verified", "login", user.GetLogin())
	return nil
}

func (v *Verifier) logRateLimit(resp *gh.Response) {
	if resp == nil {
		return
	}

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		v.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}
