// Package automation talks to the external runner that drives provider
// dashboards and returns freshly issued credentials.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.ProviderAutomation = (*Client)(nil)
	_ driven.ProviderAutomation = Unconfigured{}
)

// ErrNotConfigured is returned by Unconfigured for every attempt.
var ErrNotConfigured = errors.New("no automation runner configured")

const maxResponseBytes = 1 << 20

type attemptRequest struct {
	ProviderID string            `json:"provider_id"`
	LoginInput map[string]string `json:"login_input,omitempty"`
	ProxyURL   string            `json:"proxy_url,omitempty"`
}

type attemptResponse struct {
	Credentials []struct {
		KeyType string `json:"key_type"`
		Label   string `json:"label"`
		Value   string `json:"value"`
	} `json:"credentials"`
	Reason string `json:"reason"`
}

// Client implements driven.ProviderAutomation over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the runner at baseURL. A nil httpClient
// means http.DefaultClient; per-attempt deadlines come from the context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Attempt asks the runner for one provider login. Secrets travel only in
// the request and response bodies and never appear in returned errors.
func (c *Client) Attempt(ctx context.Context, providerID string, login map[string]string, p *model.ProxyEntry) ([]model.FetchedCredential, error) {
	body := attemptRequest{ProviderID: providerID, LoginInput: login}
	if p != nil {
		body.ProxyURL = p.URL().String()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode attempt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/attempts", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build attempt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call automation runner: %w", err)
	}
	defer resp.Body.Close()

	var out attemptResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := out.Reason
		if reason == "" {
			reason = resp.Status
		}
		return nil, fmt.Errorf("automation runner refused %s: %s", providerID, reason)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode attempt response: %w", decodeErr)
	}

	creds := make([]model.FetchedCredential, 0, len(out.Credentials))
	for _, c := range out.Credentials {
		if c.KeyType == "" || c.Value == "" {
			continue
		}
		creds = append(creds, model.FetchedCredential{KeyType: c.KeyType, Label: c.Label, Value: c.Value})
	}
	return creds, nil
}

// Unconfigured fails every attempt with ErrNotConfigured.
type Unconfigured struct{}

// Attempt always fails.
func (Unconfigured) Attempt(_ context.Context, providerID string, _ map[string]string, _ *model.ProxyEntry) ([]model.FetchedCredential, error) {
	return nil, fmt.Errorf("%s: %w", providerID, ErrNotConfigured)
}
