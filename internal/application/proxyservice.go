package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/catalog"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// DefaultFailThreshold is how many consecutive failed tests mark a proxy unhealthy.
const DefaultFailThreshold = 3

// defaultProbeTimeout bounds a single live proxy test.
const defaultProbeTimeout = 20 * time.Second

// AddProxyInput describes a proxy to add to an owner's pool.
type AddProxyInput struct {
	Label    string
	Protocol model.ProxyProtocol
	Host     string
	Port     int
	Username string
	Password string
	Type     model.ProxyType
	Country  string
	City     string
}

// ProxyService manages per-owner proxy pools: membership, live health
// tests, and selection for provider attempts.
type ProxyService struct {
	store         driven.ProxyStore
	prober        driven.ProxyProber
	catalog       *catalog.Catalog
	fallback      *model.ProxyEntry
	failThreshold int
	logger        *slog.Logger
	now           func() time.Time

	// selectMu serializes selection so that concurrent callers observe each
	// other's last-used stamps.
	selectMu sync.Mutex
}

// NewProxyService creates a new ProxyService. fallback is the legacy single
// proxy used when a pool yields nothing; it may be nil. A non-positive
// failThreshold means DefaultFailThreshold.
func NewProxyService(
	store driven.ProxyStore,
	prober driven.ProxyProber,
	cat *catalog.Catalog,
	fallback *model.ProxyEntry,
	failThreshold int,
	logger *slog.Logger,
) *ProxyService {
	if failThreshold <= 0 {
		failThreshold = DefaultFailThreshold
	}
	return &ProxyService{
		store:         store,
		prober:        prober,
		catalog:       cat,
		fallback:      fallback,
		failThreshold: failThreshold,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *ProxyService) WithClock(now func() time.Time) *ProxyService {
	s.now = now
	return s
}

// Add validates and stores a new proxy. New proxies start healthy and untested.
func (s *ProxyService) Add(ctx context.Context, ownerID string, in AddProxyInput) (*model.ProxyEntry, error) {
	if in.Protocol == "" {
		in.Protocol = model.ProxyHTTP
	}
	if in.Type == "" {
		in.Type = model.ProxyDatacenter
	}

	switch {
	case ownerID == "":
		return nil, model.Invalid("ownerId", "required")
	case strings.TrimSpace(in.Host) == "":
		return nil, model.Invalid("host", "required")
	case in.Port < 1 || in.Port > 65535:
		return nil, model.Invalid("port", "must be between 1 and 65535")
	case !in.Protocol.Valid():
		return nil, model.Invalid("protocol", "must be http, https or socks5")
	case !in.Type.Valid():
		return nil, model.Invalid("type", "must be residential, datacenter, mobile or isp")
	}

	p := model.ProxyEntry{
		ID:        newID(),
		OwnerID:   ownerID,
		Label:     strings.TrimSpace(in.Label),
		Protocol:  in.Protocol,
		Host:      strings.TrimSpace(in.Host),
		Port:      in.Port,
		Username:  in.Username,
		Password:  in.Password,
		Type:      in.Type,
		Country:   strings.ToUpper(strings.TrimSpace(in.Country)),
		City:      strings.TrimSpace(in.City),
		Healthy:   true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Add(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("proxy added", "proxy_id", p.ID, "address", p.Address(), "type", p.Type)
	return &p, nil
}

// AddFromURL parses rawURL with ParseProxyURL and adds the result.
func (s *ProxyService) AddFromURL(ctx context.Context, ownerID, rawURL, label string, proxyType model.ProxyType) (*model.ProxyEntry, error) {
	parsed, err := ParseProxyURL(rawURL)
	if err != nil {
		return nil, err
	}
	return s.Add(ctx, ownerID, AddProxyInput{
		Label:    label,
		Protocol: parsed.Protocol,
		Host:     parsed.Host,
		Port:     parsed.Port,
		Username: parsed.Username,
		Password: parsed.Password,
		Type:     proxyType,
	})
}

// ImportFailure reports one line of a bulk import that could not be added.
type ImportFailure struct {
	Line   int
	Reason string
}

// Import adds one proxy per line of text, in any shape ParseProxyURL
// accepts. Blank lines and lines starting with # are ignored. Lines that do
// not parse are reported as failures and do not stop the import; a storage
// error does.
func (s *ProxyService) Import(ctx context.Context, ownerID, text string, proxyType model.ProxyType) ([]model.ProxyEntry, []ImportFailure, error) {
	var (
		added    []model.ProxyEntry
		failures []ImportFailure
	)
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := s.AddFromURL(ctx, ownerID, line, "", proxyType)
		if err != nil {
			if model.IsValidation(err) {
				failures = append(failures, ImportFailure{Line: i + 1, Reason: err.Error()})
				continue
			}
			return added, failures, fmt.Errorf("import proxy on line %d: %w", i+1, err)
		}
		added = append(added, *p)
	}

	s.logger.Info("proxies imported", "owner_id", ownerID, "added", len(added), "rejected", len(failures))
	return added, failures, nil
}

// Remove deletes a proxy from an owner's pool.
func (s *ProxyService) Remove(ctx context.Context, ownerID, id string) error {
	if err := s.store.Remove(ctx, ownerID, id); err != nil {
		return err
	}
	s.logger.Info("proxy removed", "proxy_id", id)
	return nil
}

// List returns an owner's proxies.
func (s *ProxyService) List(ctx context.Context, ownerID string) ([]model.ProxyEntry, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

// Test probes a proxy live and records the outcome against its health counters.
func (s *ProxyService) Test(ctx context.Context, ownerID, id string) (*model.ProxyTestResult, error) {
	p, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	result, err := s.prober.Probe(probeCtx, *p)
	if err != nil {
		result = model.ProxyTestResult{Healthy: false, Error: err.Error()}
	}
	result.TestedAt = s.now().UTC()

	updated, err := s.store.RecordTest(ctx, p.ID, result, s.failThreshold)
	if err != nil {
		return nil, err
	}

	s.logger.Info("proxy tested",
		"proxy_id", p.ID,
		"healthy", result.Healthy,
		"latency_ms", result.LatencyMs,
		"consecutive_failures", updated.ConsecutiveFailures,
		"pool_healthy", updated.Healthy,
	)
	return &result, nil
}

// Select picks a proxy for a provider attempt using the provider's catalog
// requirement.
func (s *ProxyService) Select(ctx context.Context, ownerID, providerID string) (*model.ProxyEntry, error) {
	var req model.ProxyRequirement
	if s.catalog != nil {
		req = s.catalog.Requirement(providerID)
	}

	p, err := s.SelectFor(ctx, ownerID, req)
	if errors.Is(err, model.ErrProxyUnavailable) {
		return nil, fmt.Errorf("provider %s: %w", providerID, err)
	}
	return p, err
}

// SelectFor returns the healthy proxy of an allowed type and matching
// country with the best latency, breaking ties by least recent use. If
// nothing matches, the legacy fallback proxy is returned when configured.
// Otherwise the result is nil, or model.ErrProxyUnavailable if req.Required.
func (s *ProxyService) SelectFor(ctx context.Context, ownerID string, req model.ProxyRequirement) (*model.ProxyEntry, error) {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	pool, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	candidates := make([]model.ProxyEntry, 0, len(pool))
	for _, p := range pool {
		if !p.Healthy || !req.Allows(p.Type) {
			continue
		}
		if req.Country != "" && !strings.EqualFold(req.Country, p.Country) {
			continue
		}
		candidates = append(candidates, p)
	}

	if len(candidates) == 0 {
		if s.fallback != nil {
			fb := *s.fallback
			return &fb, nil
		}
		if req.Required {
			return nil, model.ErrProxyUnavailable
		}
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return betterProxy(candidates[i], candidates[j])
	})

	chosen := candidates[0]
	now := s.now().UTC()
	if err := s.store.MarkUsed(ctx, chosen.ID, now); err != nil {
		return nil, err
	}
	chosen.LastUsedAt = &now
	return &chosen, nil
}

// betterProxy orders by known latency ascending (unknown last), then by
// last use ascending (never used first).
func betterProxy(a, b model.ProxyEntry) bool {
	switch {
	case a.LatencyMs != nil && b.LatencyMs == nil:
		return true
	case a.LatencyMs == nil && b.LatencyMs != nil:
		return false
	case a.LatencyMs != nil && *a.LatencyMs != *b.LatencyMs:
		return *a.LatencyMs < *b.LatencyMs
	}

	switch {
	case a.LastUsedAt == nil && b.LastUsedAt != nil:
		return true
	case a.LastUsedAt != nil && b.LastUsedAt == nil:
		return false
	case a.LastUsedAt != nil && b.LastUsedAt != nil:
		return a.LastUsedAt.Before(*b.LastUsedAt)
	}
	return false
}

// RecommendedProviders returns the static list of recommended proxy vendors.
func (s *ProxyService) RecommendedProviders() []catalog.ProxyVendor {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.RecommendedVendors()
}

// Requirements returns a provider's catalog entry, including its proxy needs.
func (s *ProxyService) Requirements(providerID string) (*catalog.Provider, error) {
	if s.catalog == nil {
		return nil, model.NotFound("provider", providerID)
	}
	p, ok := s.catalog.Provider(providerID)
	if !ok {
		return nil, model.NotFound("provider", providerID)
	}
	return &p, nil
}

// Providers lists every provider in the catalog.
func (s *ProxyService) Providers() []catalog.Provider {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Providers()
}

// ParseFallbackProxy turns the legacy single-proxy setting into a pool entry
// usable by SelectFor. An empty string returns nil, nil.
func ParseFallbackProxy(raw string) (*model.ProxyEntry, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parsed, err := ParseProxyURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse fallback proxy: %w", err)
	}
	return &model.ProxyEntry{
		ID:       "fallback",
		Label:    "legacy fallback",
		Protocol: parsed.Protocol,
		Host:     parsed.Host,
		Port:     parsed.Port,
		Username: parsed.Username,
		Password: parsed.Password,
		Type:     model.ProxyDatacenter,
		Healthy:  true,
	}, nil
}
