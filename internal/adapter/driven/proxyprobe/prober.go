// Package proxyprobe tests egress proxies live by fetching a geo-IP
// endpoint through them.
package proxyprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProxyProber = (*Prober)(nil)

// DefaultGeoURL answers with the caller's IP, country and city.
const DefaultGeoURL = "http://ip-api.com/json"

const maxBodyBytes = 64 << 10

// geoResponse covers the common shapes of geo-IP services.
type geoResponse struct {
	Query       string `json:"query"`
	IP          string `json:"ip"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	City        string `json:"city"`
}

// Prober implements driven.ProxyProber.
type Prober struct {
	geoURL string
	now    func() time.Time
}

// New creates a Prober. An empty geoURL means DefaultGeoURL.
func New(geoURL string) *Prober {
	if geoURL == "" {
		geoURL = DefaultGeoURL
	}
	return &Prober{geoURL: geoURL, now: time.Now}
}

// Probe fetches the geo endpoint through p. A transport or status failure
// is reported as an unhealthy result, not an error. Errors are returned
// only for proxies that cannot be dialed at all.
func (pr *Prober) Probe(ctx context.Context, p model.ProxyEntry) (model.ProxyTestResult, error) {
	transport, err := transportFor(p)
	if err != nil {
		return model.ProxyTestResult{}, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pr.geoURL, nil)
	if err != nil {
		return model.ProxyTestResult{}, fmt.Errorf("build probe request: %w", err)
	}

	start := pr.now()
	resp, err := client.Do(req)
	if err != nil {
		return unhealthy(err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unhealthy(fmt.Errorf("geo endpoint returned %s", resp.Status)), nil
	}

	var geo geoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&geo); err != nil {
		return unhealthy(fmt.Errorf("decode geo response: %w", err)), nil
	}
	latency := pr.now().Sub(start)

	result := model.ProxyTestResult{
		Healthy:    true,
		ExternalIP: geo.Query,
		Country:    geo.CountryCode,
		City:       geo.City,
		LatencyMs:  int(latency.Milliseconds()),
	}
	if result.ExternalIP == "" {
		result.ExternalIP = geo.IP
	}
	if result.Country == "" {
		result.Country = geo.Country
	}
	return result, nil
}

func unhealthy(err error) model.ProxyTestResult {
	return model.ProxyTestResult{Healthy: false, Error: err.Error()}
}

// transportFor routes requests through p. http and https proxies use the
// standard CONNECT flow; socks5 dials through golang.org/x/net/proxy.
func transportFor(p model.ProxyEntry) (*http.Transport, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.Proxy = nil

	switch p.Protocol {
	case model.ProxyHTTP, model.ProxyHTTPS:
		base.Proxy = http.ProxyURL(p.URL())
		return base, nil

	case model.ProxySOCKS5:
		var auth *proxy.Auth
		if p.Username != "" {
			auth = &proxy.Auth{User: p.Username, Password: p.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", p.Address(), auth, &net.Dialer{Timeout: 10 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer for %s: %w", p.Address(), err)
		}
		ctxDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks5 dialer does not support contexts")
		}
		base.DialContext = ctxDialer.DialContext
		return base, nil

	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", p.Protocol)
	}
}
