package model

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// ProxyEntry is an egress proxy in an owner's pool.
type ProxyEntry struct {
	ID                  string
	OwnerID             string
	Label               string
	Protocol            ProxyProtocol
	Host                string
	Port                int
	Username            string
	Password            string
	Type                ProxyType
	Country             string
	City                string
	Healthy             bool
	LatencyMs           *int
	SuccessCount        int
	FailCount           int
	ConsecutiveFailures int
	ExternalIP          string
	LastTestedAt        *time.Time
	LastUsedAt          *time.Time
	CreatedAt           time.Time
}

// Address returns host:port.
func (p ProxyEntry) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL returns the proxy as a URL including credentials when present.
func (p ProxyEntry) URL() *url.URL {
	u := &url.URL{Scheme: string(p.Protocol), Host: p.Address()}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// ProxyRequirement describes what a provider needs from an egress proxy.
type ProxyRequirement struct {
	Required bool        `yaml:"required" json:"required"`
	Types    []ProxyType `yaml:"types" json:"types"`     // Empty means any type.
	Country  string      `yaml:"country" json:"country"` // Empty means any country.
}

// Allows reports whether the proxy type is acceptable.
func (r ProxyRequirement) Allows(t ProxyType) bool {
	if len(r.Types) == 0 {
		return true
	}
	for _, allowed := range r.Types {
		if allowed == t {
			return true
		}
	}
	return false
}

// ProxyTestResult is the outcome of a live proxy probe.
type ProxyTestResult struct {
	Healthy    bool
	ExternalIP string
	Country    string
	City       string
	LatencyMs  int
	Error      string
	TestedAt   time.Time
}
