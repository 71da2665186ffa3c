// Package catalog holds the data-driven provider table: which providers
// exist, what key types they return, and what egress proxy each requires.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

//go:embed providers.yaml
var defaultCatalog []byte

// Provider describes one credential provider.
type Provider struct {
	ID       string                 `yaml:"-" json:"id"`
	Name     string                 `yaml:"name" json:"name"`
	KeyTypes []string               `yaml:"key_types" json:"keyTypes"`
	Proxy    model.ProxyRequirement `yaml:"proxy" json:"proxy"`
}

// ProxyVendor is a recommended commercial proxy source.
type ProxyVendor struct {
	Name  string            `yaml:"name" json:"name"`
	URL   string            `yaml:"url" json:"url"`
	Types []model.ProxyType `yaml:"types" json:"types"`
	Notes string            `yaml:"notes" json:"notes"`
}

type file struct {
	Providers   map[string]Provider `yaml:"providers"`
	Recommended []ProxyVendor       `yaml:"recommended_proxy_vendors"`
}

// Catalog is an immutable, in-memory provider table.
type Catalog struct {
	providers   map[string]Provider
	recommended []ProxyVendor
}

// Load parses the embedded catalog and, when overridePath is non-empty,
// merges the providers and vendors defined in that file on top of it.
func Load(overridePath string) (*Catalog, error) {
	base, err := parse(defaultCatalog)
	if err != nil {
		return nil, fmt.Errorf("parse embedded catalog: %w", err)
	}

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read provider catalog %q: %w", overridePath, err)
		}
		extra, err := parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse provider catalog %q: %w", overridePath, err)
		}
		for id, p := range extra.Providers {
			base.Providers[id] = p
		}
		if len(extra.Recommended) > 0 {
			base.Recommended = extra.Recommended
		}
	}

	c := &Catalog{providers: make(map[string]Provider, len(base.Providers)), recommended: base.Recommended}
	for id, p := range base.Providers {
		p.ID = id
		if p.Name == "" {
			p.Name = id
		}
		for _, t := range p.Proxy.Types {
			if !t.Valid() {
				return nil, fmt.Errorf("provider %s: unknown proxy type %q", id, t)
			}
		}
		c.providers[id] = p
	}
	return c, nil
}

// MustDefault returns the embedded catalog and panics if it cannot be parsed.
func MustDefault() *Catalog {
	c, err := Load("")
	if err != nil {
		panic(err)
	}
	return c
}

func parse(data []byte) (*file, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Providers == nil {
		f.Providers = make(map[string]Provider)
	}
	return &f, nil
}

// Provider returns the provider with the given id.
func (c *Catalog) Provider(id string) (Provider, bool) {
	p, ok := c.providers[id]
	return p, ok
}

// Known reports whether id is in the catalog.
func (c *Catalog) Known(id string) bool {
	_, ok := c.providers[id]
	return ok
}

// Requirement returns the proxy requirement for a provider. Unknown
// providers have no requirement.
func (c *Catalog) Requirement(id string) model.ProxyRequirement {
	return c.providers[id].Proxy
}

// Providers returns all providers sorted by id.
func (c *Catalog) Providers() []Provider {
	out := make([]Provider, 0, len(c.providers))
	for _, p := range c.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecommendedVendors returns the static list of recommended proxy vendors.
func (c *Catalog) RecommendedVendors() []ProxyVendor {
	out := make([]ProxyVendor, len(c.recommended))
	copy(out, c.recommended)
	return out
}
