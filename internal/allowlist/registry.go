// Package allowlist maintains the registry of official legal-source domains
// per jurisdiction. The registry backs two distinct concerns: validating the
// provenance of every citation in a structured answer, and scoping the hosted
// web-search tool to official sources only.
package allowlist

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dossier-io/dossier/patterns"
)

// Entry describes one official domain and its authority metadata.
type Entry struct {
	Domain        string   `yaml:"domain"`
	Jurisdictions []string `yaml:"jurisdictions"`
	Zone          string   `yaml:"zone"`     // residency zone: EU, CH, CA, OHADA
	Language      string   `yaml:"language"` // authoritative publication language
	CaseLaw       bool     `yaml:"case_law"` // domain primarily publishes jurisprudence
}

// Registry resolves hosts to official-domain entries. Read-mostly reference
// data; implementations must be safe for concurrent readers.
type Registry interface {
	// Lookup resolves a normalized host (lowercase, no "www." prefix) to its
	// registry entry. Subdomain lookups resolve to their parent domain entry.
	Lookup(host string) (Entry, bool)
	// Domains returns all registered domains in deterministic order.
	Domains() []string
	// DomainsFor returns the domains authoritative for a jurisdiction code.
	DomainsFor(jurisdiction string) []string
}

type registryFile struct {
	Domains []Entry `yaml:"domains"`
}

// InMemoryRegistry is the standard Registry backed by a static entry set.
type InMemoryRegistry struct {
	byDomain map[string]Entry
	ordered  []string
}

// NewDefaultRegistry loads the embedded official-domain registry.
func NewDefaultRegistry() (*InMemoryRegistry, error) {
	return NewRegistryFromYAML(patterns.AllowlistDomainsYAML())
}

// NewRegistryFromYAML parses a registry definition in the embedded format.
func NewRegistryFromYAML(raw []byte) (*InMemoryRegistry, error) {
	var f registryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing allowlist registry: %w", err)
	}
	if len(f.Domains) == 0 {
		return nil, fmt.Errorf("allowlist registry is empty")
	}
	return NewRegistry(f.Domains), nil
}

// NewRegistry builds a registry from explicit entries (test doubles, overrides).
func NewRegistry(entries []Entry) *InMemoryRegistry {
	r := &InMemoryRegistry{byDomain: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		domain := strings.ToLower(strings.TrimPrefix(e.Domain, "www."))
		if domain == "" {
			continue
		}
		e.Domain = domain
		if _, dup := r.byDomain[domain]; !dup {
			r.ordered = append(r.ordered, domain)
		}
		r.byDomain[domain] = e
	}
	sort.Strings(r.ordered)
	return r
}

// Lookup implements Registry. A host matches either exactly or as a subdomain
// of a registered domain (e.g. "www.courdecassation.fr" and
// "juricaf.courdecassation.fr" both resolve to "courdecassation.fr").
func (r *InMemoryRegistry) Lookup(host string) (Entry, bool) {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	if host == "" {
		return Entry{}, false
	}
	if e, ok := r.byDomain[host]; ok {
		return e, true
	}
	for i := strings.IndexByte(host, '.'); i >= 0; i = strings.IndexByte(host, '.') {
		host = host[i+1:]
		if e, ok := r.byDomain[host]; ok {
			return e, true
		}
	}
	return Entry{}, false
}

// Domains implements Registry.
func (r *InMemoryRegistry) Domains() []string {
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// DomainsFor implements Registry.
func (r *InMemoryRegistry) DomainsFor(jurisdiction string) []string {
	var out []string
	for _, d := range r.ordered {
		for _, j := range r.byDomain[d].Jurisdictions {
			if j == jurisdiction {
				out = append(out, d)
				break
			}
		}
	}
	return out
}
