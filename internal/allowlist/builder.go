package allowlist

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultMaxDomains bounds the domain list passed to the hosted web-search
// tool. Hosted search providers cap the allowed-domains parameter; anything
// beyond the cap must be dropped observably, never silently.
const DefaultMaxDomains = 20

// TruncationDiag reports a domain list that was cut to fit the maximum.
type TruncationDiag struct {
	TruncatedCount int    `json:"truncated_count"`
	Total          int    `json:"total"`
	Max            int    `json:"max"`
	Source         string `json:"source"` // "default" or "override"
}

// Build assembles the web-search domain allowlist: the override list when one
// is supplied, otherwise the registry defaults, truncated to max entries.
// When truncation occurs the returned diagnostic is non-nil and a structured
// warning is logged.
func Build(reg Registry, override []string, max int) ([]string, *TruncationDiag) {
	if max <= 0 {
		max = DefaultMaxDomains
	}

	source := "default"
	domains := reg.Domains()
	if len(override) > 0 {
		source = "override"
		domains = normalizeOverride(override)
	}

	total := len(domains)
	if total <= max {
		return domains, nil
	}

	diag := &TruncationDiag{
		TruncatedCount: total - max,
		Total:          total,
		Max:            max,
		Source:         source,
	}
	log.Warn().
		Int("truncated_count", diag.TruncatedCount).
		Int("total", diag.Total).
		Int("max", diag.Max).
		Str("source", diag.Source).
		Msg("web_search_allowlist_truncated")

	return domains[:max], diag
}

// normalizeOverride lowercases, trims "www.", and deduplicates while keeping
// the caller's ordering (the override author decides priority under truncation).
func normalizeOverride(override []string) []string {
	seen := make(map[string]bool, len(override))
	var out []string
	for _, d := range override {
		n := normalizeDomain(d)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func normalizeDomain(d string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
}
