// Package trust derives the trust panel shown alongside an answer: a pure,
// deterministic aggregate of citation provenance, retrieval origin, case
// quality, and risk. It is never persisted as its own row and must be
// reproducible from its inputs alone.
package trust

import (
	"regexp"
	"strings"

	"github.com/dossier-io/dossier/internal/allowlist"
	"github.com/dossier-io/dossier/internal/citation"
	"github.com/dossier-io/dossier/internal/irac"
	"github.com/dossier-io/dossier/internal/retrieval"
)

// Panel is the derived trust summary for one run.
type Panel struct {
	Citations   CitationSummary    `json:"citations"`
	Retrieval   RetrievalSummary   `json:"retrieval"`
	CaseQuality CaseQualitySummary `json:"case_quality"`
	Risk        RiskSummary        `json:"risk"`
	Provenance  ProvenanceSummary  `json:"provenance"`
}

// CitationSummary covers allowlist coverage and binding counts.
type CitationSummary struct {
	Total               int            `json:"total"`
	Allowlisted         int            `json:"allowlisted"`
	AllowlistedRatio    float64        `json:"allowlisted_ratio"`
	NonAllowlisted      []string       `json:"non_allowlisted,omitempty"`
	TranslationWarnings []string       `json:"translation_warnings,omitempty"`
	BindingRules        int            `json:"binding_rules"`
	NonBindingRules     int            `json:"non_binding_rules"`
	HostDistribution    map[string]int `json:"host_distribution,omitempty"`
}

// RetrievalSummary covers the origin mix of the snippet set.
type RetrievalSummary struct {
	Total         int     `json:"total"`
	LocalCount    int     `json:"local_count"`
	HostedCount   int     `json:"hosted_count"`
	TopTierCount  int     `json:"top_tier_count"`
	MaxSimilarity float64 `json:"max_similarity"`
}

// CaseQualitySummary covers jurisprudence scores referenced by the answer.
type CaseQualitySummary struct {
	Items     int     `json:"items"`
	MinScore  float64 `json:"min_score"`
	MaxScore  float64 `json:"max_score"`
	ForceHitl bool    `json:"force_hitl"`
}

// RiskSummary mirrors the answer's self-assessed risk.
type RiskSummary struct {
	Level        string `json:"level"`
	Why          string `json:"why,omitempty"`
	HitlRequired bool   `json:"hitl_required"`
}

// ProvenanceSummary covers structured-identifier coverage and residency.
type ProvenanceSummary struct {
	ELICitations   int            `json:"eli_citations"`
	ECLICitations  int            `json:"ecli_citations"`
	ResidencyZones map[string]int `json:"residency_zones,omitempty"`
	ArticleCount   int            `json:"article_count"`
}

var (
	ecliRe    = regexp.MustCompile(`ECLI:[A-Z]{2}:`)
	articleRe = regexp.MustCompile(`(?i)\bart(?:icle)?\.?\s*[LR]?\.?\s*[0-9]`)
)

// Build derives the panel. Inputs are read-only; the same inputs always
// produce the same panel.
func Build(registry allowlist.Registry, ans *irac.Answer, snippets []retrieval.Snippet, verification *citation.VerificationResult) Panel {
	panel := Panel{
		Citations: summarizeCitations(registry, ans, verification),
		Retrieval: summarizeRetrieval(snippets),
		Risk: RiskSummary{
			Level:        ans.Risk.Level,
			Why:          ans.Risk.Why,
			HitlRequired: ans.Risk.HitlRequired,
		},
		Provenance: summarizeProvenance(registry, ans),
	}
	if verification != nil {
		panel.CaseQuality = summarizeCaseQuality(verification)
	}
	return panel
}

func summarizeCitations(registry allowlist.Registry, ans *irac.Answer, verification *citation.VerificationResult) CitationSummary {
	summary := CitationSummary{Total: len(ans.Citations)}
	hosts := map[string]int{}
	for _, cit := range ans.Citations {
		host := irac.NormalizeHost(cit.URL)
		if host == "" {
			summary.NonAllowlisted = append(summary.NonAllowlisted, cit.URL)
			continue
		}
		hosts[host]++
		if _, ok := registry.Lookup(host); ok {
			summary.Allowlisted++
		} else {
			summary.NonAllowlisted = append(summary.NonAllowlisted, host)
		}
	}
	if summary.Total > 0 {
		summary.AllowlistedRatio = float64(summary.Allowlisted) / float64(summary.Total)
		summary.HostDistribution = hosts
	}
	for _, rule := range ans.Rules {
		if rule.Binding {
			summary.BindingRules++
		} else {
			summary.NonBindingRules++
		}
	}
	if verification != nil {
		for _, note := range verification.Notes {
			if note.Code == "binding_language_guardrail" {
				summary.TranslationWarnings = append(summary.TranslationWarnings, note.Message)
			}
		}
	}
	return summary
}

func summarizeRetrieval(snippets []retrieval.Snippet) RetrievalSummary {
	summary := RetrievalSummary{Total: len(snippets)}
	for _, s := range snippets {
		switch s.Origin {
		case retrieval.OriginHosted:
			summary.HostedCount++
		default:
			summary.LocalCount++
		}
		if s.TrustTier == retrieval.TierOfficial {
			summary.TopTierCount++
		}
		if s.Similarity > summary.MaxSimilarity {
			summary.MaxSimilarity = s.Similarity
		}
	}
	return summary
}

func summarizeCaseQuality(verification *citation.VerificationResult) CaseQualitySummary {
	summary := CaseQualitySummary{
		Items:     len(verification.CaseScores),
		ForceHitl: verification.ForceHitl,
	}
	for i, score := range verification.CaseScores {
		if i == 0 || score.Overall < summary.MinScore {
			summary.MinScore = score.Overall
		}
		if score.Overall > summary.MaxScore {
			summary.MaxScore = score.Overall
		}
	}
	return summary
}

func summarizeProvenance(registry allowlist.Registry, ans *irac.Answer) ProvenanceSummary {
	summary := ProvenanceSummary{ResidencyZones: map[string]int{}}
	for _, cit := range ans.Citations {
		if strings.Contains(cit.URL, "/eli/") {
			summary.ELICitations++
		}
		if ecliRe.MatchString(cit.URL) || ecliRe.MatchString(cit.Title) {
			summary.ECLICitations++
		}
		if entry, ok := registry.Lookup(irac.NormalizeHost(cit.URL)); ok && entry.Zone != "" {
			summary.ResidencyZones[entry.Zone]++
		}
	}
	if len(summary.ResidencyZones) == 0 {
		summary.ResidencyZones = nil
	}
	for _, rule := range ans.Rules {
		if articleRe.MatchString(rule.Citation) {
			summary.ArticleCount++
		}
	}
	return summary
}
