// Package irac defines the structured legal-answer schema (Issue, Rules,
// Application, Conclusion) produced by the hosted model and validated by the
// orchestrator. The schema is strict: unknown fields and missing required
// sections are hard failures, because downstream citation validation and the
// trust panel both assume a well-formed record.
package irac

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidShape is returned when a payload does not conform to the schema.
var ErrInvalidShape = errors.New("structured answer has invalid shape")

// RiskLevel values accepted in Risk.Level.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Answer is the structured IRAC record returned for a legal question.
type Answer struct {
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	Issue        string       `json:"issue"`
	Rules        []Rule       `json:"rules"`
	Application  string       `json:"application"`
	Conclusion   string       `json:"conclusion"`
	Citations    []Citation   `json:"citations"`
	Risk         Risk         `json:"risk"`
	Language     string       `json:"language,omitempty"`
}

// Jurisdiction identifies the legal order an answer speaks for.
type Jurisdiction struct {
	Country string `json:"country"`
	EU      bool   `json:"eu"`
	OHADA   bool   `json:"ohada"`
}

// Rule is one legal rule relied upon by the answer.
type Rule struct {
	Citation      string `json:"citation"`
	SourceURL     string `json:"source_url"`
	Binding       bool   `json:"binding"`
	EffectiveDate string `json:"effective_date,omitempty"`
}

// Citation is a provenance reference backing the answer.
type Citation struct {
	Title     string `json:"title"`
	Publisher string `json:"publisher,omitempty"`
	Date      string `json:"date,omitempty"`
	URL       string `json:"url"`
	Note      string `json:"note,omitempty"`
}

// Risk carries the answer's self-assessed risk posture.
type Risk struct {
	Level        string `json:"level"`
	Why          string `json:"why,omitempty"`
	HitlRequired bool   `json:"hitl_required"`
}

// Parse decodes and validates a raw payload into an Answer.
// Unknown fields are rejected so a drifting model output surfaces immediately
// instead of silently dropping sections.
func Parse(raw []byte) (*Answer, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var a Answer
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks the structural invariants of an Answer.
func (a *Answer) Validate() error {
	var problems []string
	if strings.TrimSpace(a.Jurisdiction.Country) == "" {
		problems = append(problems, "jurisdiction.country is required")
	}
	if strings.TrimSpace(a.Issue) == "" {
		problems = append(problems, "issue is required")
	}
	if strings.TrimSpace(a.Application) == "" {
		problems = append(problems, "application is required")
	}
	if strings.TrimSpace(a.Conclusion) == "" {
		problems = append(problems, "conclusion is required")
	}
	switch a.Risk.Level {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		problems = append(problems, fmt.Sprintf("risk.level %q not in {low, medium, high}", a.Risk.Level))
	}
	for i, r := range a.Rules {
		if strings.TrimSpace(r.Citation) == "" {
			problems = append(problems, fmt.Sprintf("rules[%d].citation is required", i))
		}
		if r.SourceURL != "" {
			if _, err := url.Parse(r.SourceURL); err != nil {
				problems = append(problems, fmt.Sprintf("rules[%d].source_url is not a URL", i))
			}
		}
	}
	for i, c := range a.Citations {
		if strings.TrimSpace(c.Title) == "" {
			problems = append(problems, fmt.Sprintf("citations[%d].title is required", i))
		}
		u, err := url.Parse(c.URL)
		if err != nil || u.Host == "" {
			problems = append(problems, fmt.Sprintf("citations[%d].url is not an absolute URL", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidShape, strings.Join(problems, "; "))
	}
	return nil
}

// CitationHosts returns the normalized host of every citation URL, in order.
// Hosts are lowercased with any "www." prefix removed so allowlist lookups
// match the registry's canonical form.
func (a *Answer) CitationHosts() []string {
	hosts := make([]string, 0, len(a.Citations))
	for _, c := range a.Citations {
		hosts = append(hosts, NormalizeHost(c.URL))
	}
	return hosts
}

// NormalizeHost extracts the lowercased host from a URL, trimming "www.".
// Returns "" when the URL cannot be parsed or has no host.
func NormalizeHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
