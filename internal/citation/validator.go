// Package citation validates answer provenance against the official-domain
// allowlist and scores jurisprudence quality on the weighted axes. It holds
// no persistence of its own; scores are cached through a ScoreStore.
package citation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dossier-io/dossier/internal/allowlist"
	"github.com/dossier-io/dossier/internal/irac"
	dossierotel "github.com/dossier-io/dossier/internal/otel"
)

var tracer = dossierotel.Tracer("github.com/dossier-io/dossier/internal/citation")

// Verification statuses.
const (
	StatusPassed        = "passed"
	StatusHitlEscalated = "hitl_escalated"
)

// Note severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityBlock   = "block"
)

// LearningJobIndexingTicket signals the ingestion pipeline that the
// corpus is missing material for this question.
const LearningJobIndexingTicket = "indexing_ticket"

// OutOfScopeError reports citation hosts absent from the allowlist.
// Fatal after a model call and before any persistence.
type OutOfScopeError struct {
	Hosts []string
}

func (e *OutOfScopeError) Error() string {
	return fmt.Sprintf("citation out of scope: %s", strings.Join(e.Hosts, ", "))
}

// AsOutOfScope reports whether err is (or wraps) an OutOfScopeError.
func AsOutOfScope(err error) (*OutOfScopeError, bool) {
	var oos *OutOfScopeError
	if errors.As(err, &oos) {
		return oos, true
	}
	return nil, false
}

// Note is one verification finding.
type Note struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// VerificationResult is the validator's verdict on one answer.
type VerificationResult struct {
	Status       string      `json:"status"`
	Notes        []Note      `json:"notes,omitempty"`
	Violations   []string    `json:"violations,omitempty"`
	CaseScores   []CaseScore `json:"case_scores,omitempty"`
	NewScores    []CaseScore `json:"-"`
	ForceHitl    bool        `json:"force_hitl"`
	HitlReasons  []string    `json:"hitl_reasons,omitempty"`
	LearningJobs []string    `json:"learning_jobs,omitempty"`
}

// bindingLanguages maps jurisdiction codes to languages in which sources
// are authoritative.
var bindingLanguages = map[string][]string{
	"FR":    {"fr"},
	"BE":    {"fr", "nl"},
	"LU":    {"fr"},
	"CH":    {"fr", "de", "it"},
	"CA-QC": {"fr", "en"},
	"OHADA": {"fr"},
	"EU":    {"fr"},
}

var ecliRe = regexp.MustCompile(`ECLI:[A-Z]{2}:[A-Z0-9]+:[0-9]{4}:[A-Za-z0-9.]+`)

// minScores below which a case forces HITL review.
const (
	minScoreDefault = 55.0
	minScoreStrict  = 60.0
)

func minScoreFor(jurisdiction string) float64 {
	switch jurisdiction {
	case "FR", "BE", "EU":
		return minScoreStrict
	}
	return minScoreDefault
}

// Validator checks citations and case quality for one run.
type Validator struct {
	registry allowlist.Registry
	scores   ScoreStore
	policy   ScoringPolicy
}

// NewValidator wires the validator. A nil policy falls back to the
// heuristic scoring policy.
func NewValidator(registry allowlist.Registry, scores ScoreStore, policy ScoringPolicy) *Validator {
	if policy == nil {
		policy = &HeuristicScoringPolicy{}
	}
	return &Validator{registry: registry, scores: scores, policy: policy}
}

// Validate checks every citation and rule-source host against the allowlist,
// resolves or computes case scores for case-law citations, and derives the
// forced-HITL conditions. An out-of-scope host aborts with OutOfScopeError before any
// caller-side persistence.
func (v *Validator) Validate(ctx context.Context, jurisdiction string, ans *irac.Answer) (*VerificationResult, error) {
	ctx, span := tracer.Start(ctx, "citation.validate",
		trace.WithAttributes(
			attribute.String("citation.jurisdiction", jurisdiction),
			attribute.Int("citation.count", len(ans.Citations)),
		))
	defer span.End()

	var outOfScope []string
	seen := map[string]bool{}
	checkScope := func(rawURL string) {
		host := irac.NormalizeHost(rawURL)
		if host == "" {
			host = rawURL
		} else if _, ok := v.registry.Lookup(host); ok {
			return
		}
		if !seen[host] {
			seen[host] = true
			outOfScope = append(outOfScope, host)
		}
	}
	for _, cit := range ans.Citations {
		checkScope(cit.URL)
	}
	for _, rule := range ans.Rules {
		if rule.SourceURL != "" {
			checkScope(rule.SourceURL)
		}
	}
	if len(outOfScope) > 0 {
		err := &OutOfScopeError{Hosts: outOfScope}
		span.RecordError(err)
		return nil, err
	}

	result := &VerificationResult{Status: StatusPassed}

	if len(ans.Citations) == 0 {
		result.LearningJobs = append(result.LearningJobs, LearningJobIndexingTicket)
		result.Notes = append(result.Notes, Note{
			Code:     "no_citations",
			Message:  "answer carries no citations; corpus coverage ticket recorded",
			Severity: SeverityWarning,
		})
	}

	minScore := minScoreFor(jurisdiction)
	for _, cit := range ans.Citations {
		host := irac.NormalizeHost(cit.URL)
		entry, hasEntry := v.registry.Lookup(host)

		if isCaseLaw(entry, hasEntry, cit) {
			score, fresh, err := v.resolveScore(ctx, jurisdiction, host, entry, hasEntry, cit, ans)
			if err != nil {
				return nil, err
			}
			result.CaseScores = append(result.CaseScores, *score)
			if fresh {
				result.NewScores = append(result.NewScores, *score)
			}

			if score.HardBlock {
				result.ForceHitl = true
				result.HitlReasons = append(result.HitlReasons, "case_hard_block")
				result.Notes = append(result.Notes, Note{
					Code:     "case_hard_block",
					Message:  fmt.Sprintf("case %s is hard-blocked: %s", score.SourceID, score.Notes),
					Severity: SeverityBlock,
				})
			} else if score.Overall < minScore {
				result.ForceHitl = true
				result.HitlReasons = append(result.HitlReasons, "case_quality_below_threshold")
				result.Notes = append(result.Notes, Note{
					Code:     "case_quality_below_threshold",
					Message:  fmt.Sprintf("case %s scored %.1f, below the %s minimum %.0f", score.SourceID, score.Overall, jurisdiction, minScore),
					Severity: SeverityWarning,
				})
			}
		}

		if mismatch, lang := bindingLanguageMismatch(jurisdiction, ans.Language, entry, hasEntry, cit); mismatch {
			result.ForceHitl = true
			result.HitlReasons = append(result.HitlReasons, "binding_language_guardrail")
			result.Notes = append(result.Notes, Note{
				Code:     "binding_language_guardrail",
				Message:  fmt.Sprintf("source %s is authoritative in %q but the answer is in %q with no translation note", host, lang, ans.Language),
				Severity: SeverityWarning,
			})
		}
	}

	if ans.Risk.HitlRequired {
		result.ForceHitl = true
		result.HitlReasons = append(result.HitlReasons, "risk_hitl_required")
	}
	if result.ForceHitl {
		result.Status = StatusHitlEscalated
	}
	span.SetAttributes(
		attribute.Bool("citation.force_hitl", result.ForceHitl),
		attribute.String("citation.status", result.Status),
	)
	return result, nil
}

// resolveScore returns the cached score for a source, or computes a new
// one and reports it as fresh so the caller can persist it.
func (v *Validator) resolveScore(ctx context.Context, jurisdiction, host string, entry allowlist.Entry, hasEntry bool, cit irac.Citation, ans *irac.Answer) (*CaseScore, bool, error) {
	sourceID := SourceID(cit)
	if v.scores != nil {
		cached, err := v.scores.FindCaseScore(ctx, sourceID)
		if err == nil {
			return cached, false, nil
		}
	}

	meta := SourceMeta{
		SourceID:     sourceID,
		Jurisdiction: jurisdiction,
		Host:         host,
		Entry:        entry,
		HasEntry:     hasEntry,
		Citation:     cit,
		BindingRule:  citationBacksBindingRule(cit, ans),
	}
	score, err := v.policy.Score(ctx, meta)
	if err != nil {
		return nil, false, fmt.Errorf("scoring case %s: %w", sourceID, err)
	}
	return score, true, nil
}

// SourceID derives the stable identifier for a case-law source: the ECLI
// when one appears in the citation, otherwise the normalized URL.
func SourceID(cit irac.Citation) string {
	for _, field := range []string{cit.URL, cit.Title, cit.Note} {
		if ecli := ecliRe.FindString(field); ecli != "" {
			return ecli
		}
	}
	return strings.TrimSuffix(strings.ToLower(cit.URL), "/")
}

func isCaseLaw(entry allowlist.Entry, hasEntry bool, cit irac.Citation) bool {
	if hasEntry && entry.CaseLaw {
		return true
	}
	return ecliRe.MatchString(cit.URL) || ecliRe.MatchString(cit.Title)
}

// citationBacksBindingRule reports whether any rule marked binding cites
// the same URL.
func citationBacksBindingRule(cit irac.Citation, ans *irac.Answer) bool {
	for _, rule := range ans.Rules {
		if rule.Binding && rule.SourceURL == cit.URL {
			return true
		}
	}
	return false
}

// bindingLanguageMismatch reports a source whose authoritative language
// differs from the answer language with no translation note on the
// citation.
func bindingLanguageMismatch(jurisdiction, answerLang string, entry allowlist.Entry, hasEntry bool, cit irac.Citation) (bool, string) {
	if !hasEntry || entry.Language == "" || answerLang == "" {
		return false, ""
	}
	if strings.EqualFold(entry.Language, answerLang) {
		return false, ""
	}
	if langs, ok := bindingLanguages[jurisdiction]; ok {
		for _, l := range langs {
			if strings.EqualFold(l, answerLang) && strings.EqualFold(l, entry.Language) {
				return false, ""
			}
		}
	}
	note := strings.ToLower(cit.Note)
	if strings.Contains(note, "traduction") || strings.Contains(note, "translation") {
		return false, ""
	}
	return true, entry.Language
}
