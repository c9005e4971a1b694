package policy

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dossier-io/dossier/patterns"
)

// GuardrailClass is one pre-model guardrail: a prohibited query class that
// must never reach the hosted model.
type GuardrailClass struct {
	Name          string   `yaml:"name"`
	Jurisdictions []string `yaml:"jurisdictions"`
	PolicyFlag    string   `yaml:"policy_flag"`
	LearningJob   string   `yaml:"learning_job"`
	Description   string   `yaml:"description"`
	Patterns      []string `yaml:"patterns"`

	compiled []*regexp.Regexp
}

type guardrailFile struct {
	Guardrails []GuardrailClass `yaml:"guardrails"`
}

// GuardrailMatcher checks questions against the pre-model guardrail classes.
type GuardrailMatcher struct {
	classes []GuardrailClass
}

// NewDefaultGuardrailMatcher compiles the embedded guardrail definitions.
func NewDefaultGuardrailMatcher() (*GuardrailMatcher, error) {
	return NewGuardrailMatcher(patterns.GuardrailsYAML())
}

// NewGuardrailMatcher compiles guardrail definitions from YAML.
func NewGuardrailMatcher(raw []byte) (*GuardrailMatcher, error) {
	var f guardrailFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing guardrail definitions: %w", err)
	}
	for i := range f.Guardrails {
		g := &f.Guardrails[i]
		for _, p := range g.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("compiling guardrail %s pattern %q: %w", g.Name, p, err)
			}
			g.compiled = append(g.compiled, re)
		}
	}
	return &GuardrailMatcher{classes: f.Guardrails}, nil
}

// Match returns the first guardrail class triggered by the question for the
// given jurisdiction and policy flags, or nil when the question is clean.
// A class whose policy flag is disabled in the access context never matches.
func (m *GuardrailMatcher) Match(question, jurisdiction string, flags Flags) *GuardrailClass {
	for i := range m.classes {
		g := &m.classes[i]
		if !g.appliesTo(jurisdiction) {
			continue
		}
		if !flagEnabled(g.PolicyFlag, flags) {
			continue
		}
		for _, re := range g.compiled {
			if re.MatchString(question) {
				return g
			}
		}
	}
	return nil
}

func (g *GuardrailClass) appliesTo(jurisdiction string) bool {
	if len(g.Jurisdictions) == 0 {
		return true
	}
	for _, j := range g.Jurisdictions {
		if strings.EqualFold(j, jurisdiction) {
			return true
		}
	}
	return false
}

func flagEnabled(name string, flags Flags) bool {
	switch name {
	case "france_judge_analytics_blocked":
		return flags.FranceJudgeAnalyticsBlocked
	case "":
		return true
	default:
		// Unknown flags fail closed: the guardrail stays active.
		return true
	}
}
