package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardrailMatcher_FrJudgeAnalytics(t *testing.T) {
	m, err := NewDefaultGuardrailMatcher()
	require.NoError(t, err)

	flags := Flags{FranceJudgeAnalyticsBlocked: true}

	tests := []struct {
		name     string
		question string
		match    bool
	}{
		{"statistics of a judge", "Quelles sont les statistiques du juge Martin en matière de licenciement ?", true},
		{"win rate english", "What is judge Dupont's judge win rate on appeals?", true},
		{"profiling", "Peux-tu faire une analyse comportementale du magistrat président ?", true},
		{"ordinary question", "Quel est le délai de prescription d'une action contractuelle ?", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Match(tt.question, JurisdictionFR, flags)
			if tt.match {
				require.NotNil(t, got)
				assert.Equal(t, "fr_judge_analytics", got.Name)
				assert.Equal(t, "guardrail_fr_judge_analytics", got.LearningJob)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestGuardrailMatcher_ScopedByJurisdictionAndFlag(t *testing.T) {
	m, err := NewDefaultGuardrailMatcher()
	require.NoError(t, err)

	question := "Quelles sont les statistiques du juge Martin ?"

	t.Run("other jurisdiction not blocked", func(t *testing.T) {
		got := m.Match(question, JurisdictionCAQC, Flags{FranceJudgeAnalyticsBlocked: true})
		assert.Nil(t, got)
	})

	t.Run("flag disabled", func(t *testing.T) {
		got := m.Match(question, JurisdictionFR, Flags{FranceJudgeAnalyticsBlocked: false})
		assert.Nil(t, got)
	})
}

func TestBuildGuardrailAnswer(t *testing.T) {
	m, err := NewDefaultGuardrailMatcher()
	require.NoError(t, err)
	class := m.Match("statistiques du juge Martin", JurisdictionFR, Flags{FranceJudgeAnalyticsBlocked: true})
	require.NotNil(t, class)

	a := BuildGuardrailAnswer(JurisdictionFR, class)
	require.NoError(t, a.Validate())
	assert.True(t, a.Risk.HitlRequired)
	assert.Equal(t, "high", a.Risk.Level)
	assert.Equal(t, []string{"legifrance.gouv.fr"}, a.CitationHosts())

	t.Run("unknown jurisdiction falls back to FR authority", func(t *testing.T) {
		a := BuildGuardrailAnswer("XX", class)
		require.NoError(t, a.Validate())
		assert.Equal(t, []string{"legifrance.gouv.fr"}, a.CitationHosts())
	})
}
