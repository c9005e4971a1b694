package citation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dossier-io/dossier/internal/allowlist"
	"github.com/dossier-io/dossier/internal/irac"
)

type memScoreStore struct {
	scores map[string]*CaseScore
}

func newMemScoreStore() *memScoreStore {
	return &memScoreStore{scores: map[string]*CaseScore{}}
}

func (m *memScoreStore) FindCaseScore(_ context.Context, sourceID string) (*CaseScore, error) {
	if s, ok := m.scores[sourceID]; ok {
		return s, nil
	}
	return nil, assert.AnError
}

func (m *memScoreStore) InsertCaseScore(_ context.Context, score *CaseScore) error {
	m.scores[score.SourceID] = score
	return nil
}

func testRegistry(t *testing.T) allowlist.Registry {
	t.Helper()
	reg, err := allowlist.NewDefaultRegistry()
	require.NoError(t, err)
	return reg
}

func statuteAnswer() *irac.Answer {
	return &irac.Answer{
		Jurisdiction: irac.Jurisdiction{Country: "FR", EU: true},
		Issue:        "Délai de prescription des actions personnelles",
		Rules: []irac.Rule{{
			Citation:  "Code civil, art. 2224",
			SourceURL: "https://www.legifrance.gouv.fr/codes/article_lc/LEGIARTI000019017112",
			Binding:   true,
		}},
		Application: "Le délai court à compter de la connaissance des faits.",
		Conclusion:  "L'action se prescrit par cinq ans.",
		Citations: []irac.Citation{{
			Title:     "Code civil, article 2224",
			Publisher: "Légifrance",
			URL:       "https://www.legifrance.gouv.fr/codes/article_lc/LEGIARTI000019017112",
		}},
		Risk:     irac.Risk{Level: irac.RiskLow},
		Language: "fr",
	}
}

func caseLawAnswer(date string) *irac.Answer {
	ans := statuteAnswer()
	ans.Citations = append(ans.Citations, irac.Citation{
		Title:     "Cass. 1re civ., ECLI:FR:CCASS:2020:C100123",
		Publisher: "Cour de cassation",
		Date:      date,
		URL:       "https://www.courdecassation.fr/decision/ECLI:FR:CCASS:2020:C100123",
	})
	return ans
}

func TestValidateAllowlistedStatutePasses(t *testing.T) {
	v := NewValidator(testRegistry(t), newMemScoreStore(), nil)

	result, err := v.Validate(context.Background(), "FR", statuteAnswer())
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, result.Status)
	assert.False(t, result.ForceHitl)
	assert.Empty(t, result.LearningJobs)
}

func TestValidateOutOfScopeHostAborts(t *testing.T) {
	v := NewValidator(testRegistry(t), newMemScoreStore(), nil)

	ans := statuteAnswer()
	ans.Citations = append(ans.Citations, irac.Citation{
		Title: "Blog juridique",
		URL:   "https://blog-juridique.example.com/article",
	})

	_, err := v.Validate(context.Background(), "FR", ans)
	require.Error(t, err)
	oos, ok := AsOutOfScope(err)
	require.True(t, ok)
	assert.Contains(t, oos.Hosts, "blog-juridique.example.com")
	assert.Contains(t, err.Error(), "citation out of scope")
}

func TestValidateRuleSourceOutOfScopeAborts(t *testing.T) {
	v := NewValidator(testRegistry(t), newMemScoreStore(), nil)

	ans := statuteAnswer()
	ans.Rules = append(ans.Rules, irac.Rule{
		Citation:  "Doctrine privée",
		SourceURL: "https://doctrine-privee.example.org/note",
		Binding:   true,
	})

	_, err := v.Validate(context.Background(), "FR", ans)
	require.Error(t, err)
	oos, ok := AsOutOfScope(err)
	require.True(t, ok)
	assert.Contains(t, oos.Hosts, "doctrine-privee.example.org")
}

func TestValidateZeroCitationsRecordsIndexingTicket(t *testing.T) {
	v := NewValidator(testRegistry(t), newMemScoreStore(), nil)

	ans := statuteAnswer()
	ans.Citations = nil

	result, err := v.Validate(context.Background(), "FR", ans)
	require.NoError(t, err)
	require.Len(t, result.LearningJobs, 1)
	assert.Equal(t, LearningJobIndexingTicket, result.LearningJobs[0])
}

func TestValidateCaseLawComputesScore(t *testing.T) {
	store := newMemScoreStore()
	policy := &HeuristicScoringPolicy{Now: func() time.Time {
		return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	}}
	v := NewValidator(testRegistry(t), store, policy)

	result, err := v.Validate(context.Background(), "FR", caseLawAnswer("2020-06-15"))
	require.NoError(t, err)
	require.Len(t, result.CaseScores, 1)
	require.Len(t, result.NewScores, 1)

	score := result.CaseScores[0]
	assert.Equal(t, "ECLI:FR:CCASS:2020:C100123", score.SourceID)
	assert.False(t, score.HardBlock)
	// Supreme-court source in jurisdiction scores comfortably above the
	// FR minimum.
	assert.GreaterOrEqual(t, score.Overall, minScoreStrict)
	assert.Equal(t, StatusPassed, result.Status)
}

func TestValidateCachedScoreNotRecomputed(t *testing.T) {
	store := newMemScoreStore()
	store.scores["ECLI:FR:CCASS:2020:C100123"] = &CaseScore{
		SourceID:     "ECLI:FR:CCASS:2020:C100123",
		Jurisdiction: "FR",
		Overall:      75,
	}
	v := NewValidator(testRegistry(t), store, nil)

	result, err := v.Validate(context.Background(), "FR", caseLawAnswer("2020-06-15"))
	require.NoError(t, err)
	require.Len(t, result.CaseScores, 1)
	assert.Empty(t, result.NewScores)
	assert.Equal(t, 75.0, result.CaseScores[0].Overall)
}

func TestValidateHardBlockForcesHitl(t *testing.T) {
	store := newMemScoreStore()
	store.scores["ECLI:FR:CCASS:2020:C100123"] = &CaseScore{
		SourceID:     "ECLI:FR:CCASS:2020:C100123",
		Jurisdiction: "FR",
		Overall:      90,
		HardBlock:    true,
		Notes:        "politically exposed source",
	}
	v := NewValidator(testRegistry(t), store, nil)

	result, err := v.Validate(context.Background(), "FR", caseLawAnswer("2020-06-15"))
	require.NoError(t, err)
	assert.True(t, result.ForceHitl)
	assert.Equal(t, StatusHitlEscalated, result.Status)
	assert.Contains(t, result.HitlReasons, "case_hard_block")
}

func TestValidateLowScoreForcesHitl(t *testing.T) {
	store := newMemScoreStore()
	store.scores["ECLI:FR:CCASS:2020:C100123"] = &CaseScore{
		SourceID:     "ECLI:FR:CCASS:2020:C100123",
		Jurisdiction: "FR",
		Overall:      58, // above the default floor, below the FR minimum
	}
	v := NewValidator(testRegistry(t), store, nil)

	result, err := v.Validate(context.Background(), "FR", caseLawAnswer("2020-06-15"))
	require.NoError(t, err)
	assert.True(t, result.ForceHitl)
	assert.Contains(t, result.HitlReasons, "case_quality_below_threshold")
}

func TestValidateBindingLanguageMismatch(t *testing.T) {
	v := NewValidator(testRegistry(t), newMemScoreStore(), nil)

	// A German-authoritative Swiss source cited by an answer written in
	// French, with no translation note.
	ans := statuteAnswer()
	ans.Language = "de"

	result, err := v.Validate(context.Background(), "FR", ans)
	require.NoError(t, err)
	assert.True(t, result.ForceHitl)
	assert.Contains(t, result.HitlReasons, "binding_language_guardrail")
}

func TestValidateTranslationNoteSuppressesMismatch(t *testing.T) {
	v := NewValidator(testRegistry(t), newMemScoreStore(), nil)

	ans := statuteAnswer()
	ans.Language = "de"
	ans.Citations[0].Note = "traduction non officielle fournie"

	result, err := v.Validate(context.Background(), "FR", ans)
	require.NoError(t, err)
	assert.False(t, result.ForceHitl)
}

func TestValidateRiskHitlRequired(t *testing.T) {
	v := NewValidator(testRegistry(t), newMemScoreStore(), nil)

	ans := statuteAnswer()
	ans.Risk = irac.Risk{Level: irac.RiskHigh, HitlRequired: true}

	result, err := v.Validate(context.Background(), "FR", ans)
	require.NoError(t, err)
	assert.Equal(t, StatusHitlEscalated, result.Status)
	assert.Contains(t, result.HitlReasons, "risk_hitl_required")
}

func TestSourceIDPrefersECLI(t *testing.T) {
	assert.Equal(t, "ECLI:FR:CCASS:2020:C100123", SourceID(irac.Citation{
		Title: "Cass. 1re civ.",
		URL:   "https://www.courdecassation.fr/decision/ECLI:FR:CCASS:2020:C100123",
	}))
	assert.Equal(t, "https://www.legifrance.gouv.fr/a", SourceID(irac.Citation{
		URL: "https://www.legifrance.gouv.fr/a/",
	}))
}

func TestHeuristicScoringHardBlocksPoliticallyExposed(t *testing.T) {
	policy := &HeuristicScoringPolicy{}
	score, err := policy.Score(context.Background(), SourceMeta{
		SourceID:           "ECLI:FR:CCASS:2020:C100999",
		Jurisdiction:       "FR",
		Host:               "courdecassation.fr",
		HasEntry:           true,
		PoliticallyExposed: true,
	})
	require.NoError(t, err)
	assert.True(t, score.HardBlock)
}

func TestMinScorePerJurisdiction(t *testing.T) {
	assert.Equal(t, minScoreStrict, minScoreFor("FR"))
	assert.Equal(t, minScoreStrict, minScoreFor("BE"))
	assert.Equal(t, minScoreStrict, minScoreFor("EU"))
	assert.Equal(t, minScoreDefault, minScoreFor("CH"))
	assert.Equal(t, minScoreDefault, minScoreFor("OHADA"))
}
