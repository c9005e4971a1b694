package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dossier-io/dossier/internal/citation"
	"github.com/dossier-io/dossier/internal/retrieval"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "dossier.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRun(fingerprint string) *RunRecord {
	return &RunRecord{
		Fingerprint:  fingerprint,
		OrgID:        "org-acme",
		UserID:       "user-1",
		Jurisdiction: "FR",
		Question:     "Quel est le délai de prescription en matière civile ?",
		Status:       StatusPassed,
		Payload:      json.RawMessage(`{"issue":"prescription"}`),
	}
}

func TestInsertRunAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := testRun("fp-aaa")
	require.NoError(t, s.InsertRun(ctx, run))
	require.NotEmpty(t, run.ID)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "org-acme", got.OrgID)
	assert.Equal(t, "FR", got.Jurisdiction)
	assert.Equal(t, StatusPassed, got.Status)
	assert.JSONEq(t, `{"issue":"prescription"}`, string(got.Payload))
}

func TestInsertRunDuplicateFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRun(ctx, testRun("fp-dup")))

	err := s.InsertRun(ctx, testRun("fp-dup"))
	require.ErrorIs(t, err, ErrDuplicateFingerprint)

	// The loser can still resolve the surviving record.
	winner, err := s.FindRunByFingerprint(ctx, "fp-dup")
	require.NoError(t, err)
	assert.NotEmpty(t, winner.ID)
}

func TestInsertRunDistinctFingerprintsGetDistinctIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testRun("fp-one")
	require.NoError(t, s.InsertRun(ctx, first))
	require.NotEmpty(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	second := testRun("fp-two")
	require.NoError(t, s.InsertRun(ctx, second))
	require.NotEmpty(t, second.ID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "run_missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestCitationsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := testRun("fp-cit")
	require.NoError(t, s.InsertRun(ctx, run))

	rows := []CitationRow{
		{
			RunID:       run.ID,
			Title:       "Code civil, art. 2224",
			Publisher:   "Légifrance",
			URL:         "https://www.legifrance.gouv.fr/codes/article_lc/LEGIARTI000019017112",
			Host:        "legifrance.gouv.fr",
			Allowlisted: true,
			Binding:     true,
		},
	}
	require.NoError(t, s.InsertCitations(ctx, rows))
	assert.NotEmpty(t, rows[0].ID)
}

func TestToolInvocationsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := testRun("fp-tools")
	require.NoError(t, s.InsertRun(ctx, run))

	require.NoError(t, s.InsertToolInvocations(ctx, []ToolInvocation{
		{RunID: run.ID, Tool: "eli_lookup", Input: json.RawMessage(`{"article":"2224"}`)},
		{RunID: run.ID, Tool: "web_search", Input: json.RawMessage(`{"q":"prescription"}`)},
	}))

	got, err := s.ListToolInvocationsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "eli_lookup", got[0].Tool)
	assert.Equal(t, "web_search", got[1].Tool)
}

func TestLearningJobsDispatchCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := testRun("fp-jobs")
	require.NoError(t, s.InsertRun(ctx, run))

	require.NoError(t, s.InsertLearningJobs(ctx, []LearningJob{
		{RunID: run.ID, JobType: "indexing_ticket"},
		{RunID: run.ID, JobType: "guardrail_fr_judge_analytics"},
	}))

	pending, err := s.ListPendingLearningJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.MarkLearningJobsDispatched(ctx, []string{pending[0].ID}))

	pending, err = s.ListPendingLearningJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "guardrail_fr_judge_analytics", pending[0].JobType)
}

func TestHitlAndAuditAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := testRun("fp-hitl")
	require.NoError(t, s.InsertRun(ctx, run))

	require.NoError(t, s.InsertHitlTicket(ctx, &HitlTicket{
		RunID:  run.ID,
		Reason: "case_quality_below_threshold",
	}))
	tickets, err := s.ListHitlTicketsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "case_quality_below_threshold", tickets[0].Reason)

	require.NoError(t, s.InsertAuditEvents(ctx, []AuditEvent{
		{RunID: run.ID, EventType: "run_completed"},
	}))
	events, err := s.ListAuditEvents(ctx, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "run_completed", events[0].EventType)
}

func TestTelemetryCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := testRun("fp-tel")
	require.NoError(t, s.InsertRun(ctx, run))

	require.NoError(t, s.InsertTelemetry(ctx, &Telemetry{
		RunID:        run.ID,
		DurationMS:   1200,
		InputTokens:  850,
		OutputTokens: 400,
		CostEUR:      0.012,
		Model:        "claude-sonnet",
	}))
	n, err := s.CountTelemetryByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCaseScoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	score := &citation.CaseScore{
		SourceID:     "ECLI:FR:CCASS:2020:C100123",
		Jurisdiction: "FR",
		Axes: map[string]float64{
			citation.AxisPrecedentialWeight: 90,
			citation.AxisJurisdictionFit:    100,
		},
		Overall: 68.5,
	}
	require.NoError(t, s.InsertCaseScore(ctx, score))

	got, err := s.FindCaseScore(ctx, score.SourceID)
	require.NoError(t, err)
	assert.Equal(t, 68.5, got.Overall)
	assert.Equal(t, 90.0, got.Axes[citation.AxisPrecedentialWeight])

	// Second insert of the same source keeps the first row.
	dup := *score
	dup.Overall = 10
	require.NoError(t, s.InsertCaseScore(ctx, &dup))
	got, err = s.FindCaseScore(ctx, score.SourceID)
	require.NoError(t, err)
	assert.Equal(t, 68.5, got.Overall)
}

func TestCaseScoreNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindCaseScore(context.Background(), "ECLI:FR:MISSING")
	assert.ErrorIs(t, err, ErrCaseScoreNotFound)
}

func TestSynonymsByJurisdiction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSynonym(ctx, "FR", retrieval.Synonym{Term: "prescription", Expansion: "délai de prescription", Weight: 1.0}))
	require.NoError(t, s.UpsertSynonym(ctx, "FR", retrieval.Synonym{Term: "prescription", Expansion: "forclusion", Weight: 0.5}))
	require.NoError(t, s.UpsertSynonym(ctx, "BE", retrieval.Synonym{Term: "bail", Expansion: "bail à loyer", Weight: 1.0}))

	fr, err := s.ListSynonymsByJurisdiction(ctx, "FR")
	require.NoError(t, err)
	require.Len(t, fr, 2)
	assert.Equal(t, "délai de prescription", fr[0].Expansion)
}

func TestPolicyVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RecordPolicyVersion(ctx, "2026-08-01", "initial entitlement bundle")
	require.NoError(t, err)
	pv, err := s.RecordPolicyVersion(ctx, "2026-08-15", "added OHADA entitlements")
	require.NoError(t, err)
	require.NotEmpty(t, pv.ID)

	versions, err := s.ListRecentPolicyVersions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, versions, 1)
}

func TestHybridSearchKeywordOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDocument(ctx, &CorpusDocument{
		SourceID:     "legifrance-2224",
		Jurisdiction: "FR",
		URL:          "https://www.legifrance.gouv.fr/codes/article_lc/LEGIARTI000019017112",
		Title:        "Code civil, article 2224",
		Publisher:    "Légifrance",
		TrustTier:    retrieval.TierOfficial,
		Body:         "Les actions personnelles ou mobilières se prescrivent par cinq ans à compter du jour où le titulaire d'un droit a connu ou aurait dû connaître les faits lui permettant de l'exercer.",
	}))
	require.NoError(t, s.InsertDocument(ctx, &CorpusDocument{
		SourceID:     "legilux-bail",
		Jurisdiction: "LU",
		URL:          "https://legilux.public.lu/eli/etat/leg/loi/2006/09/21/n1",
		Title:        "Loi sur le bail à usage d'habitation",
		Publisher:    "Legilux",
		Body:         "Le bail à usage d'habitation est régi par les dispositions de la présente loi.",
	}))

	snippets, err := s.HybridSearch(ctx, "FR", "prescription actions personnelles", nil, 5)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "legifrance-2224", snippets[0].SourceID)
	assert.Equal(t, retrieval.OriginLocal, snippets[0].Origin)
	assert.Equal(t, retrieval.TierOfficial, snippets[0].TrustTier)
}

func TestHybridSearchWithoutFTS5FallsBackToLike(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDocument(ctx, &CorpusDocument{
		SourceID:     "legifrance-2224",
		Jurisdiction: "FR",
		URL:          "https://www.legifrance.gouv.fr/codes/article_lc/LEGIARTI000019017112",
		Title:        "Code civil, article 2224",
		Publisher:    "Légifrance",
		TrustTier:    retrieval.TierOfficial,
		Body:         "Les actions personnelles ou mobilières se prescrivent par cinq ans.",
	}))
	require.NoError(t, s.InsertDocument(ctx, &CorpusDocument{
		SourceID:     "legifrance-bail",
		Jurisdiction: "FR",
		URL:          "https://www.legifrance.gouv.fr/codes/bail",
		Title:        "Bail d'habitation",
		Body:         "Dispositions relatives au bail.",
	}))

	s.hasFTS5 = false
	snippets, err := s.HybridSearch(ctx, "FR", "actions personnelles", nil, 5)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "legifrance-2224", snippets[0].SourceID)
}

func TestHybridSearchVectorLeg(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDocument(ctx, &CorpusDocument{
		SourceID:     "doc-near",
		Jurisdiction: "FR",
		URL:          "https://www.legifrance.gouv.fr/a",
		Title:        "Proche",
		Body:         "contenu sans recouvrement lexical",
		Embedding:    []float64{1, 0, 0},
	}))
	require.NoError(t, s.InsertDocument(ctx, &CorpusDocument{
		SourceID:     "doc-far",
		Jurisdiction: "FR",
		URL:          "https://www.legifrance.gouv.fr/b",
		Title:        "Lointain",
		Body:         "autre contenu sans recouvrement",
		Embedding:    []float64{0, 1, 0},
	}))

	snippets, err := s.HybridSearch(ctx, "FR", "zzz-no-keyword-match", []float64{0.9, 0.1, 0}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, snippets)
	assert.Equal(t, "doc-near", snippets[0].SourceID)
	assert.Greater(t, snippets[0].Similarity, 0.9)
}
