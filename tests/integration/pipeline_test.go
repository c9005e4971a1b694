// Package integration exercises the full run pipeline across package
// boundaries: HTTP API, orchestrator, store, and learning-job dispatch.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dossier-io/dossier/internal/agent"
	"github.com/dossier-io/dossier/internal/allowlist"
	"github.com/dossier-io/dossier/internal/citation"
	"github.com/dossier-io/dossier/internal/policy"
	"github.com/dossier-io/dossier/internal/retrieval"
	"github.com/dossier-io/dossier/internal/server"
	"github.com/dossier-io/dossier/internal/store"
	"github.com/dossier-io/dossier/internal/testutil"
	"github.com/dossier-io/dossier/internal/trigger"
)

const apiKey = "dsk-integration"

type stack struct {
	handler http.Handler
	store   *store.Store
	invoker *testutil.MockInvoker
}

func newStack(t *testing.T, results ...testutil.MockResult) *stack {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "dossier.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gate, err := policy.NewGate(ctx, nil, 3)
	require.NoError(t, err)
	guardrails, err := policy.NewDefaultGuardrailMatcher()
	require.NoError(t, err)
	registry, err := allowlist.NewDefaultRegistry()
	require.NoError(t, err)

	invoker := &testutil.MockInvoker{Results: results}
	runner := agent.NewRunner(agent.RunnerConfig{
		Gate:       gate,
		Guardrails: guardrails,
		Store:      st,
		Retriever:  retrieval.NewEngine(st, st, nil, 0),
		Invoker:    invoker,
		Validator:  citation.NewValidator(registry, st, nil),
		Registry:   registry,
	})

	accessDir := t.TempDir()
	access := testutil.EntitledAccess("org-acme", "FR", "BE")
	raw, err := yaml.Marshal(access)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(accessDir, "org-acme.yaml"), raw, 0o600))

	srv := server.NewServer(runner, st, accessDir, map[string]string{apiKey: "org-acme"})
	return &stack{handler: srv.Routes(), store: st, invoker: invoker}
}

func (s *stack) postRun(t *testing.T, question string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{"question": question, "user_id": "user-1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type recordingSink struct {
	jobs []store.LearningJob
}

func (s *recordingSink) Deliver(_ context.Context, jobs []store.LearningJob) error {
	s.jobs = append(s.jobs, jobs...)
	return nil
}

func TestRunThroughAPIThenDispatchLearningJobs(t *testing.T) {
	// An answer without citations queues exactly one indexing ticket.
	noCitations := testutil.MockResult{Payload: `{
	  "jurisdiction": {"country": "FR", "eu": true, "ohada": false},
	  "issue": "Délai de prescription",
	  "rules": [],
	  "application": "Aucune source indexée ne couvre ce point.",
	  "conclusion": "Analyse non sourcée.",
	  "citations": [],
	  "risk": {"level": "medium", "why": "absence de sources", "hitl_required": false},
	  "language": "fr"
	}`}
	s := newStack(t, noCitations)

	rec := s.postRun(t, "Quel est le délai de prescription des actions personnelles en France ?")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ctx := context.Background()
	pending, err := s.store.ListPendingLearningJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "indexing_ticket", pending[0].JobType)

	sink := &recordingSink{}
	dispatcher, err := trigger.NewDispatcher(s.store, sink, "")
	require.NoError(t, err)

	n, err := dispatcher.FlushOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sink.jobs, 1)

	pending, err = s.store.ListPendingLearningJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunReuseAcrossAPIRequests(t *testing.T) {
	s := newStack(t, testutil.MockResult{Payload: testutil.ValidAnswerJSON})
	question := "Quel est le délai de prescription des actions personnelles en France ?"

	first := s.postRun(t, question)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	var firstResp agent.RunResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))

	second := s.postRun(t, "  quel est le DÉLAI de prescription des actions personnelles en France ?")
	require.Equal(t, http.StatusOK, second.Code)
	var secondResp agent.RunResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))

	assert.Equal(t, firstResp.RunID, secondResp.RunID)
	assert.True(t, secondResp.Reused)
	assert.Equal(t, 1, s.invoker.Calls())
}

func TestRunPersistenceVisibleThroughAPI(t *testing.T) {
	s := newStack(t, testutil.MockResult{Payload: testutil.ValidAnswerJSON})

	rec := s.postRun(t, "Quel est le délai de prescription des actions personnelles en France ?")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp agent.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+resp.RunID+"/citations", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	got := httptest.NewRecorder()
	s.handler.ServeHTTP(got, req)
	require.Equal(t, http.StatusOK, got.Code)

	var citResp struct {
		Citations []store.CitationRow `json:"citations"`
	}
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &citResp))
	require.Len(t, citResp.Citations, 1)
	assert.Equal(t, "legifrance.gouv.fr", citResp.Citations[0].Host)
	assert.True(t, citResp.Citations[0].Binding)
}
