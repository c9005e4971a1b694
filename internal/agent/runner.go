// Package agent implements the run orchestrator pipeline.
//
// The pipeline executes in a fixed sequence: policy gate → pre-model
// guardrails → run cache → retrieval augmentation → guarded model
// invocation → citation and case-quality validation → trust panel →
// side-effect fan-out. Entitlement and citation-scope failures abort
// before any persistence; guardrail escalations degrade to a HITL-flagged
// answer and still complete the full fan-out.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dossier-io/dossier/internal/allowlist"
	"github.com/dossier-io/dossier/internal/citation"
	"github.com/dossier-io/dossier/internal/irac"
	"github.com/dossier-io/dossier/internal/llm"
	dossierotel "github.com/dossier-io/dossier/internal/otel"
	"github.com/dossier-io/dossier/internal/policy"
	"github.com/dossier-io/dossier/internal/retrieval"
	"github.com/dossier-io/dossier/internal/store"
	"github.com/dossier-io/dossier/internal/trust"
)

var tracer = dossierotel.Tracer("github.com/dossier-io/dossier/internal/agent")

// ErrRateLimited is returned when the per-org invocation limiter rejects
// a run before the model is called.
var ErrRateLimited = errors.New("model invocation rate limit exceeded")

// DefaultModel is used when the config names none.
const DefaultModel = "gpt-4o"

// Runner executes the run orchestrator pipeline.
type Runner struct {
	gate       *policy.Gate
	guardrails *policy.GuardrailMatcher
	store      *store.Store
	retriever  *retrieval.Engine
	invoker    llm.Invoker
	validator  *citation.Validator
	registry   allowlist.Registry
	limiter    *llm.RateLimiter

	model           string
	allowOverride   []string
	allowMaxDomains int
}

// RunnerConfig holds the dependencies for constructing a Runner.
type RunnerConfig struct {
	Gate              *policy.Gate
	Guardrails        *policy.GuardrailMatcher
	Store             *store.Store
	Retriever         *retrieval.Engine
	Invoker           llm.Invoker
	Validator         *citation.Validator
	Registry          allowlist.Registry
	Limiter           *llm.RateLimiter // optional; nil = unlimited
	Model             string
	AllowlistOverride []string
	AllowlistMax      int
}

// NewRunner creates a runner with the given dependencies.
func NewRunner(cfg RunnerConfig) *Runner {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxDomains := cfg.AllowlistMax
	if maxDomains <= 0 {
		maxDomains = allowlist.DefaultMaxDomains
	}
	return &Runner{
		gate:            cfg.Gate,
		guardrails:      cfg.Guardrails,
		store:           cfg.Store,
		retriever:       cfg.Retriever,
		invoker:         cfg.Invoker,
		validator:       cfg.Validator,
		registry:        cfg.Registry,
		limiter:         cfg.Limiter,
		model:           model,
		allowOverride:   cfg.AllowlistOverride,
		allowMaxDomains: maxDomains,
	}
}

// RunInput is one legal-research question with its caller identity.
type RunInput struct {
	Question     string `json:"question"`
	Context      string `json:"context,omitempty"`
	OrgID        string `json:"org_id"`
	UserID       string `json:"user_id"`
	Confidential bool   `json:"confidential,omitempty"`
}

// RunResponse is the orchestrator's output for one run.
type RunResponse struct {
	RunID        string                       `json:"run_id"`
	Payload      *irac.Answer                 `json:"payload"`
	Plan         []PlanStep                   `json:"plan,omitempty"`
	ToolLogs     []llm.ToolCall               `json:"tool_logs,omitempty"`
	Reused       bool                         `json:"reused,omitempty"`
	Verification *citation.VerificationResult `json:"verification,omitempty"`
	TrustPanel   *trust.Panel                 `json:"trust_panel,omitempty"`
}

// Run executes the complete pipeline for one question.
func (r *Runner) Run(ctx context.Context, input *RunInput, access *policy.AccessContext) (*RunResponse, error) {
	startTime := time.Now()
	correlationID := "run_" + uuid.New().String()[:12]

	ctx, span := tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("correlation_id", correlationID),
			attribute.String("org_id", input.OrgID),
			attribute.Bool("confidential_requested", input.Confidential),
		))
	defer span.End()

	log.Info().
		Str("correlation_id", correlationID).
		Str("org_id", input.OrgID).
		Msg("run_started")

	planTrace := &plan{}

	// Stage 1: policy gate. A violation short-circuits before any model
	// or retrieval call and writes nothing.
	decision, err := r.gate.Check(ctx, access, input.Question, input.Confidential)
	if err != nil {
		span.SetStatus(codes.Error, "policy denied")
		var violation *policy.ViolationError
		if errors.As(err, &violation) {
			log.Warn().
				Str("correlation_id", correlationID).
				Str("code", violation.Code).
				Msg("policy_denied")
		}
		return nil, err
	}
	planTrace.add("policy_gate", decision.Jurisdiction)
	span.SetAttributes(
		attribute.String("jurisdiction", decision.Jurisdiction),
		attribute.Bool("confidential", decision.Confidential),
		attribute.Int("web_search_budget", decision.WebSearchBudget),
	)

	fingerprint := Fingerprint(input.Question, input.OrgID, decision.Jurisdiction, decision.Confidential)

	// Stage 2: pre-model guardrails. A match is not an error; it takes
	// the synthesized-answer fast path without invoking the model.
	if class := r.guardrails.Match(input.Question, decision.Jurisdiction, access.Policy); class != nil {
		planTrace.add("pre_model_guardrail", class.Name)
		return r.runGuardrailFastPath(ctx, correlationID, fingerprint, input, decision, class, planTrace, startTime)
	}

	// Stage 3: run cache.
	if cached, err := r.store.FindRunByFingerprint(ctx, fingerprint); err == nil {
		log.Info().
			Str("correlation_id", correlationID).
			Str("run_id", cached.ID).
			Msg("run_reused")
		span.SetAttributes(attribute.Bool("reused", true))
		return reusedResponse(ctx, r.store, cached)
	}
	planTrace.add("run_cache", "miss")

	// Stage 4: retrieval augmentation. Executes even in confidential
	// mode; only the persistence of the snippet set is skipped there.
	var snippets []retrieval.Snippet
	if r.retriever != nil {
		snippets, err = r.retriever.Retrieve(ctx, decision.Jurisdiction, input.Question)
		if err != nil {
			log.Warn().Err(err).
				Str("correlation_id", correlationID).
				Msg("retrieval_degraded")
			snippets = nil
		}
	}
	planTrace.add("retrieval", fmt.Sprintf("%d snippets", len(snippets)))

	if r.limiter != nil && !r.limiter.Allow(input.OrgID) {
		span.SetStatus(codes.Error, "rate limited")
		return nil, fmt.Errorf("org %s: %w", input.OrgID, ErrRateLimited)
	}

	// Stage 5: guarded invocation.
	tools, budgets, _ := buildToolset(r.registry, r.allowOverride, r.allowMaxDomains, decision.WebSearchBudget)
	result, esc, err := r.invokeGuarded(ctx, correlationID, input, decision, tools, budgets, snippets, planTrace)
	if err != nil {
		span.SetStatus(codes.Error, "invocation failed")
		return nil, err
	}

	ans, err := irac.Parse(result.Payload)
	if err != nil {
		span.SetStatus(codes.Error, "invalid answer shape")
		return nil, fmt.Errorf("structured answer: %w", err)
	}
	planTrace.add("answer_parsed", ans.Issue)

	// Stage 6: citation and case-quality validation. An out-of-scope
	// host aborts before any persistence.
	verification, err := r.validator.Validate(ctx, decision.Jurisdiction, ans)
	if err != nil {
		span.SetStatus(codes.Error, "citation validation failed")
		return nil, err
	}
	if esc.Escalated() {
		code := llm.NormalizeGuardrailCode(esc.guardrailID)
		verification.Status = citation.StatusHitlEscalated
		verification.ForceHitl = true
		verification.HitlReasons = append([]string{code}, verification.HitlReasons...)
		verification.Notes = append([]citation.Note{{
			Code:     code,
			Message:  "first generation rejected by output guardrail; answer produced through escalation",
			Severity: citation.SeverityWarning,
		}}, verification.Notes...)
	}
	planTrace.add("validation", verification.Status)

	// Stage 7: trust panel.
	panel := trust.Build(r.registry, ans, snippets, verification)
	planTrace.add("trust_panel", fmt.Sprintf("%d/%d allowlisted", panel.Citations.Allowlisted, panel.Citations.Total))

	// Stage 8: side-effect fan-out.
	toolLogs := result.ToolCalls
	if esc.Escalated() {
		escInput, _ := json.Marshal(map[string]interface{}{"guardrail_id": esc.guardrailID})
		escOutput, _ := json.Marshal(map[string]interface{}{"escalated": true})
		toolLogs = append(toolLogs, llm.ToolCall{Tool: "guardrail_escalation", Input: escInput, Output: escOutput})
	}

	runID, reused, err := r.fanOut(ctx, fanOutParams{
		correlationID: correlationID,
		fingerprint:   fingerprint,
		input:         input,
		decision:      decision,
		answer:        ans,
		verification:  verification,
		planSteps:     planTrace.steps,
		toolLogs:      toolLogs,
		snippets:      snippets,
		result:        result,
		escalated:     esc.Escalated(),
		startTime:     startTime,
	})
	if err != nil {
		return nil, err
	}
	if reused {
		cached, findErr := r.store.FindRunByFingerprint(ctx, fingerprint)
		if findErr != nil {
			return nil, fmt.Errorf("resolving winning run for fingerprint conflict: %w", findErr)
		}
		return reusedResponse(ctx, r.store, cached)
	}

	log.Info().
		Str("correlation_id", correlationID).
		Str("run_id", runID).
		Str("status", verification.Status).
		Bool("escalated", esc.Escalated()).
		Int64("duration_ms", time.Since(startTime).Milliseconds()).
		Func(dossierotel.LogTraceFields(ctx)).
		Msg("run_completed")

	return &RunResponse{
		RunID:        runID,
		Payload:      ans,
		Plan:         planTrace.steps,
		ToolLogs:     toolLogs,
		Verification: verification,
		TrustPanel:   &panel,
	}, nil
}

// invokeGuarded performs the model call with the bounded escalation
// retry: exactly one retry after a guardrail rejection, a second
// rejection is fatal.
func (r *Runner) invokeGuarded(ctx context.Context, correlationID string, input *RunInput, decision *policy.Decision, tools []llm.ToolSpec, budgets map[string]int, snippets []retrieval.Snippet, planTrace *plan) (*llm.InvokeResult, *escalation, error) {
	req := &llm.InvokeRequest{
		Model:       r.model,
		System:      systemPrompt(decision.Jurisdiction),
		Question:    combineQuestion(input),
		Context:     retrieval.ContextBlock(snippets),
		Tools:       tools,
		ToolBudgets: budgets,
	}

	esc := newEscalation()
	esc.transition(StateInvoked)
	planTrace.add("model_invocation", r.model)

	result, err := r.invoker.Invoke(ctx, req)
	if err == nil {
		esc.transition(StatePassed)
		return result, esc, nil
	}

	rejection, ok := llm.AsGuardrailRejection(err)
	if !ok {
		return nil, esc, fmt.Errorf("model invocation: %w", err)
	}

	esc.transition(StateRejected)
	esc.transition(StateEscalated)
	esc.guardrailID = rejection.GuardrailID
	log.Warn().
		Str("correlation_id", correlationID).
		Str("guardrail_id", rejection.GuardrailID).
		Msg("guardrail_rejected_escalating")
	planTrace.add("guardrail_escalation", rejection.GuardrailID)

	escReq := *req
	escReq.System = req.System + "\n\n" + escalationPreamble(rejection.GuardrailID)
	result, err = r.invoker.Invoke(ctx, &escReq)
	if err != nil {
		esc.transition(StateFatal)
		if second, ok := llm.AsGuardrailRejection(err); ok {
			return nil, esc, fmt.Errorf("guardrail %s rejected the escalated generation: %w", second.GuardrailID, err)
		}
		return nil, esc, fmt.Errorf("escalated invocation: %w", err)
	}
	esc.transition(StateResolved)
	return result, esc, nil
}

// runGuardrailFastPath synthesizes the canned answer for a pre-model
// guardrail match, forces HITL, and completes the full fan-out without
// any model invocation.
func (r *Runner) runGuardrailFastPath(ctx context.Context, correlationID, fingerprint string, input *RunInput, decision *policy.Decision, class *policy.GuardrailClass, planTrace *plan, startTime time.Time) (*RunResponse, error) {
	log.Warn().
		Str("correlation_id", correlationID).
		Str("guardrail_class", class.Name).
		Msg("pre_model_guardrail_matched")

	ans := policy.BuildGuardrailAnswer(decision.Jurisdiction, class)
	verification := &citation.VerificationResult{
		Status:      citation.StatusHitlEscalated,
		ForceHitl:   true,
		HitlReasons: []string{class.Name},
		Notes: []citation.Note{{
			Code:     class.Name,
			Message:  class.Description,
			Severity: citation.SeverityBlock,
		}},
	}
	if class.LearningJob != "" {
		verification.LearningJobs = []string{class.LearningJob}
	}
	panel := trust.Build(r.registry, ans, nil, verification)
	planTrace.add("canned_answer", class.Name)

	runID, reused, err := r.fanOut(ctx, fanOutParams{
		correlationID: correlationID,
		fingerprint:   fingerprint,
		input:         input,
		decision:      decision,
		answer:        ans,
		verification:  verification,
		planSteps:     planTrace.steps,
		startTime:     startTime,
	})
	if err != nil {
		return nil, err
	}
	if reused {
		cached, findErr := r.store.FindRunByFingerprint(ctx, fingerprint)
		if findErr != nil {
			return nil, fmt.Errorf("resolving winning run for fingerprint conflict: %w", findErr)
		}
		return reusedResponse(ctx, r.store, cached)
	}

	return &RunResponse{
		RunID:        runID,
		Payload:      ans,
		Plan:         planTrace.steps,
		Verification: verification,
		TrustPanel:   &panel,
	}, nil
}

// reusedResponse reconstructs the response from a cached run record.
func reusedResponse(ctx context.Context, st *store.Store, run *store.RunRecord) (*RunResponse, error) {
	ans, err := irac.Parse(run.Payload)
	if err != nil {
		return nil, fmt.Errorf("cached run %s payload: %w", run.ID, err)
	}
	var steps []PlanStep
	if err := json.Unmarshal(run.Plan, &steps); err != nil {
		steps = nil
	}
	var verification citation.VerificationResult
	resp := &RunResponse{
		RunID:   run.ID,
		Payload: ans,
		Plan:    steps,
		Reused:  true,
	}
	if err := json.Unmarshal(run.Verification, &verification); err == nil && verification.Status != "" {
		resp.Verification = &verification
	}
	if logs, err := st.ListToolInvocationsByRun(ctx, run.ID); err == nil {
		for _, l := range logs {
			resp.ToolLogs = append(resp.ToolLogs, llm.ToolCall{ID: l.ID, Tool: l.Tool, Input: l.Input, Output: l.Output})
		}
	}
	return resp, nil
}

func combineQuestion(input *RunInput) string {
	if input.Context == "" {
		return input.Question
	}
	return input.Question + "\n\nContexte fourni par l'utilisateur:\n" + input.Context
}

func systemPrompt(jurisdiction string) string {
	return fmt.Sprintf(`Tu es un assistant de recherche juridique francophone pour la juridiction %s.
Réponds exclusivement avec un objet JSON au format IRAC:
{"jurisdiction":{"country","eu","ohada"},"issue","rules":[{"citation","source_url","binding","effective_date"}],"application","conclusion","citations":[{"title","publisher","date","url","note"}],"risk":{"level","why","hitl_required"},"language"}
Cite uniquement des sources officielles. Toute traduction non officielle doit porter une note explicite.`, jurisdiction)
}

func escalationPreamble(guardrailID string) string {
	return fmt.Sprintf(`La génération précédente a été rejetée par le garde-fou %q. Reformule la réponse en respectant strictement le schéma IRAC, en citant uniquement des sources officielles dans leur langue authentique, et en signalant risk.hitl_required=true.`, guardrailID)
}
