package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dossier-io/dossier/internal/citation"
	"github.com/dossier-io/dossier/internal/irac"
	"github.com/dossier-io/dossier/internal/llm"
	"github.com/dossier-io/dossier/internal/policy"
	"github.com/dossier-io/dossier/internal/retrieval"
	"github.com/dossier-io/dossier/internal/store"
)

type fanOutParams struct {
	correlationID string
	fingerprint   string
	input         *RunInput
	decision      *policy.Decision
	answer        *irac.Answer
	verification  *citation.VerificationResult
	planSteps     []PlanStep
	toolLogs      []llm.ToolCall
	snippets      []retrieval.Snippet
	result        *llm.InvokeResult
	escalated     bool
	startTime     time.Time
}

// fanOut persists the run and its side effects in a fixed order: run
// record, citations, tool logs, retrieval set, case scores, HITL tickets,
// learning jobs, audit events, telemetry. The run-record insert is the
// only fatal write; every later failure is logged and swallowed so the
// user-facing run still completes. Returns reused=true when a concurrent
// run with the same fingerprint won the insert race.
func (r *Runner) fanOut(ctx context.Context, p fanOutParams) (string, bool, error) {
	payload, err := json.Marshal(p.answer)
	if err != nil {
		return "", false, fmt.Errorf("encoding answer payload: %w", err)
	}
	planJSON, err := json.Marshal(p.planSteps)
	if err != nil {
		return "", false, fmt.Errorf("encoding plan trace: %w", err)
	}
	verifJSON, err := json.Marshal(p.verification)
	if err != nil {
		return "", false, fmt.Errorf("encoding verification: %w", err)
	}

	run := &store.RunRecord{
		Fingerprint:  p.fingerprint,
		OrgID:        p.input.OrgID,
		UserID:       p.input.UserID,
		Jurisdiction: p.decision.Jurisdiction,
		Question:     p.input.Question,
		Confidential: p.decision.Confidential,
		Status:       p.verification.Status,
		Payload:      payload,
		Plan:         planJSON,
		Verification: verifJSON,
	}
	if err := r.store.InsertRun(ctx, run); err != nil {
		if errors.Is(err, store.ErrDuplicateFingerprint) {
			return "", true, nil
		}
		return "", false, fmt.Errorf("persisting run: %w", err)
	}

	warn := func(what string, err error) {
		if err != nil {
			log.Warn().Err(err).
				Str("correlation_id", p.correlationID).
				Str("run_id", run.ID).
				Msg(what)
		}
	}

	if rows := citationRows(run.ID, p.answer); len(rows) > 0 {
		warn("citations_write_failed", r.store.InsertCitations(ctx, rows))
	}

	if len(p.toolLogs) > 0 {
		invocations := make([]store.ToolInvocation, 0, len(p.toolLogs))
		for _, call := range p.toolLogs {
			invocations = append(invocations, store.ToolInvocation{
				RunID:  run.ID,
				Tool:   call.Tool,
				Input:  call.Input,
				Output: call.Output,
			})
		}
		warn("tool_logs_write_failed", r.store.InsertToolInvocations(ctx, invocations))
	}

	if !p.decision.Confidential && len(p.snippets) > 0 {
		raw, err := retrieval.MarshalSnippets(p.snippets)
		if err == nil {
			err = r.store.InsertRetrievalSet(ctx, run.ID, raw)
		}
		warn("retrieval_set_write_failed", err)
	}

	for i := range p.verification.NewScores {
		warn("case_score_write_failed", r.store.InsertCaseScore(ctx, &p.verification.NewScores[i]))
	}

	if p.verification.ForceHitl {
		ticketPayload, _ := json.Marshal(map[string]interface{}{
			"reasons":      p.verification.HitlReasons,
			"jurisdiction": p.decision.Jurisdiction,
		})
		reason := "hitl_required"
		if len(p.verification.HitlReasons) > 0 {
			reason = p.verification.HitlReasons[0]
		}
		warn("hitl_write_failed", r.store.InsertHitlTicket(ctx, &store.HitlTicket{
			RunID:   run.ID,
			Reason:  reason,
			Payload: ticketPayload,
		}))
	}

	if len(p.verification.LearningJobs) > 0 {
		jobs := make([]store.LearningJob, 0, len(p.verification.LearningJobs))
		for _, jobType := range p.verification.LearningJobs {
			jobPayload, _ := json.Marshal(map[string]string{
				"question":     p.input.Question,
				"jurisdiction": p.decision.Jurisdiction,
			})
			jobs = append(jobs, store.LearningJob{RunID: run.ID, JobType: jobType, Payload: jobPayload})
		}
		warn("learning_jobs_write_failed", r.store.InsertLearningJobs(ctx, jobs))
	}

	warn("audit_write_failed", r.store.InsertAuditEvents(ctx, auditEvents(run, p, r.gate.Version())))

	if !p.decision.Confidential && p.result != nil {
		cost := r.invoker.EstimateCost(p.result.Model, p.result.InputTokens, p.result.OutputTokens)
		llm.RecordCostMetrics(ctx, cost, p.input.OrgID, p.result.Model, p.escalated)
		warn("telemetry_write_failed", r.store.InsertTelemetry(ctx, &store.Telemetry{
			RunID:        run.ID,
			DurationMS:   time.Since(p.startTime).Milliseconds(),
			InputTokens:  p.result.InputTokens,
			OutputTokens: p.result.OutputTokens,
			CostEUR:      cost,
			Model:        p.result.Model,
		}))
	}

	return run.ID, false, nil
}

// citationRows flattens the answer's citations, marking which back a
// binding rule.
func citationRows(runID string, ans *irac.Answer) []store.CitationRow {
	binding := map[string]bool{}
	for _, rule := range ans.Rules {
		if rule.Binding {
			binding[rule.SourceURL] = true
		}
	}
	rows := make([]store.CitationRow, 0, len(ans.Citations))
	for _, cit := range ans.Citations {
		rows = append(rows, store.CitationRow{
			RunID:       runID,
			Title:       cit.Title,
			Publisher:   cit.Publisher,
			URL:         cit.URL,
			Host:        irac.NormalizeHost(cit.URL),
			Date:        cit.Date,
			Note:        cit.Note,
			Allowlisted: true, // out-of-scope hosts abort before fan-out
			Binding:     binding[cit.URL],
		})
	}
	return rows
}

// auditEvents derives the compliance records for one completed run.
func auditEvents(run *store.RunRecord, p fanOutParams, policyVersion string) []store.AuditEvent {
	completedPayload, _ := json.Marshal(map[string]interface{}{
		"status":         run.Status,
		"jurisdiction":   run.Jurisdiction,
		"confidential":   run.Confidential,
		"escalated":      p.escalated,
		"policy_version": policyVersion,
	})
	events := []store.AuditEvent{{
		RunID:     run.ID,
		EventType: "run_completed",
		Payload:   completedPayload,
	}}

	if p.answer.Jurisdiction.EU && p.answer.Risk.Level == irac.RiskHigh {
		events = append(events, store.AuditEvent{
			RunID:     run.ID,
			EventType: "eu_impact_assessment_required",
		})
	}
	return events
}
