package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CitationRow is one persisted citation from a structured answer.
type CitationRow struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	Title       string `json:"title"`
	Publisher   string `json:"publisher,omitempty"`
	URL         string `json:"url"`
	Host        string `json:"host"`
	Date        string `json:"date,omitempty"`
	Note        string `json:"note,omitempty"`
	Allowlisted bool   `json:"allowlisted"`
	Binding     bool   `json:"binding"`
}

// ToolInvocation is one logged tool call from the hosted service.
type ToolInvocation struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// HitlTicket is an append-only escalation record for human review.
type HitlTicket struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// LearningJob signals the ingestion/learning pipeline (e.g. indexing_ticket,
// guardrail_fr_judge_analytics). Append-only; dispatched in batches.
type LearningJob struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	JobType    string          `json:"job_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Dispatched bool            `json:"dispatched"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditEvent is an append-only compliance record keyed by run.
type AuditEvent struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Telemetry is the per-run latency/token/cost row. Never written for
// confidential runs.
type Telemetry struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	DurationMS   int64     `json:"duration_ms"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostEUR      float64   `json:"cost_eur"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// InsertCitations persists citation rows for a run.
func (s *Store) InsertCitations(ctx context.Context, rows []CitationRow) error {
	ctx, span := tracer.Start(ctx, "store.citations.insert_batch",
		trace.WithAttributes(attribute.Int("citations.count", len(rows))))
	defer span.End()

	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = "cit_" + uuid.New().String()[:12]
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO citations (id, run_id, title, publisher, url, host, cite_date, note, allowlisted, binding)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rows[i].ID, rows[i].RunID, rows[i].Title, rows[i].Publisher, rows[i].URL,
			rows[i].Host, rows[i].Date, rows[i].Note, rows[i].Allowlisted, rows[i].Binding)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("inserting citation: %w", err)
		}
	}
	return nil
}

// ListCitationsByRun returns the persisted citations for a run.
func (s *Store) ListCitationsByRun(ctx context.Context, runID string) ([]CitationRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, title, publisher, url, host, cite_date, note, allowlisted, binding
		 FROM citations WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying citations: %w", err)
	}
	defer rows.Close()

	var results []CitationRow
	for rows.Next() {
		var c CitationRow
		if err := rows.Scan(&c.ID, &c.RunID, &c.Title, &c.Publisher, &c.URL,
			&c.Host, &c.Date, &c.Note, &c.Allowlisted, &c.Binding); err != nil {
			continue
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// InsertToolInvocations persists tool-invocation logs for a run.
func (s *Store) InsertToolInvocations(ctx context.Context, rows []ToolInvocation) error {
	ctx, span := tracer.Start(ctx, "store.tool_invocations.insert_batch",
		trace.WithAttributes(attribute.Int("tool_invocations.count", len(rows))))
	defer span.End()

	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = "tool_" + uuid.New().String()[:12]
		}
		if rows[i].CreatedAt.IsZero() {
			rows[i].CreatedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tool_invocations (id, run_id, tool, input_json, output_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rows[i].ID, rows[i].RunID, rows[i].Tool,
			rawOrEmpty(rows[i].Input), rawOrEmpty(rows[i].Output), rows[i].CreatedAt)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("inserting tool invocation: %w", err)
		}
	}
	return nil
}

// ListToolInvocationsByRun returns the tool logs for a run in insertion order.
func (s *Store) ListToolInvocationsByRun(ctx context.Context, runID string) ([]ToolInvocation, error) {
	ctx, span := tracer.Start(ctx, "store.tool_invocations.list_by_run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, tool, input_json, output_json, created_at
		 FROM tool_invocations WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying tool invocations: %w", err)
	}
	defer rows.Close()

	var results []ToolInvocation
	for rows.Next() {
		var ti ToolInvocation
		var input, output string
		if err := rows.Scan(&ti.ID, &ti.RunID, &ti.Tool, &input, &output, &ti.CreatedAt); err != nil {
			continue
		}
		ti.Input = json.RawMessage(input)
		ti.Output = json.RawMessage(output)
		results = append(results, ti)
	}
	return results, rows.Err()
}

// InsertRetrievalSet persists the snippets used for a run. Skipped entirely
// by the orchestrator in confidential mode.
func (s *Store) InsertRetrievalSet(ctx context.Context, runID string, snippets json.RawMessage) error {
	ctx, span := tracer.Start(ctx, "store.retrieval_sets.insert",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retrieval_sets (id, run_id, snippets_json, created_at) VALUES (?, ?, ?, ?)`,
		"ret_"+uuid.New().String()[:12], runID, rawOrEmpty(snippets), time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("inserting retrieval set: %w", err)
	}
	return nil
}

// ListRetrievalSetsByRun returns persisted snippet sets for a run.
func (s *Store) ListRetrievalSetsByRun(ctx context.Context, runID string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snippets_json FROM retrieval_sets WHERE run_id = ? ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying retrieval sets: %w", err)
	}
	defer rows.Close()

	var results []json.RawMessage
	for rows.Next() {
		var snippets string
		if err := rows.Scan(&snippets); err != nil {
			continue
		}
		results = append(results, json.RawMessage(snippets))
	}
	return results, rows.Err()
}

// InsertHitlTicket enqueues a human-review ticket.
func (s *Store) InsertHitlTicket(ctx context.Context, t *HitlTicket) error {
	ctx, span := tracer.Start(ctx, "store.hitl.insert",
		trace.WithAttributes(
			attribute.String("run.id", t.RunID),
			attribute.String("hitl.reason", t.Reason),
		))
	defer span.End()

	if t.ID == "" {
		t.ID = "hitl_" + uuid.New().String()[:12]
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hitl_tickets (id, run_id, reason, payload_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.RunID, t.Reason, rawOrEmpty(t.Payload), t.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("inserting hitl ticket: %w", err)
	}
	return nil
}

// ListHitlTicketsByRun returns tickets for a run.
func (s *Store) ListHitlTicketsByRun(ctx context.Context, runID string) ([]HitlTicket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, reason, payload_json, created_at FROM hitl_tickets WHERE run_id = ? ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying hitl tickets: %w", err)
	}
	defer rows.Close()

	var results []HitlTicket
	for rows.Next() {
		var t HitlTicket
		var payload string
		if err := rows.Scan(&t.ID, &t.RunID, &t.Reason, &payload, &t.CreatedAt); err != nil {
			continue
		}
		t.Payload = json.RawMessage(payload)
		results = append(results, t)
	}
	return results, rows.Err()
}

// InsertLearningJobs persists a batch of learning jobs.
func (s *Store) InsertLearningJobs(ctx context.Context, jobs []LearningJob) error {
	ctx, span := tracer.Start(ctx, "store.learning_jobs.insert_batch",
		trace.WithAttributes(attribute.Int("learning_jobs.count", len(jobs))))
	defer span.End()

	for i := range jobs {
		if jobs[i].ID == "" {
			jobs[i].ID = "job_" + uuid.New().String()[:12]
		}
		if jobs[i].CreatedAt.IsZero() {
			jobs[i].CreatedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO learning_jobs (id, run_id, job_type, payload_json, dispatched, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			jobs[i].ID, jobs[i].RunID, jobs[i].JobType, rawOrEmpty(jobs[i].Payload),
			jobs[i].Dispatched, jobs[i].CreatedAt)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("inserting learning job: %w", err)
		}
	}
	return nil
}

// ListPendingLearningJobs returns undispatched jobs, oldest first.
func (s *Store) ListPendingLearningJobs(ctx context.Context, limit int) ([]LearningJob, error) {
	query := `SELECT id, run_id, job_type, payload_json, dispatched, created_at
	          FROM learning_jobs WHERE dispatched = 0 ORDER BY created_at`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying learning jobs: %w", err)
	}
	defer rows.Close()

	var results []LearningJob
	for rows.Next() {
		var j LearningJob
		var payload string
		if err := rows.Scan(&j.ID, &j.RunID, &j.JobType, &payload, &j.Dispatched, &j.CreatedAt); err != nil {
			continue
		}
		j.Payload = json.RawMessage(payload)
		results = append(results, j)
	}
	return results, rows.Err()
}

// MarkLearningJobsDispatched flags a batch of jobs as handed off.
func (s *Store) MarkLearningJobsDispatched(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE learning_jobs SET dispatched = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("marking learning job dispatched: %w", err)
		}
	}
	return nil
}

// InsertAuditEvents persists a batch of audit events.
func (s *Store) InsertAuditEvents(ctx context.Context, events []AuditEvent) error {
	ctx, span := tracer.Start(ctx, "store.audit_events.insert_batch",
		trace.WithAttributes(attribute.Int("audit_events.count", len(events))))
	defer span.End()

	for i := range events {
		if events[i].ID == "" {
			events[i].ID = "aud_" + uuid.New().String()[:12]
		}
		if events[i].CreatedAt.IsZero() {
			events[i].CreatedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO audit_events (id, run_id, event_type, payload_json, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			events[i].ID, events[i].RunID, events[i].EventType,
			rawOrEmpty(events[i].Payload), events[i].CreatedAt)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("inserting audit event: %w", err)
		}
	}
	return nil
}

// ListAuditEvents returns recent audit events, newest first.
func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]AuditEvent, error) {
	query := `SELECT id, run_id, event_type, payload_json, created_at
	          FROM audit_events ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var results []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var payload string
		if err := rows.Scan(&e.ID, &e.RunID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			continue
		}
		e.Payload = json.RawMessage(payload)
		results = append(results, e)
	}
	return results, rows.Err()
}

// InsertTelemetry persists the per-run telemetry row.
func (s *Store) InsertTelemetry(ctx context.Context, t *Telemetry) error {
	if t.ID == "" {
		t.ID = "tel_" + uuid.New().String()[:12]
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry (id, run_id, duration_ms, input_tokens, output_tokens, cost_eur, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RunID, t.DurationMS, t.InputTokens, t.OutputTokens, t.CostEUR, t.Model, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting telemetry: %w", err)
	}
	return nil
}

// CountTelemetryByRun reports how many telemetry rows exist for a run.
func (s *Store) CountTelemetryByRun(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM telemetry WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting telemetry: %w", err)
	}
	return n, nil
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
