package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Run statuses persisted with the record.
const (
	StatusPassed        = "passed"
	StatusHitlEscalated = "hitl_escalated"
)

// RunRecord is the persisted run: created once per fingerprint, reused on
// subsequent identical requests, never mutated afterwards.
type RunRecord struct {
	ID           string          `json:"id"`
	Fingerprint  string          `json:"fingerprint"`
	OrgID        string          `json:"org_id"`
	UserID       string          `json:"user_id"`
	Jurisdiction string          `json:"jurisdiction"`
	Question     string          `json:"question"`
	Confidential bool            `json:"confidential"`
	Status       string          `json:"status"`
	Payload      json.RawMessage `json:"payload"`
	Plan         json.RawMessage `json:"plan"`
	Verification json.RawMessage `json:"verification"`
	CreatedAt    time.Time       `json:"created_at"`
}

// InsertRun persists a new run record, assigning its ID and creation time
// when unset. Returns ErrDuplicateFingerprint when a concurrent run with the
// same fingerprint already won the insert race.
func (s *Store) InsertRun(ctx context.Context, r *RunRecord) error {
	if r.ID == "" {
		r.ID = "run_" + uuid.New().String()[:12]
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	ctx, span := tracer.Start(ctx, "store.runs.insert",
		trace.WithAttributes(
			attribute.String("run.id", r.ID),
			attribute.String("org_id", r.OrgID),
		))
	defer span.End()

	if r.Plan == nil {
		r.Plan = json.RawMessage("[]")
	}
	if r.Verification == nil {
		r.Verification = json.RawMessage("{}")
	}

	query := `INSERT INTO runs (id, fingerprint, org_id, user_id, jurisdiction, question,
	                            confidential, status, payload_json, plan_json, verification_json, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Fingerprint, r.OrgID, r.UserID, r.Jurisdiction, r.Question,
		r.Confidential, r.Status, string(r.Payload), string(r.Plan), string(r.Verification), r.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateFingerprint
		}
		span.RecordError(err)
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FindRunByFingerprint returns the run for a fingerprint, or ErrRunNotFound.
func (s *Store) FindRunByFingerprint(ctx context.Context, fingerprint string) (*RunRecord, error) {
	ctx, span := tracer.Start(ctx, "store.runs.find_by_fingerprint")
	defer span.End()

	return s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, org_id, user_id, jurisdiction, question,
		        confidential, status, payload_json, plan_json, verification_json, created_at
		 FROM runs WHERE fingerprint = ?`, fingerprint))
}

// GetRun returns the run with the given id, or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	ctx, span := tracer.Start(ctx, "store.runs.get",
		trace.WithAttributes(attribute.String("run.id", id)))
	defer span.End()

	return s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, org_id, user_id, jurisdiction, question,
		        confidential, status, payload_json, plan_json, verification_json, created_at
		 FROM runs WHERE id = ?`, id))
}

// ListRuns returns recent runs for an org, newest first.
func (s *Store) ListRuns(ctx context.Context, orgID string, limit int) ([]RunRecord, error) {
	ctx, span := tracer.Start(ctx, "store.runs.list",
		trace.WithAttributes(attribute.String("org_id", orgID)))
	defer span.End()

	query := `SELECT id, fingerprint, org_id, user_id, jurisdiction, question,
	                 confidential, status, payload_json, plan_json, verification_json, created_at
	          FROM runs`
	args := []interface{}{}
	if orgID != "" {
		query += ` WHERE org_id = ?`
		args = append(args, orgID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var results []RunRecord
	for rows.Next() {
		var r RunRecord
		var payload, plan, verif string
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.OrgID, &r.UserID, &r.Jurisdiction, &r.Question,
			&r.Confidential, &r.Status, &payload, &plan, &verif, &r.CreatedAt); err != nil {
			continue
		}
		r.Payload = json.RawMessage(payload)
		r.Plan = json.RawMessage(plan)
		r.Verification = json.RawMessage(verif)
		results = append(results, r)
	}
	span.SetAttributes(attribute.Int("runs.count", len(results)))
	return results, rows.Err()
}

func (s *Store) scanRun(row *sql.Row) (*RunRecord, error) {
	var r RunRecord
	var payload, plan, verif string
	err := row.Scan(&r.ID, &r.Fingerprint, &r.OrgID, &r.UserID, &r.Jurisdiction, &r.Question,
		&r.Confidential, &r.Status, &payload, &plan, &verif, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	r.Payload = json.RawMessage(payload)
	r.Plan = json.RawMessage(plan)
	r.Verification = json.RawMessage(verif)
	return &r, nil
}
