package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dossier-io/dossier/internal/citation"
)

// FindCaseScore returns the cached quality score for a case-law source.
// Returns ErrCaseScoreNotFound when the source has never been scored.
func (s *Store) FindCaseScore(ctx context.Context, sourceID string) (*citation.CaseScore, error) {
	ctx, span := tracer.Start(ctx, "store.case_scores.find",
		trace.WithAttributes(attribute.String("case.source_id", sourceID)))
	defer span.End()

	var score citation.CaseScore
	var axes string
	err := s.db.QueryRowContext(ctx,
		`SELECT source_id, jurisdiction, axes_json, overall, hard_block, notes
		 FROM case_scores WHERE source_id = ?`, sourceID).
		Scan(&score.SourceID, &score.Jurisdiction, &axes, &score.Overall, &score.HardBlock, &score.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCaseScoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying case score: %w", err)
	}
	if err := json.Unmarshal([]byte(axes), &score.Axes); err != nil {
		return nil, fmt.Errorf("decoding case score axes: %w", err)
	}
	return &score, nil
}

// InsertCaseScore persists a freshly computed case-quality score. Scores
// are immutable once written; a concurrent insert of the same source
// keeps the first writer's row.
func (s *Store) InsertCaseScore(ctx context.Context, score *citation.CaseScore) error {
	ctx, span := tracer.Start(ctx, "store.case_scores.insert",
		trace.WithAttributes(
			attribute.String("case.source_id", score.SourceID),
			attribute.Float64("case.overall", score.Overall),
		))
	defer span.End()

	axes, err := json.Marshal(score.Axes)
	if err != nil {
		return fmt.Errorf("encoding case score axes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO case_scores (source_id, jurisdiction, axes_json, overall, hard_block, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		score.SourceID, score.Jurisdiction, string(axes), score.Overall, score.HardBlock,
		score.Notes, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("inserting case score: %w", err)
	}
	return nil
}

// ListCaseScoresByJurisdiction returns scores for audit inspection.
func (s *Store) ListCaseScoresByJurisdiction(ctx context.Context, jurisdiction string) ([]citation.CaseScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, jurisdiction, axes_json, overall, hard_block, notes
		 FROM case_scores WHERE jurisdiction = ? ORDER BY source_id`, jurisdiction)
	if err != nil {
		return nil, fmt.Errorf("querying case scores: %w", err)
	}
	defer rows.Close()

	var results []citation.CaseScore
	for rows.Next() {
		var score citation.CaseScore
		var axes string
		if err := rows.Scan(&score.SourceID, &score.Jurisdiction, &axes, &score.Overall, &score.HardBlock, &score.Notes); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(axes), &score.Axes); err != nil {
			continue
		}
		results = append(results, score)
	}
	return results, rows.Err()
}
