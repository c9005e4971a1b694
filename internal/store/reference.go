package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dossier-io/dossier/internal/retrieval"
)

// PolicyVersion pins a policy bundle revision for audit reconstruction.
type PolicyVersion struct {
	ID          string    `json:"id"`
	VersionTag  string    `json:"version_tag"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListSynonymsByJurisdiction returns term expansions for a jurisdiction,
// most heavily weighted first.
func (s *Store) ListSynonymsByJurisdiction(ctx context.Context, jurisdiction string) ([]retrieval.Synonym, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT term, expansion, weight FROM synonyms
		 WHERE jurisdiction = ? ORDER BY weight DESC, term`, jurisdiction)
	if err != nil {
		return nil, fmt.Errorf("querying synonyms: %w", err)
	}
	defer rows.Close()

	var results []retrieval.Synonym
	for rows.Next() {
		var syn retrieval.Synonym
		if err := rows.Scan(&syn.Term, &syn.Expansion, &syn.Weight); err != nil {
			continue
		}
		results = append(results, syn)
	}
	return results, rows.Err()
}

// UpsertSynonym replaces a term expansion for a jurisdiction.
func (s *Store) UpsertSynonym(ctx context.Context, jurisdiction string, syn retrieval.Synonym) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO synonyms (jurisdiction, term, expansion, weight) VALUES (?, ?, ?, ?)`,
		jurisdiction, syn.Term, syn.Expansion, syn.Weight)
	if err != nil {
		return fmt.Errorf("upserting synonym: %w", err)
	}
	return nil
}

// RecordPolicyVersion registers a policy bundle revision.
func (s *Store) RecordPolicyVersion(ctx context.Context, versionTag, description string) (*PolicyVersion, error) {
	pv := &PolicyVersion{
		ID:          "pol_" + uuid.New().String()[:12],
		VersionTag:  versionTag,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy_versions (id, version_tag, description, created_at) VALUES (?, ?, ?, ?)`,
		pv.ID, pv.VersionTag, pv.Description, pv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("recording policy version: %w", err)
	}
	return pv, nil
}

// ListRecentPolicyVersions returns the newest policy versions first.
func (s *Store) ListRecentPolicyVersions(ctx context.Context, limit int) ([]PolicyVersion, error) {
	query := `SELECT id, version_tag, description, created_at FROM policy_versions ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying policy versions: %w", err)
	}
	defer rows.Close()

	var results []PolicyVersion
	for rows.Next() {
		var pv PolicyVersion
		if err := rows.Scan(&pv.ID, &pv.VersionTag, &pv.Description, &pv.CreatedAt); err != nil {
			continue
		}
		results = append(results, pv)
	}
	return results, rows.Err()
}
