// Package store persists every durable artifact of a run: the run record
// itself, citation rows, tool-invocation logs, retrieval sets, case scores,
// HITL tickets, learning jobs, audit events, and telemetry, plus the
// read-mostly reference tables (synonyms, policy versions) and the local
// retrieval corpus with its FTS5 keyword index.
//
// The runs table carries a UNIQUE constraint on the fingerprint: concurrent
// identical requests race on insert and exactly one record survives; the
// loser falls back to reused semantics.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	dossierotel "github.com/dossier-io/dossier/internal/otel"
)

var tracer = dossierotel.Tracer("github.com/dossier-io/dossier/internal/store")

// Domain errors.
var (
	ErrRunNotFound          = errors.New("run not found")
	ErrCaseScoreNotFound    = errors.New("case score not found")
	ErrDuplicateFingerprint = errors.New("run with this fingerprint already exists")
)

// Store is the SQLite-backed persistence layer. FTS5 is optional: when the
// SQLite build lacks the module (mattn/go-sqlite3 needs the sqlite_fts5
// build tag), corpus keyword search degrades to LIKE matching.
type Store struct {
	db      *sql.DB
	hasFTS5 bool
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL UNIQUE,
    org_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    jurisdiction TEXT NOT NULL,
    question TEXT NOT NULL,
    confidential INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    plan_json TEXT NOT NULL DEFAULT '[]',
    verification_json TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_org ON runs(org_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

CREATE TABLE IF NOT EXISTS citations (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    title TEXT NOT NULL,
    publisher TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL,
    host TEXT NOT NULL,
    cite_date TEXT NOT NULL DEFAULT '',
    note TEXT NOT NULL DEFAULT '',
    allowlisted INTEGER NOT NULL DEFAULT 0,
    binding INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_citations_run ON citations(run_id);

CREATE TABLE IF NOT EXISTS tool_invocations (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    tool TEXT NOT NULL,
    input_json TEXT NOT NULL DEFAULT '{}',
    output_json TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tool_invocations_run ON tool_invocations(run_id);

CREATE TABLE IF NOT EXISTS retrieval_sets (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    snippets_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_retrieval_sets_run ON retrieval_sets(run_id);

CREATE TABLE IF NOT EXISTS case_scores (
    source_id TEXT PRIMARY KEY,
    jurisdiction TEXT NOT NULL,
    axes_json TEXT NOT NULL,
    overall REAL NOT NULL,
    hard_block INTEGER NOT NULL DEFAULT 0,
    notes TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS hitl_tickets (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    reason TEXT NOT NULL,
    payload_json TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_hitl_run ON hitl_tickets(run_id);

CREATE TABLE IF NOT EXISTS learning_jobs (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    job_type TEXT NOT NULL,
    payload_json TEXT NOT NULL DEFAULT '{}',
    dispatched INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_learning_jobs_dispatched ON learning_jobs(dispatched);

CREATE TABLE IF NOT EXISTS audit_events (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload_json TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_run ON audit_events(run_id);

CREATE TABLE IF NOT EXISTS telemetry (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost_eur REAL NOT NULL DEFAULT 0,
    model TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS synonyms (
    jurisdiction TEXT NOT NULL,
    term TEXT NOT NULL,
    expansion TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    PRIMARY KEY (jurisdiction, term, expansion)
);

CREATE TABLE IF NOT EXISTS policy_versions (
    id TEXT PRIMARY KEY,
    version_tag TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS corpus_documents (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL,
    jurisdiction TEXT NOT NULL,
    url TEXT NOT NULL,
    title TEXT NOT NULL,
    publisher TEXT NOT NULL DEFAULT '',
    trust_tier INTEGER NOT NULL DEFAULT 2,
    language TEXT NOT NULL DEFAULT 'fr',
    body TEXT NOT NULL,
    embedding_json TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_corpus_jurisdiction ON corpus_documents(jurisdiction);
`

const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS corpus_fts USING fts5(
    title, body,
    content=corpus_documents,
    content_rowid=rowid
);

CREATE TRIGGER IF NOT EXISTS corpus_ai AFTER INSERT ON corpus_documents BEGIN
    INSERT INTO corpus_fts(rowid, title, body)
    VALUES (new.rowid, new.title, new.body);
END;

CREATE TRIGGER IF NOT EXISTS corpus_ad AFTER DELETE ON corpus_documents BEGIN
    INSERT INTO corpus_fts(corpus_fts, rowid, title, body)
    VALUES ('delete', old.rowid, old.title, old.body);
END;
`

// Open creates (or opens) the run store at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening run database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating run schema: %w", err)
	}

	hasFTS5 := true
	if _, err := db.ExecContext(context.Background(), ftsSchema); err != nil {
		hasFTS5 = false
		log.Warn().Err(err).Msg("fts5_unavailable_keyword_search_degraded")
	}
	return &Store{db: db, hasFTS5: hasFTS5}, nil
}

// FTS5Enabled reports whether the corpus keyword index uses FTS5.
func (s *Store) FTS5Enabled() bool { return s.hasFTS5 }

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
