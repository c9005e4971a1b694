package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dossier-io/dossier/internal/retrieval"
)

// Hybrid search blend. Keyword rank and vector similarity are both
// normalized to [0,1] before mixing.
const (
	keywordWeight = 0.4
	vectorWeight  = 0.6
)

// CorpusDocument is one ingested authority text in the local corpus.
type CorpusDocument struct {
	ID           string    `json:"id"`
	SourceID     string    `json:"source_id"`
	Jurisdiction string    `json:"jurisdiction"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Publisher    string    `json:"publisher,omitempty"`
	TrustTier    int       `json:"trust_tier"`
	Language     string    `json:"language"`
	Body         string    `json:"body"`
	Embedding    []float64 `json:"embedding,omitempty"`
}

// InsertDocument adds a document to the corpus; the FTS index is kept in
// sync by triggers.
func (s *Store) InsertDocument(ctx context.Context, doc *CorpusDocument) error {
	ctx, span := tracer.Start(ctx, "store.corpus.insert",
		trace.WithAttributes(attribute.String("corpus.source_id", doc.SourceID)))
	defer span.End()

	if doc.ID == "" {
		doc.ID = "doc_" + uuid.New().String()[:12]
	}
	if doc.TrustTier == 0 {
		doc.TrustTier = retrieval.TierInstitutional
	}
	if doc.Language == "" {
		doc.Language = "fr"
	}
	embedding, err := json.Marshal(doc.Embedding)
	if err != nil {
		return fmt.Errorf("encoding embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO corpus_documents (id, source_id, jurisdiction, url, title, publisher, trust_tier, language, body, embedding_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SourceID, doc.Jurisdiction, doc.URL, doc.Title, doc.Publisher,
		doc.TrustTier, doc.Language, doc.Body, string(embedding))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("inserting corpus document: %w", err)
	}
	return nil
}

// HybridSearch blends FTS5 keyword rank with cosine similarity over the
// stored embeddings and returns the top snippets for the jurisdiction.
// With a nil query embedding the vector leg is skipped and keyword rank
// carries the full weight.
func (s *Store) HybridSearch(ctx context.Context, jurisdiction, query string, queryEmbedding []float64, limit int) ([]retrieval.Snippet, error) {
	ctx, span := tracer.Start(ctx, "store.corpus.hybrid_search",
		trace.WithAttributes(
			attribute.String("corpus.jurisdiction", jurisdiction),
			attribute.Int("corpus.limit", limit),
		))
	defer span.End()

	if limit <= 0 {
		limit = 8
	}

	keywordScores, err := s.keywordSearch(ctx, jurisdiction, query, limit*4)
	if err != nil {
		return nil, err
	}

	candidates, err := s.candidateDocuments(ctx, jurisdiction)
	if err != nil {
		return nil, err
	}

	kwWeight, vecWeight := keywordWeight, vectorWeight
	if len(queryEmbedding) == 0 {
		kwWeight, vecWeight = 1.0, 0.0
	}

	var snippets []retrieval.Snippet
	for _, doc := range candidates {
		kw := keywordScores[doc.ID]
		var sim float64
		if vecWeight > 0 && len(doc.Embedding) > 0 {
			sim = cosineSimilarity(queryEmbedding, doc.Embedding)
		}
		score := kw*kwWeight + sim*vecWeight
		if score <= 0 {
			continue
		}
		snippets = append(snippets, retrieval.Snippet{
			SourceID:     doc.SourceID,
			Origin:       retrieval.OriginLocal,
			Jurisdiction: doc.Jurisdiction,
			URL:          doc.URL,
			Title:        doc.Title,
			Publisher:    doc.Publisher,
			Text:         excerpt(doc.Body, 600),
			Similarity:   sim,
			Weight:       score,
			TrustTier:    doc.TrustTier,
			Language:     doc.Language,
		})
	}

	sort.SliceStable(snippets, func(i, j int) bool {
		if snippets[i].Weight != snippets[j].Weight {
			return snippets[i].Weight > snippets[j].Weight
		}
		return snippets[i].TrustTier < snippets[j].TrustTier
	})
	if len(snippets) > limit {
		snippets = snippets[:limit]
	}
	span.SetAttributes(attribute.Int("corpus.results", len(snippets)))
	return snippets, nil
}

// keywordSearch returns normalized keyword scores keyed by document id. An
// empty or unmatchable query returns an empty map, not an error. Without
// FTS5 the ranking falls back to counting LIKE term hits.
func (s *Store) keywordSearch(ctx context.Context, jurisdiction, query string, limit int) (map[string]float64, error) {
	if !s.hasFTS5 {
		return s.likeSearch(ctx, jurisdiction, query)
	}
	match := ftsQuery(query)
	if match == "" {
		return map[string]float64{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, bm25(corpus_fts) AS rank
		 FROM corpus_fts
		 JOIN corpus_documents d ON d.rowid = corpus_fts.rowid
		 WHERE corpus_fts MATCH ? AND d.jurisdiction = ?
		 ORDER BY rank LIMIT ?`, match, jurisdiction, limit)
	if err != nil {
		// FTS5 rejects some query shapes; treat as no keyword hits.
		return map[string]float64{}, nil
	}
	defer rows.Close()

	scores := map[string]float64{}
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			continue
		}
		// bm25 is more negative for better matches.
		scores[id] = 1.0 / (1.0 + math.Abs(rank))
	}
	return scores, rows.Err()
}

// likeSearch scores documents by the fraction of query terms appearing in
// the title or body. Coarser than bm25 but keeps hybrid search working on
// SQLite builds without the FTS5 module.
func (s *Store) likeSearch(ctx context.Context, jurisdiction, query string) (map[string]float64, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return map[string]float64{}, nil
	}

	scores := map[string]float64{}
	for _, term := range terms {
		pattern := "%" + strings.ReplaceAll(term, "%", "") + "%"
		rows, err := s.db.QueryContext(ctx,
			`SELECT id FROM corpus_documents
			 WHERE jurisdiction = ? AND (lower(title) LIKE ? OR lower(body) LIKE ?)`,
			jurisdiction, pattern, pattern)
		if err != nil {
			return nil, fmt.Errorf("keyword fallback query: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				continue
			}
			scores[id] += 1.0 / float64(len(terms))
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return scores, nil
}

func (s *Store) candidateDocuments(ctx context.Context, jurisdiction string) ([]CorpusDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, jurisdiction, url, title, publisher, trust_tier, language, body, embedding_json
		 FROM corpus_documents WHERE jurisdiction = ?`, jurisdiction)
	if err != nil {
		return nil, fmt.Errorf("querying corpus documents: %w", err)
	}
	defer rows.Close()

	var docs []CorpusDocument
	for rows.Next() {
		var doc CorpusDocument
		var embedding string
		if err := rows.Scan(&doc.ID, &doc.SourceID, &doc.Jurisdiction, &doc.URL, &doc.Title,
			&doc.Publisher, &doc.TrustTier, &doc.Language, &doc.Body, &embedding); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(embedding), &doc.Embedding); err != nil {
			doc.Embedding = nil
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ftsQuery quotes each term so user punctuation cannot break FTS5 syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func excerpt(body string, max int) string {
	if len(body) <= max {
		return body
	}
	cut := body[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > max/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
