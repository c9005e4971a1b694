package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Expansion bounds. Synonym expansion widens recall but a runaway
// synonym table must not blow up the FTS query.
const (
	DefaultSnippetLimit = 8
	maxExpansions       = 6
)

// Engine assembles the retrieval context for a run.
type Engine struct {
	searcher Searcher
	synonyms SynonymSource
	embedder Embedder
	limit    int
}

// NewEngine wires the retrieval engine. embedder may be nil; the engine
// then runs keyword-only.
func NewEngine(searcher Searcher, synonyms SynonymSource, embedder Embedder, limit int) *Engine {
	if limit <= 0 {
		limit = DefaultSnippetLimit
	}
	return &Engine{searcher: searcher, synonyms: synonyms, embedder: embedder, limit: limit}
}

// Retrieve expands the question with jurisdiction synonyms, runs hybrid
// search, and returns the weighted snippet set. Retrieval failures never
// abort a run; the engine degrades to an empty set.
func (e *Engine) Retrieve(ctx context.Context, jurisdiction, question string) ([]Snippet, error) {
	ctx, span := tracer.Start(ctx, "retrieval.retrieve",
		trace.WithAttributes(attribute.String("retrieval.jurisdiction", jurisdiction)))
	defer span.End()

	query := e.expandQuery(ctx, jurisdiction, question)

	var embedding []float64
	if e.embedder != nil {
		var err error
		embedding, err = e.embedder.Embed(ctx, question)
		if err != nil {
			log.Warn().Err(err).Str("jurisdiction", jurisdiction).
				Msg("retrieval_embedding_failed")
			embedding = nil
		}
	}

	snippets, err := e.searcher.HybridSearch(ctx, jurisdiction, query, embedding, e.limit)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	span.SetAttributes(attribute.Int("retrieval.snippets", len(snippets)))
	return snippets, nil
}

// expandQuery appends synonym expansions for terms present in the
// question, capped at maxExpansions.
func (e *Engine) expandQuery(ctx context.Context, jurisdiction, question string) string {
	if e.synonyms == nil {
		return question
	}
	syns, err := e.synonyms.ListSynonymsByJurisdiction(ctx, jurisdiction)
	if err != nil {
		log.Warn().Err(err).Str("jurisdiction", jurisdiction).
			Msg("retrieval_synonyms_unavailable")
		return question
	}

	lower := strings.ToLower(question)
	var expansions []string
	for _, syn := range syns {
		if len(expansions) >= maxExpansions {
			break
		}
		if strings.Contains(lower, strings.ToLower(syn.Term)) {
			expansions = append(expansions, syn.Expansion)
		}
	}
	if len(expansions) == 0 {
		return question
	}
	return question + " " + strings.Join(expansions, " ")
}

// ContextBlock renders snippets as the context section of the model
// prompt, most trusted first.
func ContextBlock(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Sources documentaires:\n")
	for i, s := range snippets {
		fmt.Fprintf(&b, "[%d] %s (%s) %s\n%s\n\n", i+1, s.Title, s.Publisher, s.URL, s.Text)
	}
	return b.String()
}

// MarshalSnippets encodes the snippet set for persistence.
func MarshalSnippets(snippets []Snippet) (json.RawMessage, error) {
	if snippets == nil {
		snippets = []Snippet{}
	}
	raw, err := json.Marshal(snippets)
	if err != nil {
		return nil, fmt.Errorf("encoding snippets: %w", err)
	}
	return raw, nil
}
