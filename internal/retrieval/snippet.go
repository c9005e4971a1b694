// Package retrieval builds the context pack handed to the model: hybrid
// keyword+vector search over the local corpus, jurisdiction-aware synonym
// expansion, and trust-tier weighting of results.
package retrieval

import "context"

// Snippet origins.
const (
	OriginLocal  = "local"
	OriginHosted = "hosted"
)

// Trust tiers, lowest number is most trusted. Tier 1 is an official
// publisher (Légifrance, EUR-Lex), tier 2 an institutional aggregator,
// tier 3 everything else.
const (
	TierOfficial      = 1
	TierInstitutional = 2
	TierOther         = 3
)

// Snippet is one retrieved passage with its provenance.
type Snippet struct {
	SourceID     string  `json:"source_id"`
	Origin       string  `json:"origin"`
	Jurisdiction string  `json:"jurisdiction"`
	URL          string  `json:"url"`
	Title        string  `json:"title"`
	Publisher    string  `json:"publisher,omitempty"`
	Text         string  `json:"text"`
	Similarity   float64 `json:"similarity"`
	Weight       float64 `json:"weight"`
	TrustTier    int     `json:"trust_tier"`
	Language     string  `json:"language,omitempty"`
}

// Synonym is one jurisdiction-scoped term expansion used to widen
// keyword queries (e.g. FR "prescription" -> "délai de prescription").
type Synonym struct {
	Term      string  `json:"term"`
	Expansion string  `json:"expansion"`
	Weight    float64 `json:"weight"`
}

// Searcher runs hybrid search over the local corpus. Implemented by
// internal/store.
type Searcher interface {
	HybridSearch(ctx context.Context, jurisdiction, query string, queryEmbedding []float64, limit int) ([]Snippet, error)
}

// SynonymSource yields term expansions for a jurisdiction. Implemented
// by internal/store.
type SynonymSource interface {
	ListSynonymsByJurisdiction(ctx context.Context, jurisdiction string) ([]Synonym, error)
}

// Embedder turns text into a dense vector. Nil embedders degrade the
// engine to keyword-only search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}
