package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	lastQuery     string
	lastEmbedding []float64
	snippets      []Snippet
	err           error
}

func (f *fakeSearcher) HybridSearch(_ context.Context, _, query string, embedding []float64, _ int) ([]Snippet, error) {
	f.lastQuery = query
	f.lastEmbedding = embedding
	return f.snippets, f.err
}

type fakeSynonyms struct {
	syns []Synonym
	err  error
}

func (f *fakeSynonyms) ListSynonymsByJurisdiction(_ context.Context, _ string) ([]Synonym, error) {
	return f.syns, f.err
}

type fakeEmbedder struct {
	vec []float64
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	return f.vec, f.err
}

func TestRetrieveExpandsMatchingSynonyms(t *testing.T) {
	searcher := &fakeSearcher{snippets: []Snippet{{SourceID: "a"}}}
	syns := &fakeSynonyms{syns: []Synonym{
		{Term: "prescription", Expansion: "délai de prescription", Weight: 1},
		{Term: "bail", Expansion: "bail à loyer", Weight: 1},
	}}
	engine := NewEngine(searcher, syns, nil, 0)

	got, err := engine.Retrieve(context.Background(), "FR", "Quelle prescription s'applique ?")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, searcher.lastQuery, "délai de prescription")
	assert.NotContains(t, searcher.lastQuery, "bail à loyer")
}

func TestRetrieveCapsExpansions(t *testing.T) {
	searcher := &fakeSearcher{}
	var syns []Synonym
	for i := 0; i < 20; i++ {
		syns = append(syns, Synonym{Term: "droit", Expansion: "expansion", Weight: 1})
	}
	engine := NewEngine(searcher, &fakeSynonyms{syns: syns}, nil, 0)

	_, err := engine.Retrieve(context.Background(), "FR", "une question de droit")
	require.NoError(t, err)
	assert.Equal(t, maxExpansions, strings.Count(searcher.lastQuery, "expansion"))
}

func TestRetrieveDegradesWhenEmbedderFails(t *testing.T) {
	searcher := &fakeSearcher{}
	engine := NewEngine(searcher, nil, &fakeEmbedder{err: errors.New("ollama down")}, 0)

	_, err := engine.Retrieve(context.Background(), "FR", "question")
	require.NoError(t, err)
	assert.Nil(t, searcher.lastEmbedding)
}

func TestRetrievePassesEmbedding(t *testing.T) {
	searcher := &fakeSearcher{}
	engine := NewEngine(searcher, nil, &fakeEmbedder{vec: []float64{0.1, 0.2}}, 0)

	_, err := engine.Retrieve(context.Background(), "FR", "question")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, searcher.lastEmbedding)
}

func TestContextBlock(t *testing.T) {
	assert.Empty(t, ContextBlock(nil))

	block := ContextBlock([]Snippet{{
		Title:     "Code civil, article 2224",
		Publisher: "Légifrance",
		URL:       "https://www.legifrance.gouv.fr/x",
		Text:      "Les actions personnelles se prescrivent par cinq ans.",
	}})
	assert.Contains(t, block, "[1] Code civil, article 2224")
	assert.Contains(t, block, "cinq ans")
}

func TestMarshalSnippetsNilBecomesEmptyArray(t *testing.T) {
	raw, err := MarshalSnippets(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}
