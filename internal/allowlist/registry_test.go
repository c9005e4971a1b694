package allowlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultRegistry(t *testing.T) {
	reg, err := NewDefaultRegistry()
	require.NoError(t, err)
	assert.NotEmpty(t, reg.Domains())

	e, ok := reg.Lookup("legifrance.gouv.fr")
	require.True(t, ok)
	assert.Contains(t, e.Jurisdictions, "FR")
	assert.Equal(t, "EU", e.Zone)
	assert.Equal(t, "fr", e.Language)
	assert.False(t, e.CaseLaw)

	e, ok = reg.Lookup("courdecassation.fr")
	require.True(t, ok)
	assert.True(t, e.CaseLaw)
}

func TestLookup_Normalization(t *testing.T) {
	reg, err := NewDefaultRegistry()
	require.NoError(t, err)

	t.Run("www prefix", func(t *testing.T) {
		_, ok := reg.Lookup("www.legifrance.gouv.fr")
		assert.True(t, ok)
	})
	t.Run("uppercase", func(t *testing.T) {
		_, ok := reg.Lookup("EUR-LEX.EUROPA.EU")
		assert.True(t, ok)
	})
	t.Run("subdomain resolves to parent", func(t *testing.T) {
		e, ok := reg.Lookup("juris.courdecassation.fr")
		require.True(t, ok)
		assert.Equal(t, "courdecassation.fr", e.Domain)
	})
	t.Run("unknown host", func(t *testing.T) {
		_, ok := reg.Lookup("blog.droit-random.example")
		assert.False(t, ok)
	})
	t.Run("empty host", func(t *testing.T) {
		_, ok := reg.Lookup("")
		assert.False(t, ok)
	})
}

func TestDomainsFor(t *testing.T) {
	reg := NewRegistry([]Entry{
		{Domain: "legifrance.gouv.fr", Jurisdictions: []string{"FR"}},
		{Domain: "courdecassation.fr", Jurisdictions: []string{"FR"}},
		{Domain: "eur-lex.europa.eu", Jurisdictions: []string{"EU"}},
	})
	assert.Equal(t, []string{"courdecassation.fr", "legifrance.gouv.fr"}, reg.DomainsFor("FR"))
	assert.Equal(t, []string{"eur-lex.europa.eu"}, reg.DomainsFor("EU"))
	assert.Empty(t, reg.DomainsFor("CH"))
}

func TestBuild_NoTruncation(t *testing.T) {
	reg := NewRegistry([]Entry{
		{Domain: "legifrance.gouv.fr"},
		{Domain: "eur-lex.europa.eu"},
	})
	domains, diag := Build(reg, nil, 10)
	assert.Nil(t, diag)
	assert.Len(t, domains, 2)
}

func TestBuild_OverrideTruncated(t *testing.T) {
	reg := NewRegistry([]Entry{{Domain: "legifrance.gouv.fr"}})
	override := []string{"a.example", "b.example", "c.example", "d.example", "e.example"}

	domains, diag := Build(reg, override, 3)
	require.NotNil(t, diag)
	assert.Len(t, domains, 3)
	assert.Equal(t, 2, diag.TruncatedCount)
	assert.Equal(t, 5, diag.Total)
	assert.Equal(t, 3, diag.Max)
	assert.Equal(t, "override", diag.Source)
	// override ordering is priority order under truncation
	assert.Equal(t, []string{"a.example", "b.example", "c.example"}, domains)
}

func TestBuild_OverrideNormalizedAndDeduplicated(t *testing.T) {
	reg := NewRegistry([]Entry{{Domain: "legifrance.gouv.fr"}})
	domains, diag := Build(reg, []string{"WWW.Canlii.org", "canlii.org", " bger.ch "}, 10)
	assert.Nil(t, diag)
	assert.Equal(t, []string{"canlii.org", "bger.ch"}, domains)
}
