package irac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAnswerJSON() []byte {
	return []byte(`{
		"jurisdiction": {"country": "FR", "eu": true, "ohada": false},
		"issue": "Le délai de prescription applicable à une action en responsabilité contractuelle.",
		"rules": [
			{"citation": "Code civil, art. 2224", "source_url": "https://www.legifrance.gouv.fr/codes/article_lc/LEGIARTI000019017112", "binding": true, "effective_date": "2008-06-19"}
		],
		"application": "Le point de départ du délai court à compter du jour où le titulaire a connu les faits.",
		"conclusion": "L'action se prescrit par cinq ans.",
		"citations": [
			{"title": "Code civil, art. 2224", "publisher": "Légifrance", "url": "https://www.legifrance.gouv.fr/codes/article_lc/LEGIARTI000019017112"}
		],
		"risk": {"level": "low", "why": "Texte clair et jurisprudence constante.", "hitl_required": false}
	}`)
}

func TestParse_Valid(t *testing.T) {
	a, err := Parse(validAnswerJSON())
	require.NoError(t, err)
	assert.Equal(t, "FR", a.Jurisdiction.Country)
	assert.True(t, a.Jurisdiction.EU)
	assert.Len(t, a.Rules, 1)
	assert.True(t, a.Rules[0].Binding)
	assert.Equal(t, RiskLow, a.Risk.Level)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	payload := []byte(`{"issue": "x", "surprise": true}`)
	_, err := Parse(payload)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestParse_RejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"issue":`))
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Answer)
		wantErr string
	}{
		{"missing issue", func(a *Answer) { a.Issue = "" }, "issue is required"},
		{"missing conclusion", func(a *Answer) { a.Conclusion = "  " }, "conclusion is required"},
		{"missing country", func(a *Answer) { a.Jurisdiction.Country = "" }, "jurisdiction.country is required"},
		{"bad risk level", func(a *Answer) { a.Risk.Level = "catastrophic" }, "risk.level"},
		{"rule without citation", func(a *Answer) { a.Rules[0].Citation = "" }, "rules[0].citation"},
		{"citation without title", func(a *Answer) { a.Citations[0].Title = "" }, "citations[0].title"},
		{"relative citation url", func(a *Answer) { a.Citations[0].URL = "/codes/article" }, "citations[0].url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(validAnswerJSON())
			require.NoError(t, err)
			tt.mutate(a)
			err = a.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidShape)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "legifrance.gouv.fr", NormalizeHost("https://www.legifrance.gouv.fr/codes/article_lc/X"))
	assert.Equal(t, "eur-lex.europa.eu", NormalizeHost("https://eur-lex.europa.eu/eli/reg/2016/679/oj"))
	assert.Equal(t, "curia.europa.eu", NormalizeHost("HTTPS://CURIA.EUROPA.EU/juris"))
	assert.Empty(t, NormalizeHost("not a url at all ::"))
	assert.Empty(t, NormalizeHost("/relative/path"))
}

func TestCitationHosts(t *testing.T) {
	a, err := Parse(validAnswerJSON())
	require.NoError(t, err)
	assert.Equal(t, []string{"legifrance.gouv.fr"}, a.CitationHosts())
}
