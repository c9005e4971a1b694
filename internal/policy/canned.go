package policy

import (
	"fmt"

	"github.com/dossier-io/dossier/internal/irac"
)

// cannedAuthority is the neutral, allowlisted source cited by a synthesized
// guardrail answer for a jurisdiction.
type cannedAuthority struct {
	citation  string
	title     string
	publisher string
	url       string
}

var cannedAuthorities = map[string]cannedAuthority{
	JurisdictionFR: {
		citation:  "Code de l'organisation judiciaire, art. L111-13",
		title:     "Code de l'organisation judiciaire, art. L111-13",
		publisher: "Légifrance",
		url:       "https://www.legifrance.gouv.fr/codes/article_lc/LEGIARTI000038311511",
	},
	JurisdictionEU: {
		citation:  "Charte des droits fondamentaux de l'UE, art. 47",
		title:     "Charte des droits fondamentaux de l'Union européenne",
		publisher: "EUR-Lex",
		url:       "https://eur-lex.europa.eu/eli/treaty/char_2012/oj",
	},
}

// BuildGuardrailAnswer synthesizes the safe structured answer returned when a
// pre-model guardrail matches. The model is never invoked; the answer cites a
// neutral allowlisted authority and is always flagged for human review.
func BuildGuardrailAnswer(jurisdiction string, class *GuardrailClass) *irac.Answer {
	auth, ok := cannedAuthorities[jurisdiction]
	if !ok {
		auth = cannedAuthorities[JurisdictionFR]
	}
	return &irac.Answer{
		Jurisdiction: irac.Jurisdiction{
			Country: jurisdiction,
			EU: jurisdiction == JurisdictionFR || jurisdiction == JurisdictionBE ||
				jurisdiction == JurisdictionLU || jurisdiction == JurisdictionEU,
		},
		Issue: "La demande porte sur une catégorie de requête non autorisée.",
		Rules: []irac.Rule{
			{Citation: auth.citation, SourceURL: auth.url, Binding: true},
		},
		Application: fmt.Sprintf(
			"La requête relève de la catégorie « %s » : %s Elle ne peut pas être traitée automatiquement.",
			class.Name, class.Description),
		Conclusion: "Cette demande ne peut pas être traitée par l'assistant ; elle a été transmise pour examen humain.",
		Citations: []irac.Citation{
			{Title: auth.title, Publisher: auth.publisher, URL: auth.url},
		},
		Risk: irac.Risk{
			Level:        irac.RiskHigh,
			Why:          "Catégorie de requête bloquée par une règle de conformité.",
			HitlRequired: true,
		},
		Language: "fr",
	}
}
