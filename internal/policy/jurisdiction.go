package policy

import "strings"

// Jurisdiction codes recognized by the router.
const (
	JurisdictionFR    = "FR"
	JurisdictionBE    = "BE"
	JurisdictionLU    = "LU"
	JurisdictionCH    = "CH"
	JurisdictionCAQC  = "CA-QC"
	JurisdictionEU    = "EU"
	JurisdictionOHADA = "OHADA"
)

// JurisdictionRouter derives the target jurisdiction from a question.
// The heuristic is deliberately pluggable: routing quality improves over time
// without touching the gate.
type JurisdictionRouter interface {
	Route(question string) string
}

// KeywordRouter routes on locale markers and institution names in the
// question text. First match wins, scanning specific jurisdictions before the
// broad EU bucket; unmatched questions default to France.
type KeywordRouter struct{}

// Ordered keyword table. OHADA and Québec markers are checked before the
// European ones because their questions frequently also mention French codes.
var jurisdictionKeywords = []struct {
	code     string
	keywords []string
}{
	{JurisdictionOHADA, []string{"ohada", "acte uniforme", "ccja"}},
	{JurisdictionCAQC, []string{"québec", "quebec", "code civil du québec", "canlii", "légisquébec"}},
	{JurisdictionCH, []string{"suisse", "tribunal fédéral", "fedlex", "droit suisse"}},
	{JurisdictionBE, []string{"belgique", "belge", "moniteur belge", "cour constitutionnelle belge"}},
	{JurisdictionLU, []string{"luxembourg", "luxembourgeois", "legilux"}},
	{JurisdictionEU, []string{"directive", "règlement (ue)", "rgpd", "cjue", "eur-lex", "droit de l'union"}},
	{JurisdictionFR, []string{"france", "français", "cour de cassation", "conseil d'état", "légifrance", "code civil"}},
}

// Route implements JurisdictionRouter.
func (KeywordRouter) Route(question string) string {
	q := strings.ToLower(question)
	for _, entry := range jurisdictionKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(q, kw) {
				return entry.code
			}
		}
	}
	return JurisdictionFR
}
