package testutil

import "github.com/dossier-io/dossier/internal/policy"

// EntitledAccess builds an access context with read entitlements for the
// given jurisdiction codes and consent and MFA already verified.
func EntitledAccess(orgID string, jurisdictions ...string) *policy.AccessContext {
	entitlements := map[string]policy.Entitlement{}
	for _, code := range jurisdictions {
		entitlements[code] = policy.Entitlement{CanRead: true}
	}
	return &policy.AccessContext{
		OrgID:        orgID,
		UserID:       "user-test",
		Role:         "analyst",
		Entitlements: entitlements,
		ConsentOK:    true,
		CoEOK:        true,
		MFAOK:        true,
	}
}

// ValidAnswerJSON is a schema-valid IRAC payload citing an allowlisted
// official source, reusable across orchestrator tests.
const ValidAnswerJSON = `{
  "jurisdiction": {"country": "FR", "eu": true, "ohada": false},
  "issue": "Délai de prescription des actions personnelles",
  "rules": [{
    "citation": "Code civil, art. 2224",
    "source_url": "https://www.legifrance.gouv.fr/codes/article_lc/LEGIARTI000019017112",
    "binding": true,
    "effective_date": "2008-06-19"
  }],
  "application": "Le délai de cinq ans court à compter du jour où le titulaire du droit a connu les faits.",
  "conclusion": "L'action se prescrit par cinq ans.",
  "citations": [{
    "title": "Code civil, article 2224",
    "publisher": "Légifrance",
    "date": "2008-06-19",
    "url": "https://www.legifrance.gouv.fr/codes/article_lc/LEGIARTI000019017112"
  }],
  "risk": {"level": "low", "why": "règle textuelle claire", "hitl_required": false},
  "language": "fr"
}`
