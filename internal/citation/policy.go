package citation

import (
	"context"
	"strings"
	"time"

	"github.com/dossier-io/dossier/internal/allowlist"
	"github.com/dossier-io/dossier/internal/irac"
)

// SourceMeta is the metadata a ScoringPolicy sees for one case-law source.
type SourceMeta struct {
	SourceID           string
	Jurisdiction       string
	Host               string
	Entry              allowlist.Entry
	HasEntry           bool
	Citation           irac.Citation
	BindingRule        bool
	PoliticallyExposed bool
}

// ScoringPolicy computes a CaseScore from source metadata. The exact
// formula is a policy decision; callers only rely on the axis weights
// and the hard-block contract.
type ScoringPolicy interface {
	Score(ctx context.Context, meta SourceMeta) (*CaseScore, error)
}

// HeuristicScoringPolicy scores from host rank, ECLI presence, recency,
// and jurisdiction fit. It is deterministic for a given source.
type HeuristicScoringPolicy struct {
	Now func() time.Time
}

// supremeCourts rank highest on precedential weight.
var supremeCourts = map[string]bool{
	"courdecassation.fr":         true,
	"conseil-etat.fr":            true,
	"conseil-constitutionnel.fr": true,
	"const-court.be":             true,
	"bger.ch":                    true,
	"curia.europa.eu":            true,
	"echr.coe.int":               true,
}

// Score rates the eight axes and derives the weighted overall.
func (p *HeuristicScoringPolicy) Score(_ context.Context, meta SourceMeta) (*CaseScore, error) {
	axes := map[string]float64{
		AxisSubsequentTreatment: 60,
		AxisPanelImportance:     60,
		AxisLegislativeBacking:  50,
		AxisCitationQuality:     60,
	}

	switch {
	case supremeCourts[meta.Host]:
		axes[AxisPrecedentialWeight] = 95
		axes[AxisSourceAuthority] = 95
	case meta.HasEntry:
		axes[AxisPrecedentialWeight] = 70
		axes[AxisSourceAuthority] = 80
	default:
		axes[AxisPrecedentialWeight] = 30
		axes[AxisSourceAuthority] = 20
	}

	if strings.HasPrefix(meta.SourceID, "ECLI:") {
		axes[AxisCitationQuality] = 90
	}

	if jurisdictionMatches(meta) {
		axes[AxisJurisdictionFit] = 100
	} else {
		axes[AxisJurisdictionFit] = 40
	}

	if meta.BindingRule {
		axes[AxisLegislativeBacking] = 80
	}

	axes[AxisRecency] = recencyScore(meta.Citation.Date, p.now())

	if meta.PoliticallyExposed {
		axes[AxisPanelImportance] = 0
	}

	score := &CaseScore{
		SourceID:     meta.SourceID,
		Jurisdiction: meta.Jurisdiction,
		Axes:         axes,
		HardBlock:    meta.PoliticallyExposed || axes[AxisPanelImportance] == 0,
	}
	score.Overall = computeOverall(axes)
	if score.HardBlock {
		score.Notes = "politically exposed source"
	}
	return score, nil
}

func (p *HeuristicScoringPolicy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func jurisdictionMatches(meta SourceMeta) bool {
	if !meta.HasEntry {
		return false
	}
	for _, j := range meta.Entry.Jurisdictions {
		if j == meta.Jurisdiction {
			return true
		}
	}
	// EU and OHADA sources bind member jurisdictions too.
	return meta.Entry.Zone == "EU" || meta.Entry.Zone == "OHADA"
}

// recencyScore decays linearly over thirty years. Unparseable dates get
// a neutral midpoint.
func recencyScore(date string, now time.Time) float64 {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 50
	}
	years := now.Sub(t).Hours() / (24 * 365)
	if years < 0 {
		years = 0
	}
	score := 100 - years*(100.0/30.0)
	if score < 0 {
		return 0
	}
	return score
}
