package citation

import "context"

// Axis identifiers for case-quality scoring. Each axis is rated 0-100;
// the overall score is the weighted sum.
const (
	AxisPrecedentialWeight  = "precedential_weight"
	AxisSubsequentTreatment = "subsequent_treatment"
	AxisSourceAuthority     = "source_authority"
	AxisPanelImportance     = "panel_importance"
	AxisJurisdictionFit     = "jurisdiction_fit"
	AxisLegislativeBacking  = "legislative_backing"
	AxisRecency             = "recency"
	AxisCitationQuality     = "citation_quality"
)

// axisWeights sum to 1.0.
var axisWeights = map[string]float64{
	AxisPrecedentialWeight:  0.20,
	AxisSubsequentTreatment: 0.15,
	AxisSourceAuthority:     0.10,
	AxisPanelImportance:     0.10,
	AxisJurisdictionFit:     0.15,
	AxisLegislativeBacking:  0.10,
	AxisRecency:             0.10,
	AxisCitationQuality:     0.10,
}

// CaseScore is the quality assessment of a single case-law source,
// keyed by a stable source identifier (ECLI when available, else the
// normalized URL).
type CaseScore struct {
	SourceID     string             `json:"source_id"`
	Jurisdiction string             `json:"jurisdiction"`
	Axes         map[string]float64 `json:"axes"`
	Overall      float64            `json:"overall"`
	HardBlock    bool               `json:"hard_block"`
	Notes        string             `json:"notes,omitempty"`
}

// Overall computes the weighted sum of the axes. Missing axes count as zero.
func computeOverall(axes map[string]float64) float64 {
	var total float64
	for axis, weight := range axisWeights {
		total += clamp(axes[axis]) * weight
	}
	return total
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ScoreStore is the persistence surface the validator needs for case
// scores. Implemented by internal/store.
type ScoreStore interface {
	FindCaseScore(ctx context.Context, sourceID string) (*CaseScore, error)
	InsertCaseScore(ctx context.Context, score *CaseScore) error
}
