package agent

import "time"

// PlanStep is one recorded stage of the run pipeline, persisted as the
// plan trace of the run record.
type PlanStep struct {
	Stage  string    `json:"stage"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// plan accumulates the trace as the pipeline advances.
type plan struct {
	steps []PlanStep
}

func (p *plan) add(stage, detail string) {
	p.steps = append(p.steps, PlanStep{Stage: stage, Detail: detail, At: time.Now().UTC()})
}
