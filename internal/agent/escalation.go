package agent

import "fmt"

// EscalationState tracks the guarded invocation through its lifecycle.
// Transitions are linear: Pending → Invoked → Passed | Rejected;
// Rejected → Escalated → Resolved | Fatal. At most one retry happens,
// on the Rejected → Escalated edge.
type EscalationState string

const (
	StatePending   EscalationState = "pending"
	StateInvoked   EscalationState = "invoked"
	StatePassed    EscalationState = "passed"
	StateRejected  EscalationState = "rejected"
	StateEscalated EscalationState = "escalated"
	StateResolved  EscalationState = "resolved"
	StateFatal     EscalationState = "fatal"
)

var escalationTransitions = map[EscalationState][]EscalationState{
	StatePending:   {StateInvoked},
	StateInvoked:   {StatePassed, StateRejected},
	StateRejected:  {StateEscalated},
	StateEscalated: {StateResolved, StateFatal},
}

// escalation is the per-run state machine instance.
type escalation struct {
	state       EscalationState
	guardrailID string
}

func newEscalation() *escalation {
	return &escalation{state: StatePending}
}

// transition moves to next or panics on an illegal edge; illegal edges
// are programming errors, not runtime conditions.
func (e *escalation) transition(next EscalationState) {
	for _, allowed := range escalationTransitions[e.state] {
		if allowed == next {
			e.state = next
			return
		}
	}
	panic(fmt.Sprintf("illegal escalation transition %s -> %s", e.state, next))
}

// Escalated reports whether the run went through the retry path.
func (e *escalation) Escalated() bool {
	return e.state == StateEscalated || e.state == StateResolved || e.state == StateFatal
}
