package automation

import "time"

// ScheduledRef is stored as the trigger reference of runs started by a tick.
const ScheduledRef = "scheduled"

type RunStatus string

const (
	RunFiring    RunStatus = "firing"
	RunCompleted RunStatus = "completed"
)

type OutcomeStatus string

const (
	OutcomeSucceeded    OutcomeStatus = "succeeded"
	OutcomeFailed       OutcomeStatus = "failed"
	OutcomeTimeout      OutcomeStatus = "timeout"
	OutcomeBackpressure OutcomeStatus = "backpressure"
)

// Outcome is the result of one action within one firing.
type Outcome struct {
	ActionID   string        `json:"actionId"`
	ActionType ActionKind    `json:"actionType"`
	Order      int           `json:"order"`
	Status     OutcomeStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Duration   time.Duration `json:"durationNs"`
}

func (o Outcome) Succeeded() bool { return o.Status == OutcomeSucceeded }

// Run is the ledger entry for one firing of one routine. TriggerRef is the
// firing trigger's id, or ScheduledRef for tick firings.
type Run struct {
	ID         string     `json:"id"`
	RoutineID  string     `json:"routineId"`
	UserID     string     `json:"userId"`
	TriggerRef string     `json:"trigger"`
	TriggerID  string     `json:"triggerId,omitempty"`
	FiredAt    time.Time  `json:"firedAt"`
	Status     RunStatus  `json:"status"`
	Outcomes   []Outcome  `json:"outcomes"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Counts returns the number of succeeded and not-succeeded outcomes.
func (r Run) Counts() (ok, failed int) {
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

// BackpressureOutcomes marks every action as not executed.
func BackpressureOutcomes(actions []Action, reason string) []Outcome {
	out := make([]Outcome, 0, len(actions))
	for _, a := range actions {
		out = append(out, Outcome{
			ActionID:   a.ID,
			ActionType: a.Kind(),
			Order:      a.Order,
			Status:     OutcomeBackpressure,
			Reason:     reason,
		})
	}
	return out
}
