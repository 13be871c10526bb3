package automation

import (
	"fmt"
	"strings"
	"time"

	"lifeauto/internal/automation/schedule"
)

type TriggerKind string

const (
	TriggerMoodBelowThreshold TriggerKind = "MOOD_BELOW_THRESHOLD"
	TriggerHabitCompleted     TriggerKind = "HABIT_COMPLETED"
	TriggerTransactionCreated TriggerKind = "TRANSACTION_CREATED"
	TriggerGoalCompleted      TriggerKind = "GOAL_COMPLETED"
	TriggerScheduledTime      TriggerKind = "SCHEDULED_TIME"
)

// TriggerSpec is the closed set of trigger variants. Each variant carries only
// its own parameters, already validated.
type TriggerSpec interface {
	Kind() TriggerKind
	Params() Params
	isTriggerSpec()
}

type MoodBelowThreshold struct {
	Threshold float64
}

type HabitCompleted struct {
	HabitName string
}

// TransactionCreated fires on |amount| >= MinAmount; MaxAmount and Category narrow it.
type TransactionCreated struct {
	MinAmount float64
	MaxAmount *float64
	Category  string
}

// GoalCompleted fires on any completed goal unless Category is set.
type GoalCompleted struct {
	Category string
}

type ScheduledTime struct {
	Cron     string
	Schedule schedule.Schedule
}

func (MoodBelowThreshold) Kind() TriggerKind { return TriggerMoodBelowThreshold }
func (HabitCompleted) Kind() TriggerKind     { return TriggerHabitCompleted }
func (TransactionCreated) Kind() TriggerKind { return TriggerTransactionCreated }
func (GoalCompleted) Kind() TriggerKind      { return TriggerGoalCompleted }
func (ScheduledTime) Kind() TriggerKind      { return TriggerScheduledTime }

func (MoodBelowThreshold) isTriggerSpec() {}
func (HabitCompleted) isTriggerSpec()     {}
func (TransactionCreated) isTriggerSpec() {}
func (GoalCompleted) isTriggerSpec()      {}
func (ScheduledTime) isTriggerSpec()      {}

func (t MoodBelowThreshold) Params() Params { return Params{"threshold": t.Threshold} }
func (t HabitCompleted) Params() Params     { return Params{"habitName": t.HabitName} }
func (t TransactionCreated) Params() Params {
	p := Params{"minAmount": t.MinAmount}
	if t.MaxAmount != nil {
		p["maxAmount"] = *t.MaxAmount
	}
	if t.Category != "" {
		p["category"] = t.Category
	}
	return p
}
func (t GoalCompleted) Params() Params {
	if t.Category == "" {
		return Params{}
	}
	return Params{"category": t.Category}
}
func (t ScheduledTime) Params() Params { return Params{"cron": t.Cron} }

// NewScheduledTime parses expr in loc.
func NewScheduledTime(expr string, loc *time.Location) (ScheduledTime, error) {
	s, err := schedule.ParseIn(expr, loc)
	if err != nil {
		return ScheduledTime{}, err
	}
	return ScheduledTime{Cron: s.String(), Schedule: s}, nil
}

// NewTriggerSpec builds a typed trigger from its wire form. Cron expressions are
// evaluated in loc (nil means UTC).
func NewTriggerSpec(kind TriggerKind, params Params, loc *time.Location) (TriggerSpec, error) {
	if params == nil {
		params = Params{}
	}
	switch TriggerKind(strings.ToUpper(strings.TrimSpace(string(kind)))) {
	case TriggerMoodBelowThreshold:
		v, ok, err := params.Number("threshold")
		if err != nil {
			return nil, invalid("params", "%v", err)
		}
		if !ok {
			return nil, invalid("params.threshold", "required")
		}
		return MoodBelowThreshold{Threshold: v}, nil

	case TriggerHabitCompleted:
		name, ok, err := params.String("habitName")
		if err != nil {
			return nil, invalid("params", "%v", err)
		}
		if !ok || name == "" {
			return nil, invalid("params.habitName", "required")
		}
		return HabitCompleted{HabitName: name}, nil

	case TriggerTransactionCreated:
		var t TransactionCreated
		v, ok, err := params.Number("minAmount")
		if err != nil {
			return nil, invalid("params", "%v", err)
		}
		if !ok {
			return nil, invalid("params.minAmount", "required")
		}
		if v < 0 {
			return nil, invalid("params.minAmount", "must be >= 0")
		}
		t.MinAmount = v
		if mx, ok, err := params.Number("maxAmount"); err != nil {
			return nil, invalid("params", "%v", err)
		} else if ok {
			if mx < t.MinAmount {
				return nil, invalid("params.maxAmount", "must be >= minAmount")
			}
			t.MaxAmount = &mx
		}
		if cat, _, err := params.String("category"); err != nil {
			return nil, invalid("params", "%v", err)
		} else {
			t.Category = cat
		}
		return t, nil

	case TriggerGoalCompleted:
		cat, _, err := params.String("category")
		if err != nil {
			return nil, invalid("params", "%v", err)
		}
		return GoalCompleted{Category: cat}, nil

	case TriggerScheduledTime:
		expr, ok, err := params.String("cron")
		if err != nil {
			return nil, invalid("params", "%v", err)
		}
		if !ok || expr == "" {
			return nil, invalid("params.cron", "required")
		}
		st, err := NewScheduledTime(expr, loc)
		if err != nil {
			return nil, invalid("params.cron", "%v", err)
		}
		return st, nil

	default:
		return nil, invalid("type", "unknown trigger type %q", kind)
	}
}

// Trigger belongs to exactly one routine.
type Trigger struct {
	ID          string
	Spec        TriggerSpec
	LastFiredAt *time.Time
}

func (t Trigger) Kind() TriggerKind {
	if t.Spec == nil {
		return ""
	}
	return t.Spec.Kind()
}

func (t Trigger) String() string {
	return fmt.Sprintf("%s(%s)", t.Kind(), t.ID)
}
