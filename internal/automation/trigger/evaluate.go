// Package trigger decides whether a routine's trigger fires for a signal.
package trigger

import (
	"fmt"
	"math"
	"strings"
	"time"

	"lifeauto/internal/automation"
)

// Fire describes one trigger firing. Context is handed to every action of the
// routine and always carries routineId, triggerId and firedAt.
type Fire struct {
	RoutineID string
	TriggerID string
	Kind      automation.TriggerKind
	Scheduled bool
	At        time.Time
	Context   automation.Params
}

// Ref is the trigger reference stored on the run.
func (f Fire) Ref() string {
	if f.Scheduled {
		return automation.ScheduledRef
	}
	return f.TriggerID
}

// Evaluate reports whether t fires for sig. A non-nil error means the signal
// could not be inspected; the trigger is then treated as not fired.
func Evaluate(r automation.Routine, t automation.Trigger, sig automation.Signal) (Fire, bool, error) {
	if t.Spec == nil {
		return Fire{}, false, nil
	}

	if sig.Kind == automation.SignalTick {
		st, ok := t.Spec.(automation.ScheduledTime)
		if !ok || !st.Schedule.IsDue(sig.Time, t.LastFiredAt) {
			return Fire{}, false, nil
		}
		return newFire(r, t, sig, automation.Params{
			"tick":  sig.Time.UTC().Format(time.RFC3339),
			"dueAt": st.Schedule.MinuteStart(sig.Time).UTC().Format(time.RFC3339),
		}), true, nil
	}

	ev := sig.Event
	if kind, ok := ev.Type.TriggerKind(); !ok || kind != t.Kind() {
		return Fire{}, false, nil
	}
	if !ownedBy(r, ev) {
		return Fire{}, false, nil
	}

	fired, err := match(t.Spec, ev.Payload)
	if err != nil {
		return Fire{}, false, fmt.Errorf("trigger %s: %w", t, err)
	}
	if !fired {
		return Fire{}, false, nil
	}
	ctx := automation.Params(ev.Payload).Clone()
	delete(ctx, "dueAt")
	ctx["eventType"] = string(ev.Type)
	if ev.ID != "" {
		ctx["eventId"] = ev.ID
	}
	return newFire(r, t, sig, ctx), true, nil
}

// First evaluates r's triggers in declared order and returns the first firing.
// Errors from triggers that could not be evaluated are collected and skipped.
func First(r automation.Routine, sig automation.Signal) (Fire, bool, []error) {
	var errs []error
	for _, t := range r.Triggers {
		f, ok, err := Evaluate(r, t, sig)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return f, true, errs
		}
	}
	return Fire{}, false, errs
}

func ownedBy(r automation.Routine, ev automation.Event) bool {
	if ev.UserID != r.UserID {
		return false
	}
	if raw, ok := ev.Payload["userId"]; ok && raw != nil {
		s, isStr := raw.(string)
		if !isStr || s != r.UserID {
			return false
		}
	}
	return true
}

func match(spec automation.TriggerSpec, payload map[string]any) (bool, error) {
	switch s := spec.(type) {
	case automation.MoodBelowThreshold:
		score, err := automation.PayloadNumber(payload, "score")
		if err != nil {
			return false, err
		}
		return score <= s.Threshold, nil

	case automation.HabitCompleted:
		name, err := automation.PayloadString(payload, "habitName")
		if err != nil {
			return false, err
		}
		return strings.EqualFold(name, s.HabitName), nil

	case automation.TransactionCreated:
		amount, err := automation.PayloadNumber(payload, "amount")
		if err != nil {
			return false, err
		}
		amount = math.Abs(amount)
		if amount < s.MinAmount {
			return false, nil
		}
		if s.MaxAmount != nil && amount > *s.MaxAmount {
			return false, nil
		}
		return categoryMatches(s.Category, payload)

	case automation.GoalCompleted:
		return categoryMatches(s.Category, payload)

	default:
		return false, nil
	}
}

func categoryMatches(want string, payload map[string]any) (bool, error) {
	if want == "" {
		return true, nil
	}
	got, ok, err := automation.Params(payload).String("category")
	if err != nil {
		return false, err
	}
	return ok && strings.EqualFold(got, want), nil
}

func newFire(r automation.Routine, t automation.Trigger, sig automation.Signal, ctx automation.Params) Fire {
	at := sig.Time.UTC()
	ctx["routineId"] = r.ID
	ctx["triggerId"] = t.ID
	ctx["firedAt"] = at.Format(time.RFC3339Nano)
	return Fire{
		RoutineID: r.ID,
		TriggerID: t.ID,
		Kind:      t.Kind(),
		Scheduled: sig.Kind == automation.SignalTick,
		At:        at,
		Context:   ctx,
	}
}
