package automation

import (
	"fmt"
	"strings"
	"time"
)

// EventType is a domain event emitted by the modules that own mood entries,
// habit logs, transactions and goals.
type EventType string

const (
	EventMoodLogged         EventType = "MOOD_LOGGED"
	EventHabitCompleted     EventType = "HABIT_COMPLETED"
	EventTransactionCreated EventType = "TRANSACTION_CREATED"
	EventGoalCompleted      EventType = "GOAL_COMPLETED"
)

var eventTriggers = map[EventType]TriggerKind{
	EventMoodLogged:         TriggerMoodBelowThreshold,
	EventHabitCompleted:     TriggerHabitCompleted,
	EventTransactionCreated: TriggerTransactionCreated,
	EventGoalCompleted:      TriggerGoalCompleted,
}

// ParseEventType accepts the canonical names case-insensitively.
func ParseEventType(raw string) (EventType, error) {
	t := EventType(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := eventTriggers[t]; !ok {
		return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, raw)
	}
	return t, nil
}

// TriggerKind returns the trigger kind interested in this event type.
func (t EventType) TriggerKind() (TriggerKind, bool) {
	k, ok := eventTriggers[t]
	return k, ok
}

// Event is one domain occurrence pushed into the engine.
type Event struct {
	ID      string         `json:"id,omitempty"`
	Type    EventType      `json:"type"`
	UserID  string         `json:"userId"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

func (e Event) Validate() error {
	if _, ok := e.Type.TriggerKind(); !ok {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidEvent)
	}
	return nil
}

type SignalKind int

const (
	SignalEvent SignalKind = iota
	SignalTick
)

func (k SignalKind) String() string {
	if k == SignalTick {
		return "tick"
	}
	return "event"
}

// Signal is what the trigger evaluator inspects: an incoming event or a scheduler tick.
type Signal struct {
	Kind  SignalKind
	Event Event
	Time  time.Time
}

func EventSignal(e Event) Signal {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return Signal{Kind: SignalEvent, Event: e, Time: at}
}

func TickSignal(t time.Time) Signal { return Signal{Kind: SignalTick, Time: t} }
