package automation

import (
	"strings"
)

type ActionKind string

const (
	ActionSendNotification       ActionKind = "SEND_NOTIFICATION"
	ActionCreateJournalPrompt    ActionKind = "CREATE_JOURNAL_PROMPT"
	ActionCreateMoodCheckIn      ActionKind = "CREATE_MOOD_CHECK_IN"
	ActionAnalyzeSpendingPattern ActionKind = "ANALYZE_SPENDING_PATTERN"
	ActionSuggestCopingStrategy  ActionKind = "SUGGEST_COPING_STRATEGY"
	ActionSuggestActivity        ActionKind = "SUGGEST_ACTIVITY"
	ActionCreateHabitReminder    ActionKind = "CREATE_HABIT_REMINDER"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func parsePriority(raw string) (Priority, bool) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(raw))); p {
	case "":
		return PriorityMedium, true
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, true
	default:
		return "", false
	}
}

// ActionSpec is the set of action variants. Built-in kinds have typed variants;
// integrator-registered kinds use Custom.
type ActionSpec interface {
	Kind() ActionKind
	Params() Params
}

type SendNotification struct {
	Message  string
	Priority Priority
}

type CreateJournalPrompt struct {
	Prompt string
}

type CreateMoodCheckIn struct {
	Prompt string
}

// AnalyzeSpendingPattern looks back WindowDays (default 7) of transactions.
type AnalyzeSpendingPattern struct {
	WindowDays int
}

type SuggestCopingStrategy struct {
	Category string
}

// SuggestActivity picks an activity for a mood (0 means "use the triggering mood").
type SuggestActivity struct {
	Mood      float64
	TimeOfDay string
}

type CreateHabitReminder struct {
	HabitName string
	Message   string
}

// Custom is an action type handled by an externally registered capability.
type Custom struct {
	Type   ActionKind
	Values Params
}

func (SendNotification) Kind() ActionKind       { return ActionSendNotification }
func (CreateJournalPrompt) Kind() ActionKind    { return ActionCreateJournalPrompt }
func (CreateMoodCheckIn) Kind() ActionKind      { return ActionCreateMoodCheckIn }
func (AnalyzeSpendingPattern) Kind() ActionKind { return ActionAnalyzeSpendingPattern }
func (SuggestCopingStrategy) Kind() ActionKind  { return ActionSuggestCopingStrategy }
func (SuggestActivity) Kind() ActionKind        { return ActionSuggestActivity }
func (CreateHabitReminder) Kind() ActionKind    { return ActionCreateHabitReminder }
func (c Custom) Kind() ActionKind               { return c.Type }

func (a SendNotification) Params() Params {
	return Params{"message": a.Message, "priority": string(a.Priority)}
}
func (a CreateJournalPrompt) Params() Params { return Params{"prompt": a.Prompt} }
func (a CreateMoodCheckIn) Params() Params   { return Params{"prompt": a.Prompt} }
func (a AnalyzeSpendingPattern) Params() Params {
	if a.WindowDays == 0 {
		return Params{}
	}
	return Params{"windowDays": a.WindowDays}
}
func (a SuggestCopingStrategy) Params() Params { return Params{"category": a.Category} }
func (a SuggestActivity) Params() Params {
	p := Params{}
	if a.Mood != 0 {
		p["mood"] = a.Mood
	}
	if a.TimeOfDay != "" {
		p["timeOfDay"] = a.TimeOfDay
	}
	return p
}
func (a CreateHabitReminder) Params() Params {
	return Params{"habitName": a.HabitName, "message": a.Message}
}
func (c Custom) Params() Params { return c.Values.Clone() }

var builtinActions = map[ActionKind]bool{
	ActionSendNotification:       true,
	ActionCreateJournalPrompt:    true,
	ActionCreateMoodCheckIn:      true,
	ActionAnalyzeSpendingPattern: true,
	ActionSuggestCopingStrategy:  true,
	ActionSuggestActivity:        true,
	ActionCreateHabitReminder:    true,
}

// IsBuiltinAction reports whether kind has a typed variant.
func IsBuiltinAction(kind ActionKind) bool { return builtinActions[kind] }

func requiredString(params Params, key string) (string, error) {
	s, ok, err := params.String(key)
	if err != nil {
		return "", invalid("params", "%v", err)
	}
	if !ok || s == "" {
		return "", invalid("params."+key, "required")
	}
	return s, nil
}

func optionalString(params Params, key string) (string, error) {
	s, _, err := params.String(key)
	if err != nil {
		return "", invalid("params", "%v", err)
	}
	return s, nil
}

// NewActionSpec builds a typed action from its wire form. known reports whether a
// non-built-in kind has a registered capability; nil rejects every custom kind.
func NewActionSpec(kind ActionKind, params Params, known func(ActionKind) bool) (ActionSpec, error) {
	if params == nil {
		params = Params{}
	}
	k := ActionKind(strings.ToUpper(strings.TrimSpace(string(kind))))
	switch k {
	case ActionSendNotification:
		msg, err := requiredString(params, "message")
		if err != nil {
			return nil, err
		}
		raw, err := optionalString(params, "priority")
		if err != nil {
			return nil, err
		}
		prio, ok := parsePriority(raw)
		if !ok {
			return nil, invalid("params.priority", "must be LOW, MEDIUM or HIGH")
		}
		return SendNotification{Message: msg, Priority: prio}, nil

	case ActionCreateJournalPrompt:
		p, err := requiredString(params, "prompt")
		if err != nil {
			return nil, err
		}
		return CreateJournalPrompt{Prompt: p}, nil

	case ActionCreateMoodCheckIn:
		p, err := optionalString(params, "prompt")
		if err != nil {
			return nil, err
		}
		return CreateMoodCheckIn{Prompt: p}, nil

	case ActionAnalyzeSpendingPattern:
		days, ok, err := params.Number("windowDays")
		if err != nil {
			return nil, invalid("params", "%v", err)
		}
		a := AnalyzeSpendingPattern{}
		if ok {
			if days < 1 || days > 365 {
				return nil, invalid("params.windowDays", "must be between 1 and 365")
			}
			a.WindowDays = int(days)
		}
		return a, nil

	case ActionSuggestCopingStrategy:
		c, err := optionalString(params, "category")
		if err != nil {
			return nil, err
		}
		return SuggestCopingStrategy{Category: c}, nil

	case ActionSuggestActivity:
		a := SuggestActivity{}
		mood, ok, err := params.Number("mood")
		if err != nil {
			return nil, invalid("params", "%v", err)
		}
		if ok {
			if mood < 1 || mood > 10 {
				return nil, invalid("params.mood", "must be between 1 and 10")
			}
			a.Mood = mood
		}
		tod, err := optionalString(params, "timeOfDay")
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(tod) {
		case "", "morning", "afternoon", "evening":
			a.TimeOfDay = strings.ToLower(tod)
		default:
			return nil, invalid("params.timeOfDay", "must be morning, afternoon or evening")
		}
		return a, nil

	case ActionCreateHabitReminder:
		name, err := requiredString(params, "habitName")
		if err != nil {
			return nil, err
		}
		msg, err := optionalString(params, "message")
		if err != nil {
			return nil, err
		}
		return CreateHabitReminder{HabitName: name, Message: msg}, nil
	}

	if k == "" {
		return nil, invalid("type", "required")
	}
	if known == nil || !known(k) {
		return nil, invalid("type", "unknown action type %q", kind)
	}
	return Custom{Type: k, Values: params.Clone()}, nil
}

// Action belongs to exactly one routine; Order is unique within the routine.
type Action struct {
	ID    string
	Order int
	Spec  ActionSpec
}

func (a Action) Kind() ActionKind {
	if a.Spec == nil {
		return ""
	}
	return a.Spec.Kind()
}
