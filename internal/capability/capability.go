// Package capability implements the built-in action types. Each capability
// writes a user-visible effect keyed by the invocation's dedup key, so a firing
// delivered twice produces one record.
package capability

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"lifeauto/internal/automation"
	"lifeauto/internal/automation/action"
	"lifeauto/internal/notifier"
	"lifeauto/internal/storage"
	logx "lifeauto/pkg/logx"
)

// Effect kinds.
const (
	KindNotification    = "notification"
	KindJournalPrompt   = "journal_prompt"
	KindMoodCheckIn     = "mood_check_in"
	KindSpendingInsight = "spending_insight"
	KindCopingStrategy  = "coping_strategy"
	KindActivity        = "activity_suggestion"
	KindHabitReminder   = "habit_reminder"
)

const defaultCheckInPrompt = "How are you feeling right now?"

// Notifier is the delivery side of SEND_NOTIFICATION and habit reminders.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

type Deps struct {
	Effects storage.EffectStore
	Events  storage.EventJournal
	// Notifier may be nil; notifications are then only stored.
	Notifier Notifier
	Log      logx.Logger
	Now      func() time.Time
	// Location decides the time of day for activity suggestions.
	Location *time.Location
}

// Set is the built-in capability handlers sharing one set of dependencies.
type Set struct {
	effects  storage.EffectStore
	events   storage.EventJournal
	notifier Notifier
	log      logx.Logger
	now      func() time.Time
	loc      *time.Location
}

func New(deps Deps) (*Set, error) {
	if deps.Effects == nil {
		return nil, errors.New("capability: effect store is required")
	}
	s := &Set{
		effects:  deps.Effects,
		events:   deps.Events,
		notifier: deps.Notifier,
		log:      deps.Log,
		now:      deps.Now,
		loc:      deps.Location,
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "capability"))
	if s.now == nil {
		s.now = time.Now
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s, nil
}

// Register installs a handler for every built-in action type.
func (s *Set) Register(reg *action.Registry) error {
	handlers := map[automation.ActionKind]action.Handler{
		automation.ActionSendNotification:       s.sendNotification,
		automation.ActionCreateJournalPrompt:    s.journalPrompt,
		automation.ActionCreateMoodCheckIn:      s.moodCheckIn,
		automation.ActionAnalyzeSpendingPattern: s.analyzeSpending,
		automation.ActionSuggestCopingStrategy:  s.suggestCoping,
		automation.ActionSuggestActivity:        s.suggestActivity,
		automation.ActionCreateHabitReminder:    s.habitReminder,
	}
	for kind, h := range handlers {
		if err := reg.Register(kind, h); err != nil {
			return fmt.Errorf("register %s: %w", kind, err)
		}
	}
	return nil
}

// put stores an effect. It reports false when the invocation was already applied.
func (s *Set) put(ctx context.Context, inv action.Invocation, kind, title, body string, data map[string]any) (bool, error) {
	e := storage.Effect{
		ID:        automation.NewID(),
		UserID:    inv.UserID,
		RoutineID: inv.RoutineID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		Data:      data,
		DedupKey:  inv.DedupKey,
		CreatedAt: s.now().UTC(),
	}
	created, err := s.effects.PutEffect(ctx, e)
	if err != nil {
		return false, fmt.Errorf("store %s: %w", kind, err)
	}
	if !created {
		s.log.Debug("effect.duplicate", logx.String("kind", kind), logx.String("dedup", inv.DedupKey))
	}
	return created, nil
}

// deliver pushes a stored effect to the notifier. A disabled notifier is not
// an action failure; a full or stopped one is.
func (s *Set) deliver(ctx context.Context, inv action.Invocation, title, msg string, prio automation.Priority) error {
	if s.notifier == nil {
		return nil
	}
	err := s.notifier.Notify(ctx, notifier.Notification{
		UserID:    inv.UserID,
		RoutineID: inv.RoutineID,
		Title:     title,
		Message:   msg,
		Priority:  prio,
		DedupKey:  inv.DedupKey,
	})
	if errors.Is(err, notifier.ErrDisabled) {
		return nil
	}
	return err
}

func (s *Set) sendNotification(ctx context.Context, inv action.Invocation) error {
	msg, _, err := inv.Params.String("message")
	if err != nil {
		return err
	}
	if msg == "" {
		return errors.New("message is empty")
	}
	raw, _, _ := inv.Params.String("priority")
	prio := automation.Priority(strings.ToUpper(raw))
	if prio == "" {
		prio = automation.PriorityMedium
	}

	created, err := s.put(ctx, inv, KindNotification, "Notification", msg, map[string]any{"priority": string(prio)})
	if err != nil || !created {
		return err
	}
	return s.deliver(ctx, inv, "", msg, prio)
}

func (s *Set) journalPrompt(ctx context.Context, inv action.Invocation) error {
	prompt, _, err := inv.Params.String("prompt")
	if err != nil {
		return err
	}
	if prompt == "" {
		return errors.New("prompt is empty")
	}
	_, err = s.put(ctx, inv, KindJournalPrompt, "Journal prompt", prompt, nil)
	return err
}

func (s *Set) moodCheckIn(ctx context.Context, inv action.Invocation) error {
	prompt, _, err := inv.Params.String("prompt")
	if err != nil {
		return err
	}
	if prompt == "" {
		prompt = defaultCheckInPrompt
	}
	_, err = s.put(ctx, inv, KindMoodCheckIn, "Mood check-in", prompt, nil)
	return err
}

func (s *Set) habitReminder(ctx context.Context, inv action.Invocation) error {
	habit, _, err := inv.Params.String("habitName")
	if err != nil {
		return err
	}
	if habit == "" {
		return errors.New("habitName is empty")
	}
	msg, _, _ := inv.Params.String("message")
	if msg == "" {
		msg = fmt.Sprintf("Time for %s.", habit)
	}
	title := "Habit reminder: " + habit
	created, err := s.put(ctx, inv, KindHabitReminder, title, msg, map[string]any{"habitName": habit})
	if err != nil || !created {
		return err
	}
	return s.deliver(ctx, inv, title, msg, automation.PriorityMedium)
}

// pick chooses deterministically among n options for one invocation.
func pick(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
