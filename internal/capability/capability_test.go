package capability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeauto/internal/automation"
	"lifeauto/internal/automation/action"
	"lifeauto/internal/notifier"
	"lifeauto/internal/storage"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notifier.Notification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, n notifier.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

var now = time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)

func newSet(t *testing.T, n Notifier) (*Set, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	s, err := New(Deps{Effects: st, Events: st, Notifier: n, Now: func() time.Time { return now }})
	require.NoError(t, err)
	return s, st
}

func invocation(kind automation.ActionKind, params automation.Params) action.Invocation {
	return action.Invocation{
		Action:    automation.Action{ID: "a1", Spec: automation.Custom{Type: kind}},
		Params:    params,
		UserID:    "u1",
		RoutineID: "r1",
		DedupKey:  action.DedupKey("r1", "a1", now),
	}
}

func effects(t *testing.T, st storage.Store) []storage.Effect {
	t.Helper()
	out, err := st.ListEffects(context.Background(), "u1", 0)
	require.NoError(t, err)
	return out
}

func TestRegisterCoversBuiltins(t *testing.T) {
	t.Parallel()

	s, _ := newSet(t, nil)
	reg := action.NewRegistry()
	require.NoError(t, s.Register(reg))
	for _, kind := range []automation.ActionKind{
		automation.ActionSendNotification,
		automation.ActionCreateJournalPrompt,
		automation.ActionCreateMoodCheckIn,
		automation.ActionAnalyzeSpendingPattern,
		automation.ActionSuggestCopingStrategy,
		automation.ActionSuggestActivity,
		automation.ActionCreateHabitReminder,
	} {
		assert.True(t, reg.Known(kind), kind)
	}
	assert.ErrorIs(t, s.Register(reg), action.ErrDuplicate)
}

func TestSendNotificationOncePerFiring(t *testing.T) {
	t.Parallel()

	fn := &fakeNotifier{}
	s, st := newSet(t, fn)
	ctx := context.Background()
	inv := invocation(automation.ActionSendNotification, automation.Params{"message": "Great job!", "priority": "HIGH"})

	require.NoError(t, s.sendNotification(ctx, inv))
	require.NoError(t, s.sendNotification(ctx, inv))

	got := effects(t, st)
	require.Len(t, got, 1)
	assert.Equal(t, KindNotification, got[0].Kind)
	assert.Equal(t, "Great job!", got[0].Body)
	require.Len(t, fn.sent, 1)
	assert.Equal(t, automation.PriorityHigh, fn.sent[0].Priority)
	assert.Equal(t, inv.DedupKey, fn.sent[0].DedupKey)
}

func TestNotifierErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"disabled is fine", notifier.ErrDisabled, false},
		{"queue full fails", notifier.ErrQueueFull, true},
		{"stopped fails", notifier.ErrStopped, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newSet(t, &fakeNotifier{err: tt.err})
			err := s.sendNotification(context.Background(), invocation(automation.ActionSendNotification, automation.Params{"message": "hi"}))
			if tt.wantErr {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPromptsAndReminders(t *testing.T) {
	t.Parallel()

	fn := &fakeNotifier{}
	s, st := newSet(t, fn)
	ctx := context.Background()

	inv := invocation(automation.ActionCreateMoodCheckIn, automation.Params{})
	require.NoError(t, s.moodCheckIn(ctx, inv))

	inv = invocation(automation.ActionCreateJournalPrompt, automation.Params{"prompt": "What drained you today?"})
	inv.DedupKey += "-j"
	require.NoError(t, s.journalPrompt(ctx, inv))

	inv = invocation(automation.ActionCreateHabitReminder, automation.Params{"habitName": "Meditation"})
	inv.DedupKey += "-h"
	require.NoError(t, s.habitReminder(ctx, inv))

	got := effects(t, st)
	require.Len(t, got, 3)
	byKind := map[string]storage.Effect{}
	for _, e := range got {
		byKind[e.Kind] = e
	}
	assert.Equal(t, defaultCheckInPrompt, byKind[KindMoodCheckIn].Body)
	assert.Equal(t, "What drained you today?", byKind[KindJournalPrompt].Body)
	assert.Equal(t, "Time for Meditation.", byKind[KindHabitReminder].Body)
	require.Len(t, fn.sent, 1)
	assert.Equal(t, "Habit reminder: Meditation", fn.sent[0].Title)

	assert.Error(t, s.journalPrompt(ctx, invocation(automation.ActionCreateJournalPrompt, automation.Params{})))
}

func TestAnalyzeSpendingPattern(t *testing.T) {
	t.Parallel()

	s, st := newSet(t, nil)
	ctx := context.Background()
	tx := func(amount float64, cat string, ago time.Duration) {
		require.NoError(t, st.AppendEvent(ctx, automation.Event{
			ID: automation.NewID(), Type: automation.EventTransactionCreated, UserID: "u1",
			Payload: map[string]any{"amount": amount, "category": cat},
			At:      now.Add(-ago),
		}))
	}
	tx(-60, "Food", time.Hour)
	tx(-40, "food", 2*time.Hour)
	tx(-100, "Travel", 24*time.Hour)
	tx(-500, "Rent", 10*24*time.Hour)
	require.NoError(t, st.AppendEvent(ctx, automation.Event{
		ID: automation.NewID(), Type: automation.EventTransactionCreated, UserID: "u1",
		Payload: map[string]any{"note": "no amount"}, At: now,
	}))

	inv := invocation(automation.ActionAnalyzeSpendingPattern, automation.Params{"amount": -100})
	require.NoError(t, s.analyzeSpending(ctx, inv))

	got := effects(t, st)
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, KindSpendingInsight, e.Kind)
	assert.Equal(t, 200.0, e.Data["total"])
	assert.Equal(t, 3, e.Data["count"])
	assert.Equal(t, 0.5, e.Data["triggerShare"])
	top := e.Data["topCategories"].([]categoryTotal)
	require.Len(t, top, 2)
	assert.Equal(t, 100.0, top[0].Total)
	assert.Equal(t, "Food", top[0].Category)
	assert.Equal(t, "Travel", top[1].Category)
	assert.Contains(t, e.Body, "You spent 200.00 across 3 transactions in the last 7 days.")
}

func TestSuggestionsAreDeterministic(t *testing.T) {
	t.Parallel()

	s, st := newSet(t, nil)
	ctx := context.Background()

	inv := invocation(automation.ActionSuggestCopingStrategy, automation.Params{"category": "anxiety"})
	require.NoError(t, s.suggestCoping(ctx, inv))
	inv2 := invocation(automation.ActionSuggestActivity, automation.Params{"score": 2})
	inv2.DedupKey += "-act"
	require.NoError(t, s.suggestActivity(ctx, inv2))

	got := effects(t, st)
	require.Len(t, got, 2)
	byKind := map[string]storage.Effect{}
	for _, e := range got {
		byKind[e.Kind] = e
	}

	coping := byKind[KindCopingStrategy]
	assert.Equal(t, "Anxiety", coping.Data["category"])
	anxiety := strategiesFor("Anxiety")
	assert.Equal(t, anxiety[pick(inv.DedupKey, len(anxiety))].Title, coping.Title)

	act := byKind[KindActivity]
	assert.Equal(t, "low", act.Data["band"])
	assert.Equal(t, "morning", act.Data["timeOfDay"])
	assert.Contains(t, activities[bandLow]["morning"], act.Body)
}

func TestMoodBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mood float64
		want moodBand
	}{
		{1, bandLow}, {3, bandLow}, {3.5, bandMid}, {6, bandMid}, {7, bandHigh}, {10, bandHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bandOf(tt.mood), tt.mood)
	}
	assert.Equal(t, "morning", timeOfDay(6))
	assert.Equal(t, "afternoon", timeOfDay(12))
	assert.Equal(t, "evening", timeOfDay(17))
	assert.Len(t, strategiesFor("unknown"), len(copingCatalogue))
}
