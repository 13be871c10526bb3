package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeauto/internal/automation"
)

func routine(t *testing.T, triggers ...automation.ComponentRecord) automation.Routine {
	t.Helper()
	r, err := automation.DecodeRoutine(automation.RoutineRecord{
		ID:       "r1",
		UserID:   "u1",
		Name:     "test",
		Triggers: triggers,
		Actions:  []automation.ComponentRecord{{Type: "CREATE_MOOD_CHECK_IN"}},
	})
	require.NoError(t, err)
	return r
}

func event(typ automation.EventType, payload map[string]any) automation.Signal {
	return automation.EventSignal(automation.Event{
		Type:    typ,
		UserID:  "u1",
		Payload: payload,
		At:      time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
	})
}

func TestMoodThresholdIsInclusive(t *testing.T) {
	t.Parallel()

	r := routine(t, automation.ComponentRecord{Type: "MOOD_BELOW_THRESHOLD", Params: automation.Params{"threshold": 5}})
	cases := []struct {
		score float64
		want  bool
	}{
		{5, true},
		{3, true},
		{6, false},
	}
	for _, tc := range cases {
		f, ok, err := Evaluate(r, r.Triggers[0], event(automation.EventMoodLogged, map[string]any{"score": tc.score}))
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "score=%v", tc.score)
		if ok {
			assert.Equal(t, tc.score, f.Context["score"])
		}
	}
}

func TestHabitNameIgnoresCase(t *testing.T) {
	t.Parallel()

	r := routine(t, automation.ComponentRecord{Type: "HABIT_COMPLETED", Params: automation.Params{"habitName": "Exercise"}})
	_, ok, err := Evaluate(r, r.Triggers[0], event(automation.EventHabitCompleted, map[string]any{"habitName": "exercise"}))
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = Evaluate(r, r.Triggers[0], event(automation.EventHabitCompleted, map[string]any{"habitName": "Reading"}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransactionAmountIsAbsolute(t *testing.T) {
	t.Parallel()

	r := routine(t, automation.ComponentRecord{
		Type:   "TRANSACTION_CREATED",
		Params: automation.Params{"minAmount": 100, "maxAmount": 500, "category": "Food"},
	})
	cases := []struct {
		name    string
		payload map[string]any
		want    bool
	}{
		{"expense", map[string]any{"amount": -150.0, "category": "food"}, true},
		{"income", map[string]any{"amount": 100, "category": "Food"}, true},
		{"too small", map[string]any{"amount": -99.99, "category": "Food"}, false},
		{"too large", map[string]any{"amount": 501, "category": "Food"}, false},
		{"other category", map[string]any{"amount": 200, "category": "Rent"}, false},
		{"no category", map[string]any{"amount": 200}, false},
	}
	for _, tc := range cases {
		_, ok, err := Evaluate(r, r.Triggers[0], event(automation.EventTransactionCreated, tc.payload))
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, ok, tc.name)
	}
}

func TestGoalCompletedFiresForAnyGoal(t *testing.T) {
	t.Parallel()

	r := routine(t, automation.ComponentRecord{Type: "GOAL_COMPLETED"})
	_, ok, err := Evaluate(r, r.Triggers[0], event(automation.EventGoalCompleted, nil))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOtherUsersEventsNeverFire(t *testing.T) {
	t.Parallel()

	r := routine(t, automation.ComponentRecord{Type: "GOAL_COMPLETED"})

	sig := event(automation.EventGoalCompleted, nil)
	sig.Event.UserID = "u2"
	_, ok, err := Evaluate(r, r.Triggers[0], sig)
	require.NoError(t, err)
	assert.False(t, ok)

	sig = event(automation.EventGoalCompleted, map[string]any{"userId": "u2"})
	_, ok, err = Evaluate(r, r.Triggers[0], sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMalformedPayloadIsNotAFire(t *testing.T) {
	t.Parallel()

	r := routine(t, automation.ComponentRecord{Type: "MOOD_BELOW_THRESHOLD", Params: automation.Params{"threshold": 5}})
	_, ok, err := Evaluate(r, r.Triggers[0], event(automation.EventMoodLogged, map[string]any{"score": "meh"}))
	assert.Error(t, err)
	assert.False(t, ok)

	_, ok, err = Evaluate(r, r.Triggers[0], event(automation.EventMoodLogged, nil))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestScheduledTriggersOnlyFireOnTicks(t *testing.T) {
	t.Parallel()

	r := routine(t, automation.ComponentRecord{ID: "cron", Type: "SCHEDULED_TIME", Params: automation.Params{"cron": "0 8 * * 1-5"}})
	monday := time.Date(2024, 1, 1, 8, 0, 30, 0, time.UTC)

	f, ok, err := Evaluate(r, r.Triggers[0], automation.TickSignal(monday))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, f.Scheduled)
	assert.Equal(t, automation.ScheduledRef, f.Ref())
	assert.Equal(t, "cron", f.Context["triggerId"])
	assert.Equal(t, "r1", f.Context["routineId"])
	assert.Equal(t, "2024-01-01T08:00:00Z", f.Context["dueAt"])

	sig := event(automation.EventMoodLogged, map[string]any{"score": 1})
	sig.Time = monday
	_, ok, err = Evaluate(r, r.Triggers[0], sig)
	require.NoError(t, err)
	assert.False(t, ok)

	r.Triggers[0].LastFiredAt = &monday
	_, ok, _ = Evaluate(r, r.Triggers[0], automation.TickSignal(monday.Add(20*time.Second)))
	assert.False(t, ok)
}

func TestFirstPicksDeclaredOrder(t *testing.T) {
	t.Parallel()

	r := routine(t,
		automation.ComponentRecord{ID: "bad", Type: "MOOD_BELOW_THRESHOLD", Params: automation.Params{"threshold": 5}},
		automation.ComponentRecord{ID: "tx", Type: "TRANSACTION_CREATED", Params: automation.Params{"minAmount": 10}},
		automation.ComponentRecord{ID: "habit", Type: "HABIT_COMPLETED", Params: automation.Params{"habitName": "Read"}},
		automation.ComponentRecord{ID: "tx2", Type: "TRANSACTION_CREATED", Params: automation.Params{"minAmount": 0}},
	)
	f, ok, errs := First(r, event(automation.EventTransactionCreated, map[string]any{"amount": 50}))
	require.True(t, ok)
	assert.Empty(t, errs)
	assert.Equal(t, "tx", f.TriggerID)
	assert.Equal(t, "tx", f.Ref())
}
