package automation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func exerciseRecord() RoutineRecord {
	return RoutineRecord{
		UserID: "u1",
		Name:   "Habit celebration",
		Triggers: []ComponentRecord{
			{Type: "HABIT_COMPLETED", Params: Params{"habitName": "Exercise"}},
		},
		Actions: []ComponentRecord{
			{Type: "SEND_NOTIFICATION", Params: Params{"message": "🎉 Great job"}},
		},
	}
}

func TestDecodeRoutineDefaults(t *testing.T) {
	t.Parallel()

	r, err := DecodeRoutine(exerciseRecord())
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.True(t, r.Enabled)
	require.Len(t, r.Triggers, 1)
	assert.Equal(t, HabitCompleted{HabitName: "Exercise"}, r.Triggers[0].Spec)
	require.Len(t, r.Actions, 1)
	assert.Equal(t, SendNotification{Message: "🎉 Great job", Priority: PriorityMedium}, r.Actions[0].Spec)
	assert.Equal(t, 0, r.Actions[0].Order)
	assert.False(t, r.CreatedAt.IsZero())
}

func TestDecodeRoutineRejectsConfigurationErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		edit  func(*RoutineRecord)
		field string
	}{
		{"no triggers", func(r *RoutineRecord) { r.Triggers = nil }, "triggers"},
		{"no actions", func(r *RoutineRecord) { r.Actions = nil }, "actions"},
		{"no user", func(r *RoutineRecord) { r.UserID = "" }, "userId"},
		{"bad cron", func(r *RoutineRecord) {
			r.Triggers = []ComponentRecord{{Type: "SCHEDULED_TIME", Params: Params{"cron": "61 * * * *"}}}
		}, "triggers[0].params.cron"},
		{"missing threshold", func(r *RoutineRecord) {
			r.Triggers = []ComponentRecord{{Type: "MOOD_BELOW_THRESHOLD"}}
		}, "triggers[0].params.threshold"},
		{"unknown trigger", func(r *RoutineRecord) {
			r.Triggers = []ComponentRecord{{Type: "WEATHER_CHANGED"}}
		}, "triggers[0].type"},
		{"unknown action", func(r *RoutineRecord) {
			r.Actions = []ComponentRecord{{Type: "ORDER_PIZZA"}}
		}, "actions[0].type"},
		{"missing message", func(r *RoutineRecord) {
			r.Actions = []ComponentRecord{{Type: "SEND_NOTIFICATION"}}
		}, "actions[0].params.message"},
		{"bad priority", func(r *RoutineRecord) {
			r.Actions = []ComponentRecord{{Type: "SEND_NOTIFICATION", Params: Params{"message": "x", "priority": "URGENT"}}}
		}, "actions[0].params.priority"},
		{"duplicate order", func(r *RoutineRecord) {
			r.Actions = []ComponentRecord{
				{Type: "CREATE_MOOD_CHECK_IN", Order: intPtr(1)},
				{Type: "CREATE_MOOD_CHECK_IN", Order: intPtr(1)},
			}
		}, "actions"},
		{"negative min amount", func(r *RoutineRecord) {
			r.Triggers = []ComponentRecord{{Type: "TRANSACTION_CREATED", Params: Params{"minAmount": -1}}}
		}, "triggers[0].params.minAmount"},
		{"max below min", func(r *RoutineRecord) {
			r.Triggers = []ComponentRecord{{Type: "TRANSACTION_CREATED", Params: Params{"minAmount": 10, "maxAmount": 5}}}
		}, "triggers[0].params.maxAmount"},
		{"string threshold", func(r *RoutineRecord) {
			r.Triggers = []ComponentRecord{{Type: "MOOD_BELOW_THRESHOLD", Params: Params{"threshold": "low"}}}
		}, "triggers[0].params"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := exerciseRecord()
			tc.edit(&rec)
			_, err := DecodeRoutine(rec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRoutine))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestDecodeRoutineCustomActionNeedsRegistration(t *testing.T) {
	t.Parallel()

	rec := exerciseRecord()
	rec.Actions = []ComponentRecord{{Type: "create_goal", Params: Params{"title": "Run 5k"}}}

	_, err := DecodeRoutine(rec)
	require.ErrorIs(t, err, ErrInvalidRoutine)

	r, err := DecodeRoutine(rec, WithKnownActions(func(k ActionKind) bool { return k == "CREATE_GOAL" }))
	require.NoError(t, err)
	assert.Equal(t, Custom{Type: "CREATE_GOAL", Values: Params{"title": "Run 5k"}}, r.Actions[0].Spec)
}

func TestActionOrdering(t *testing.T) {
	t.Parallel()

	rec := exerciseRecord()
	rec.Actions = []ComponentRecord{
		{ID: "c", Type: "CREATE_MOOD_CHECK_IN"},
		{ID: "b", Type: "CREATE_MOOD_CHECK_IN", Order: intPtr(5)},
		{ID: "a", Type: "CREATE_MOOD_CHECK_IN", Order: intPtr(2)},
	}
	r, err := DecodeRoutine(rec)
	require.NoError(t, err)

	var ids []string
	for _, a := range r.OrderedActions() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, 6, r.Actions[0].Order)
}

func TestEncodeDecodePreservesTriggerState(t *testing.T) {
	t.Parallel()

	fired := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	rec := exerciseRecord()
	rec.Triggers = append(rec.Triggers, ComponentRecord{
		ID: "tick", Type: "SCHEDULED_TIME", Params: Params{"cron": "0 8 * * 1-5"}, LastFiredAt: &fired,
	})
	r, err := DecodeRoutine(rec)
	require.NoError(t, err)

	raw, err := json.Marshal(EncodeRoutine(r))
	require.NoError(t, err)
	var back RoutineRecord
	require.NoError(t, json.Unmarshal(raw, &back))

	r2, err := DecodeRoutine(back)
	require.NoError(t, err)
	tr, ok := r2.Trigger("tick")
	require.True(t, ok)
	require.NotNil(t, tr.LastFiredAt)
	assert.True(t, tr.LastFiredAt.Equal(fired))
	assert.Equal(t, r.ID, r2.ID)
	assert.Equal(t, r.Actions[0].ID, r2.Actions[0].ID)
}

func TestParseEventType(t *testing.T) {
	t.Parallel()

	got, err := ParseEventType("mood_logged")
	require.NoError(t, err)
	assert.Equal(t, EventMoodLogged, got)

	_, err = ParseEventType("JOURNAL_WRITTEN")
	assert.ErrorIs(t, err, ErrInvalidEvent)

	err = Event{Type: EventGoalCompleted}.Validate()
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
