package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeauto/internal/automation"
	logx "lifeauto/pkg/logx"
)

func drivers(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "auto.db")}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
	}
}

func order(v int) *int { return &v }

func sampleRecord(id, user string, enabled bool) automation.RoutineRecord {
	return automation.RoutineRecord{
		ID:      id,
		UserID:  user,
		Name:    "Low mood support",
		Enabled: &enabled,
		Triggers: []automation.ComponentRecord{
			{ID: "t-mood", Type: "MOOD_BELOW_THRESHOLD", Params: automation.Params{"threshold": 4.0}},
			{ID: "t-cron", Type: "SCHEDULED_TIME", Params: automation.Params{"cron": "0 8 * * 1-5"}},
		},
		Actions: []automation.ComponentRecord{
			{ID: "a1", Type: "CREATE_MOOD_CHECK_IN", Order: order(0)},
			{ID: "a2", Type: "SEND_NOTIFICATION", Params: automation.Params{"message": "hi"}, Order: order(1)},
		},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}

func TestRoutineLifecycle(t *testing.T) {
	t.Parallel()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)

			require.NoError(t, st.PutRoutine(ctx, sampleRecord("r1", "u1", true)))
			require.NoError(t, st.PutRoutine(ctx, sampleRecord("r2", "u1", false)))
			require.NoError(t, st.PutRoutine(ctx, sampleRecord("r3", "u2", true)))

			got, err := st.GetRoutine(ctx, "u1", "r1")
			require.NoError(t, err)
			assert.Equal(t, "Low mood support", got.Name)
			require.Len(t, got.Triggers, 2)
			assert.Equal(t, "t-mood", got.Triggers[0].ID)
			assert.Equal(t, 4.0, got.Triggers[0].Params["threshold"])
			require.Len(t, got.Actions, 2)
			require.NotNil(t, got.Actions[1].Order)
			assert.Equal(t, 1, *got.Actions[1].Order)

			_, err = st.GetRoutine(ctx, "u2", "r1")
			assert.ErrorIs(t, err, automation.ErrNotFound)

			list, err := st.ListRoutines(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, list, 2)

			mood, err := st.EnabledRoutines(ctx, "u1", automation.TriggerMoodBelowThreshold)
			require.NoError(t, err)
			require.Len(t, mood, 1)
			assert.Equal(t, "r1", mood[0].ID)

			sched, err := st.EnabledRoutines(ctx, "", automation.TriggerScheduledTime)
			require.NoError(t, err)
			assert.Len(t, sched, 2)

			none, err := st.EnabledRoutines(ctx, "u1", automation.TriggerGoalCompleted)
			require.NoError(t, err)
			assert.Empty(t, none)

			at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
			require.NoError(t, st.SetTriggerFired(ctx, "r1", "t-cron", at))
			got, err = st.GetRoutine(ctx, "u1", "r1")
			require.NoError(t, err)
			require.NotNil(t, got.Triggers[1].LastFiredAt)
			assert.True(t, got.Triggers[1].LastFiredAt.Equal(at))
			assert.ErrorIs(t, st.SetTriggerFired(ctx, "r1", "missing", at), automation.ErrNotFound)

			require.NoError(t, st.SetRoutineEnabled(ctx, "u1", "r2", true, at))
			mood, err = st.EnabledRoutines(ctx, "u1", automation.TriggerMoodBelowThreshold)
			require.NoError(t, err)
			assert.Len(t, mood, 2)

			require.NoError(t, st.DeleteRoutine(ctx, "u1", "r1", at))
			_, err = st.GetRoutine(ctx, "u1", "r1")
			assert.ErrorIs(t, err, automation.ErrNotFound)
			assert.ErrorIs(t, st.DeleteRoutine(ctx, "u1", "r1", at), automation.ErrNotFound)
			mood, err = st.EnabledRoutines(ctx, "u1", automation.TriggerMoodBelowThreshold)
			require.NoError(t, err)
			require.Len(t, mood, 1)
			assert.Equal(t, "r2", mood[0].ID)
		})
	}
}

func TestRunLedgerRows(t *testing.T) {
	t.Parallel()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			fired := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

			for _, id := range []string{"run1", "run2"} {
				require.NoError(t, st.InsertRun(ctx, automation.Run{
					ID: id, RoutineID: "r1", UserID: "u1", TriggerRef: automation.ScheduledRef,
					TriggerID: "t-cron", FiredAt: fired, Status: automation.RunFiring,
				}))
			}
			pending, err := st.OpenRuns(ctx)
			require.NoError(t, err)
			assert.Len(t, pending, 2)

			outcomes := []automation.Outcome{
				{ActionID: "a1", ActionType: "CREATE_MOOD_CHECK_IN", Status: automation.OutcomeSucceeded},
				{ActionID: "a2", ActionType: "SEND_NOTIFICATION", Order: 1, Status: automation.OutcomeFailed, Reason: "boom"},
			}
			require.NoError(t, st.CompleteRun(ctx, "run1", outcomes, fired.Add(time.Second)))
			assert.ErrorIs(t, st.CompleteRun(ctx, "run1", outcomes, fired), ErrRunNotOpen)
			assert.ErrorIs(t, st.CompleteRun(ctx, "nope", outcomes, fired), ErrRunNotOpen)

			runs, err := st.ListRuns(ctx, "r1", 10)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "run2", runs[0].ID)
			assert.Equal(t, automation.RunFiring, runs[0].Status)
			assert.Equal(t, "run1", runs[1].ID)
			assert.Equal(t, automation.RunCompleted, runs[1].Status)
			assert.Equal(t, outcomes, runs[1].Outcomes)
			require.NotNil(t, runs[1].FinishedAt)

			runs, err = st.ListRuns(ctx, "r1", 1)
			require.NoError(t, err)
			assert.Len(t, runs, 1)
		})
	}
}

func TestEffectsAreUniqueByDedupKey(t *testing.T) {
	t.Parallel()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)

			e := Effect{ID: "e1", UserID: "u1", Kind: "journal_prompt", Title: "Reflect", DedupKey: "r1:a1:1", CreatedAt: time.Now()}
			created, err := st.PutEffect(ctx, e)
			require.NoError(t, err)
			assert.True(t, created)

			e.ID = "e2"
			created, err = st.PutEffect(ctx, e)
			require.NoError(t, err)
			assert.False(t, created)

			list, err := st.ListEffects(ctx, "u1", 0)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "e1", list[0].ID)
		})
	}
}

func TestEventJournalWindow(t *testing.T) {
	t.Parallel()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

			events := []automation.Event{
				{Type: automation.EventTransactionCreated, UserID: "u1", Payload: map[string]any{"amount": -20.0}, At: base.AddDate(0, 0, -10)},
				{Type: automation.EventTransactionCreated, UserID: "u1", Payload: map[string]any{"amount": -30.0}, At: base.AddDate(0, 0, -2)},
				{Type: automation.EventMoodLogged, UserID: "u1", Payload: map[string]any{"score": 3.0}, At: base},
				{Type: automation.EventTransactionCreated, UserID: "u2", Payload: map[string]any{"amount": -99.0}, At: base},
			}
			for _, e := range events {
				require.NoError(t, st.AppendEvent(ctx, e))
			}
			got, err := st.EventsSince(ctx, "u1", automation.EventTransactionCreated, base.AddDate(0, 0, -7))
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, -30.0, got[0].Payload["amount"])
		})
	}
}

func TestDedupExpiry(t *testing.T) {
	t.Parallel()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)

			require.NoError(t, st.PutDedup(ctx, "live", time.Now().Add(time.Hour)))
			require.NoError(t, st.PutDedup(ctx, "stale", time.Now().Add(-time.Hour)))

			_, ok, err := st.GetDedup(ctx, "live")
			require.NoError(t, err)
			assert.True(t, ok)
			_, ok, err = st.GetDedup(ctx, "stale")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}
