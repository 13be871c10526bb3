package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeauto/internal/automation"
	"lifeauto/internal/automation/trigger"
	"lifeauto/internal/storage"
)

func TestOpenFinishRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	finished := time.Date(2024, 1, 1, 8, 0, 5, 0, time.UTC)
	l := New(storage.NewMemory(), WithClock(func() time.Time { return finished }))
	r := automation.Routine{ID: "r1", UserID: "u1"}
	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	run, err := l.Open(ctx, r, trigger.Fire{RoutineID: "r1", TriggerID: "t-cron", Scheduled: true, At: at})
	require.NoError(t, err)
	assert.Equal(t, automation.ScheduledRef, run.TriggerRef)
	assert.Equal(t, "t-cron", run.TriggerID)
	assert.Equal(t, automation.RunFiring, run.Status)

	dangling, err := l.Dangling(ctx)
	require.NoError(t, err)
	require.Len(t, dangling, 1)

	outcomes := []automation.Outcome{{ActionID: "a1", Status: automation.OutcomeSucceeded}}
	require.NoError(t, l.Finish(ctx, run.ID, outcomes))
	assert.ErrorIs(t, l.Finish(ctx, run.ID, outcomes), storage.ErrRunNotOpen)

	id, err := l.Record(ctx, r, trigger.Fire{RoutineID: "r1", TriggerID: "t-mood", At: at.Add(time.Minute)}, outcomes)
	require.NoError(t, err)

	runs, err := l.LastOutcomesFor(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "t-mood", runs[0].TriggerRef)
	assert.Equal(t, automation.RunCompleted, runs[1].Status)
	require.NotNil(t, runs[1].FinishedAt)
	assert.Equal(t, finished, *runs[1].FinishedAt)

	dangling, err = l.Dangling(ctx)
	require.NoError(t, err)
	assert.Empty(t, dangling)
}
