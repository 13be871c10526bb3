package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
logging:
  level: error
scheduler:
  timezone: UTC
storage:
  driver: memory
notifier:
  enabled: false
  workers: 1
  queue_size: 8
  rate_per_sec: 1
  retry_max: 0
  retry_base: 100ms
  retry_max_delay: 1s
  dedup_window: 1m
  dedup_max_entries: 10
`

func newTestApp(t *testing.T) *App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lifeauto.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	a, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a
}

func TestSeedIsIdempotent(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	ctx := context.Background()

	first, err := a.Seed(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, first.Created, 8)
	assert.Empty(t, first.Skipped)

	second, err := a.Seed(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Len(t, second.Skipped, 8)

	rs, err := a.Engine().Routines(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, rs, 8)
}

func TestTickFiresDueSeededRoutines(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := a.Seed(ctx, "u1")
	require.NoError(t, err)

	// Monday 21:00: only the evening wind-down is due.
	rep, err := a.Tick(ctx, time.Date(2024, 1, 1, 21, 0, 10, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Firings)

	effects, err := a.store.ListEffects(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, effects, 2)
}
