package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanics(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background())
	s.Go("boom", func(context.Context) error { panic("bad") })
	s.Go("clean", func(ctx context.Context) error { return context.Canceled })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom: panic: bad")

	snap := s.Snapshot()
	require.Len(t, snap.Goroutines, 2)
	assert.Equal(t, "boom", snap.Goroutines[0].Name)
	assert.Equal(t, uint64(1), snap.Goroutines[0].Panics)
	assert.Empty(t, snap.Goroutines[1].LastErr)
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Go("failer", func(context.Context) error { return errors.New("nope") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorContains(t, s.Wait(ctx), "failer: nope")
}

func TestGoRestartRestartsUntilClean(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewSupervisor(context.Background())
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithPublishFirstError(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	assert.ErrorContains(t, err, "flaky: transient")
	assert.Equal(t, int32(3), runs.Load())
	snap := s.Snapshot()
	require.Len(t, snap.Goroutines, 1)
	assert.Equal(t, uint64(2), snap.Goroutines[0].Restarts)
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewSupervisor(context.Background())
	s.GoRestart("broken", func(context.Context) error {
		runs.Add(1)
		return errors.New("down")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorContains(t, s.Wait(ctx), "broken: down")
	assert.Equal(t, int32(3), runs.Load())
}

func TestStopIsClean(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background())
	s.GoRestart("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
