package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutByType(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	runs, unsubRuns := b.Subscribe(4, RunCompleted)
	defer unsubRuns()

	b.Publish(Event{Type: RoutineFired})
	b.Publish(Event{Type: RunCompleted, Data: "r1"})

	require.Len(t, all, 2)
	require.Len(t, runs, 1)
	ev := <-runs
	assert.Equal(t, "r1", ev.Data)
	assert.False(t, ev.Time.IsZero())
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: RoutineFired})
	b.Publish(Event{Type: RoutineFired})
	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(1), b.Dropped())

	unsub()
	unsub()
	b.Publish(Event{Type: RoutineFired})
	_, open := <-ch
	assert.True(t, open) // buffered event still readable
	_, open = <-ch
	assert.False(t, open)
}
