package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"lifeauto/internal/automation"
	"lifeauto/internal/storage"
	logx "lifeauto/pkg/logx"
)

type fakeSink struct {
	mu    sync.Mutex
	sent  []Notification
	fails int
	calls int
	block chan struct{}
	err   error
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Send(ctx context.Context, n Notification) error {
	f.mu.Lock()
	f.calls++
	block := f.block
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return errors.New("unavailable")
	}
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	f.sent = append(f.sent, n)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) counts() (calls, sent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, len(f.sent)
}

func start(t *testing.T, cfg Config, sink Sink, store storage.DedupStore) *Service {
	t.Helper()
	cfg.Enabled = true
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	s := New(cfg, []Sink{sink}, logx.Nop(), nil, store)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestDisabledNotifierRejects(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, logx.Nop(), nil, nil)
	s.Start(context.Background())
	err := s.Notify(context.Background(), Notification{UserID: "u1", Message: "hi"})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestNotifyDeliversAndDedups(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	s := start(t, Config{DedupWindow: time.Minute}, sink, nil)
	ctx := context.Background()

	n := Notification{UserID: "u1", Message: "drink water", Priority: automation.PriorityHigh, DedupKey: "r1:a1:1"}
	require.NoError(t, s.Notify(ctx, n))
	require.NoError(t, s.Notify(ctx, n))
	require.NoError(t, s.Notify(ctx, Notification{UserID: "u1", Message: "stretch"}))

	require.Eventually(t, func() bool {
		_, sent := sink.counts()
		return sent == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Notify(ctx, Notification{UserID: "u1"}), ErrEmpty)

	hist := s.Snapshot()
	require.Len(t, hist, 2)
	assert.Equal(t, "fake", hist[0].Sink)
}

func TestSendRetriesWithBackoff(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{fails: 2}
	s := start(t, Config{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, sink, nil)
	require.NoError(t, s.Notify(context.Background(), Notification{UserID: "u1", Message: "hello"}))

	require.Eventually(t, func() bool {
		calls, sent := sink.counts()
		return calls == 3 && sent == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNoRouteIsNotRetried(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{err: ErrNoRoute}
	s := start(t, Config{RetryMax: 3, RetryBase: time.Millisecond}, sink, nil)
	require.NoError(t, s.Notify(context.Background(), Notification{UserID: "u1", Message: "hello"}))

	require.Eventually(t, func() bool {
		calls, _ := sink.counts()
		return calls == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	calls, _ := sink.counts()
	assert.Equal(t, 1, calls)
}

func TestFullQueueAndStop(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{block: make(chan struct{})}
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 1, RatePerSec: 1000}, []Sink{sink}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	ctx := context.Background()

	require.NoError(t, s.Notify(ctx, Notification{UserID: "u1", Message: "one"}))
	require.Eventually(t, func() bool {
		calls, _ := sink.counts()
		return calls == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Notify(ctx, Notification{UserID: "u1", Message: "two"}))
	assert.ErrorIs(t, s.Notify(ctx, Notification{UserID: "u1", Message: "three"}), ErrQueueFull)

	close(sink.block)
	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Stop(sctx)

	_, sent := sink.counts()
	assert.Equal(t, 2, sent)
	assert.ErrorIs(t, s.Notify(ctx, Notification{UserID: "u1", Message: "four"}), ErrStopped)
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	ctx := context.Background()
	n := Notification{UserID: "u1", Message: "once", DedupKey: "r1:a1:7"}

	first := &fakeSink{}
	s1 := start(t, Config{DedupWindow: time.Hour, PersistDedup: true}, first, store)
	require.NoError(t, s1.Notify(ctx, n))
	require.Eventually(t, func() bool {
		_, ok, err := store.GetDedup(ctx, dedupKey(n))
		return err == nil && ok
	}, 2*time.Second, 5*time.Millisecond)

	second := &fakeSink{}
	s2 := start(t, Config{DedupWindow: time.Hour, PersistDedup: true}, second, store)
	require.NoError(t, s2.Notify(ctx, n))
	time.Sleep(20 * time.Millisecond)
	calls, _ := second.counts()
	assert.Zero(t, calls)
}

type fakeBot struct {
	to   tele.Recipient
	text string
}

func (b *fakeBot) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	b.to = to
	b.text, _ = what.(string)
	return &tele.Message{ID: 1}, nil
}

func TestTelegramSinkRoutesByUser(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	sink := newTelegramSink(bot, TelegramConfig{Chats: map[string]int64{"u1": 4242}})

	err := sink.Send(context.Background(), Notification{UserID: "u1", Title: "Heads up", Message: "budget", Priority: automation.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, "4242", bot.to.Recipient())
	assert.Equal(t, "🚨 Heads up\nbudget", bot.text)

	err = sink.Send(context.Background(), Notification{UserID: "u2", Message: "x"})
	assert.ErrorIs(t, err, ErrNoRoute)
}
