// Package eventbus is a non-blocking in-memory fan-out of lifecycle events.
// Publishers never wait on subscribers: a subscriber whose buffer is full
// misses the event and the drop is counted.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle event types.
const (
	RoutineFired       = "routine.fired"
	RunCompleted       = "run.completed"
	FiringEvicted      = "firing.evicted"
	NotifierQueued     = "notifier.queued"
	NotifierDeduped    = "notifier.deduped"
	NotifierDropped    = "notifier.dropped"
	NotificationSent   = "notification.sent"
	NotificationFailed = "notification.failed"
)

// Event is a small, JSON-friendly signal.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe receives every event type when types is empty.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch    chan Event
	types map[string]bool
}

func (s *subscriber) wants(typ string) bool {
	return len(s.types) == 0 || s.types[typ]
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock; unsubscribe takes the write lock
	// before closing, so no send can hit a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
	return s.ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
