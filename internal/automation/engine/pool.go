package engine

import (
	"sync"
	"time"

	"lifeauto/internal/automation"
	"lifeauto/internal/automation/trigger"
)

// firing is a routine whose run is open and whose actions have not run yet.
type firing struct {
	routine  automation.Routine
	fire     trigger.Fire
	run      automation.Run
	queuedAt time.Time
}

// firingQueue is a bounded FIFO of pending firings. Workers only take a firing
// whose routine has nothing in flight, so each routine executes one firing at a
// time and in arrival order.
type firingQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*firing
	busy     map[string]struct{}
	capacity int
	inFlight int
	closed   bool
}

func newFiringQueue(capacity int) *firingQueue {
	q := &firingQueue{busy: map[string]struct{}{}, capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push never blocks. When the queue is full the oldest pending firing is
// removed and returned so the caller can complete it as backpressure.
func (q *firingQueue) push(f *firing) (*firing, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrStopping
	}
	var evicted *firing
	if len(q.pending) >= q.capacity {
		evicted = q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
	}
	q.pending = append(q.pending, f)
	q.cond.Broadcast()
	return evicted, nil
}

// take blocks until a runnable firing exists or the queue is closed.
func (q *firingQueue) take() (*firing, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return nil, false
		}
		for i, f := range q.pending {
			if _, running := q.busy[f.routine.ID]; running {
				continue
			}
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.busy[f.routine.ID] = struct{}{}
			q.inFlight++
			return f, true
		}
		q.cond.Wait()
	}
}

func (q *firingQueue) done(f *firing) {
	q.mu.Lock()
	delete(q.busy, f.routine.ID)
	q.inFlight--
	q.cond.Broadcast()
	q.mu.Unlock()
}

// close stops workers from taking more work and returns what was pending.
func (q *firingQueue) close() []*firing {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	rest := q.pending
	q.pending = nil
	q.cond.Broadcast()
	return rest
}

func (q *firingQueue) stats() (pending, inFlight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), q.inFlight
}

func (q *firingQueue) idle() bool {
	p, n := q.stats()
	return p == 0 && n == 0
}
