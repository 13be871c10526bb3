// Package engine is the routine orchestrator: it evaluates routines on events
// and scheduler ticks, records firings in the run ledger and hands them to a
// bounded worker pool that executes the actions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"lifeauto/internal/automation"
	"lifeauto/internal/automation/action"
	"lifeauto/internal/automation/ledger"
	"lifeauto/internal/automation/trigger"
	"lifeauto/internal/eventbus"
	rtsup "lifeauto/internal/runtime/supervisor"
	"lifeauto/internal/storage"
	logx "lifeauto/pkg/logx"
)

// Store is the persistence the engine needs.
type Store interface {
	storage.RoutineStore
	storage.RunStore
	storage.EventJournal
}

type Deps struct {
	Store    Store
	Registry *action.Registry
	Log      logx.Logger
	Bus      eventbus.Bus
	Now      func() time.Time
}

type Engine struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	store  Store
	reg    *action.Registry
	exec   *action.Executor
	ledger *ledger.Ledger
	locks  keyedMutex

	queue  *firingQueue
	sup    *rtsup.Supervisor
	ticker *cron.Cron

	hmu     sync.Mutex
	history []HistoryItem

	fired      atomic.Uint64
	completed  atomic.Uint64
	evicted    atomic.Uint64
	evalErrors atomic.Uint64
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	cfg = cfg.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "engine"))
	reg := deps.Registry
	if reg == nil {
		reg = action.NewRegistry()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:    cfg,
		log:    log,
		bus:    deps.Bus,
		now:    now,
		store:  deps.Store,
		reg:    reg,
		exec:   action.NewExecutor(reg, action.WithTimeout(cfg.ActionTimeout), action.WithLogger(log)),
		ledger: ledger.New(deps.Store, ledger.WithClock(now)),
	}, nil
}

func (e *Engine) Registry() *action.Registry { return e.reg }

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Start launches the firing workers and, if configured, the minute ticker.
// Runs left open by a previous process are completed as interrupted first.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.queue != nil {
		e.mu.Unlock()
		return nil
	}
	cfg := e.cfg
	e.mu.Unlock()

	if n, err := e.recoverDangling(ctx); err != nil {
		e.log.Warn("engine.recover_failed", logx.Err(err))
	} else if n > 0 {
		e.log.Info("engine.recovered_runs", logx.Int("runs", n))
	}

	q := newFiringQueue(cfg.QueueSize)
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(e.log),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("firing.worker.%d", i), func(c context.Context) error {
			e.worker(c, q)
			return context.Canceled
		}, rtsup.WithPublishFirstError(true))
	}

	var ticker *cron.Cron
	if cfg.InternalTick {
		ticker = cron.New(cron.WithLocation(cfg.Location))
		_, err := ticker.AddFunc("* * * * *", func() {
			report, err := e.ProcessScheduled(sup.Context(), e.now())
			if err != nil {
				e.log.Warn("engine.tick_failed", logx.Err(err))
				return
			}
			e.log.Debug("engine.tick", logx.Int("processed", report.RoutinesProcessed), logx.Int("firings", report.Firings))
		})
		if err != nil {
			sup.Cancel()
			return fmt.Errorf("engine: register ticker: %w", err)
		}
		ticker.Start()
	}

	e.mu.Lock()
	e.queue = q
	e.sup = sup
	e.ticker = ticker
	e.mu.Unlock()

	e.log.Info("engine started",
		logx.Int("workers", cfg.Workers),
		logx.Int("queue", cfg.QueueSize),
		logx.Duration("action_timeout", cfg.ActionTimeout),
		logx.Bool("internal_tick", cfg.InternalTick),
	)
	return nil
}

// Stop lets in-flight firings finish. Firings still pending are completed
// with backpressure outcomes and reason "shutdown".
func (e *Engine) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	q, sup, ticker := e.queue, e.sup, e.ticker
	e.queue, e.sup, e.ticker = nil, nil, nil
	e.mu.Unlock()
	if q == nil {
		return
	}

	if ticker != nil {
		select {
		case <-ticker.Stop().Done():
		case <-ctx.Done():
		}
	}
	rest := q.close()
	for _, f := range rest {
		e.evict(ctx, f, reasonShutdown)
	}
	if sup != nil {
		if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Warn("engine stop", logx.Err(err))
		}
		sup.Cancel()
	}
	e.log.Info("engine stopped", logx.Int("shed", len(rest)))
}

// Drain waits until no firing is pending or running.
func (e *Engine) Drain(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		q := e.currentQueue()
		if q == nil || q.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (e *Engine) currentQueue() *firingQueue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue
}

// Notify ingests one domain event. It returns once every interested routine has
// been evaluated and its firing handed off; actions run asynchronously.
func (e *Engine) Notify(ctx context.Context, ev automation.Event) (int, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}
	if e.currentQueue() == nil {
		return 0, ErrStopped
	}
	if ev.ID == "" {
		ev.ID = automation.NewID()
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	ev.At = ev.At.UTC()

	if err := e.store.AppendEvent(ctx, ev); err != nil {
		e.log.Warn("engine.journal_failed", logx.String("event", string(ev.Type)), logx.Err(err))
	}

	kind, _ := ev.Type.TriggerKind()
	recs, err := e.store.EnabledRoutines(ctx, ev.UserID, kind)
	if err != nil {
		return 0, fmt.Errorf("load routines for %s: %w", ev.Type, err)
	}

	sig := automation.EventSignal(ev)
	firings := 0
	var errs []error
	for _, rec := range recs {
		fired, err := e.evaluate(ctx, rec.UserID, rec.ID, sig)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if fired {
			firings++
		}
	}
	e.log.Debug("engine.event",
		logx.String("type", string(ev.Type)),
		logx.String("user", ev.UserID),
		logx.Int("candidates", len(recs)),
		logx.Int("firings", firings),
	)
	return firings, errors.Join(errs...)
}

// ProcessScheduled evaluates every enabled routine with a scheduled trigger
// against now. Calling it several times within one minute fires each due
// trigger once.
func (e *Engine) ProcessScheduled(ctx context.Context, now time.Time) (TickReport, error) {
	if e.currentQueue() == nil {
		return TickReport{}, ErrStopped
	}
	recs, err := e.store.EnabledRoutines(ctx, "", automation.TriggerScheduledTime)
	if err != nil {
		return TickReport{}, fmt.Errorf("load scheduled routines: %w", err)
	}

	sig := automation.TickSignal(now)
	var report TickReport
	var errs []error
	for _, rec := range recs {
		report.RoutinesProcessed++
		fired, err := e.evaluate(ctx, rec.UserID, rec.ID, sig)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if fired {
			report.Firings++
		}
	}
	if report.Firings > 0 {
		e.log.Info("engine.tick", logx.Int("processed", report.RoutinesProcessed), logx.Int("firings", report.Firings))
	}
	return report, errors.Join(errs...)
}

// evaluate decides and records a firing under the routine's lock. The routine
// is reloaded so enabled and last-fired state are current.
func (e *Engine) evaluate(ctx context.Context, userID, routineID string, sig automation.Signal) (bool, error) {
	unlock := e.locks.lock(routineID)
	defer unlock()

	rec, err := e.store.GetRoutine(ctx, userID, routineID)
	if errors.Is(err, automation.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load routine %s: %w", routineID, err)
	}
	r, err := automation.DecodeRoutine(rec, e.decodeOptions()...)
	if err != nil {
		e.evalErrors.Add(1)
		e.log.Warn("engine.routine_invalid", logx.String("routine", routineID), logx.Err(err))
		return false, nil
	}
	if !r.Enabled {
		return false, nil
	}

	e.log.Trace("routine.evaluating", logx.String("routine", r.ID), logx.String("signal", sig.Kind.String()))
	f, ok, evalErrs := trigger.First(r, sig)
	for _, err := range evalErrs {
		e.evalErrors.Add(1)
		e.log.Warn("trigger.eval_failed", logx.String("routine", r.ID), logx.Err(err))
	}
	if !ok {
		return false, nil
	}
	return true, e.fireLocked(ctx, r, f)
}

// fireLocked records the firing and hands it to the pool: run first, then
// the trigger's last-fired time, then execution.
func (e *Engine) fireLocked(ctx context.Context, r automation.Routine, f trigger.Fire) error {
	run, err := e.ledger.Open(ctx, r, f)
	if err != nil {
		return err
	}
	for _, id := range firedTriggers(r, f) {
		if err := e.store.SetTriggerFired(ctx, r.ID, id, f.At); err != nil {
			e.log.Warn("engine.last_fired_failed", logx.String("routine", r.ID), logx.String("trigger", id), logx.Err(err))
		}
	}
	e.fired.Add(1)

	fr := &firing{routine: r, fire: f, run: run, queuedAt: e.now()}
	e.publish(eventbus.RoutineFired, fr, StateFiring, nil)
	e.log.Info("routine.fired",
		logx.String("routine", r.ID),
		logx.String("user", r.UserID),
		logx.String("trigger", f.Ref()),
		logx.String("run", run.ID),
	)

	q := e.currentQueue()
	if q == nil {
		e.evict(ctx, fr, reasonShutdown)
		return nil
	}
	evicted, err := q.push(fr)
	if err != nil {
		e.evict(ctx, fr, reasonShutdown)
		return nil
	}
	if evicted != nil {
		e.evict(ctx, evicted, reasonBackpressure)
	}
	return nil
}

// firedTriggers lists the triggers consumed by f. A tick consumes every
// scheduled trigger of the routine due in that minute, so a second due
// trigger cannot fire the routine again later in the minute.
func firedTriggers(r automation.Routine, f trigger.Fire) []string {
	ids := []string{f.TriggerID}
	if !f.Scheduled {
		return ids
	}
	for _, t := range r.Triggers {
		st, ok := t.Spec.(automation.ScheduledTime)
		if !ok || t.ID == f.TriggerID {
			continue
		}
		if st.Schedule.IsDue(f.At, t.LastFiredAt) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func (e *Engine) worker(ctx context.Context, q *firingQueue) {
	for {
		f, ok := q.take()
		if !ok {
			return
		}
		e.execute(ctx, q, f)
	}
}

func (e *Engine) execute(ctx context.Context, q *firingQueue, f *firing) {
	defer q.done(f)

	// A started firing runs to completion, shutdown included.
	actx := context.WithoutCancel(ctx)
	start := e.now()
	delay := start.Sub(f.queuedAt)
	if delay < 0 {
		delay = 0
	}
	outcomes := e.exec.Run(actx, f.routine.Actions, f.routine.UserID, f.fire.Context)
	e.complete(actx, f, outcomes, delay, e.now().Sub(start), "")
}

func (e *Engine) evict(ctx context.Context, f *firing, reason string) {
	e.evicted.Add(1)
	e.log.Warn("firing.evicted", logx.String("routine", f.routine.ID), logx.String("run", f.run.ID), logx.String("reason", reason))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.FiringEvicted, Time: e.now(), Data: FiringEvent{
			RunID: f.run.ID, RoutineID: f.routine.ID, UserID: f.routine.UserID,
			Trigger: f.fire.Ref(), State: StateCompleted, FiredAt: f.fire.At, Reason: reason,
		}})
	}
	outcomes := automation.BackpressureOutcomes(f.routine.OrderedActions(), reason)
	e.complete(context.WithoutCancel(ctx), f, outcomes, 0, 0, reason)
}

func (e *Engine) complete(ctx context.Context, f *firing, outcomes []automation.Outcome, delay, dur time.Duration, reason string) {
	if err := e.ledger.Finish(ctx, f.run.ID, outcomes); err != nil {
		e.log.Error("run.finish_failed", logx.String("run", f.run.ID), logx.Err(err))
	}
	e.completed.Add(1)

	done := automation.Run{Outcomes: outcomes}
	ok, failed := done.Counts()
	item := HistoryItem{
		RunID: f.run.ID, RoutineID: f.routine.ID, FiredAt: f.fire.At,
		QueueDelay: delay, Duration: dur, Succeeded: ok, Failed: failed, Reason: reason,
	}
	e.appendHistory(item)

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.RunCompleted, Time: e.now(), Data: FiringEvent{
			RunID: f.run.ID, RoutineID: f.routine.ID, UserID: f.routine.UserID, Trigger: f.fire.Ref(),
			State: StateCompleted, FiredAt: f.fire.At, QueueDelay: delay, Duration: dur,
			Succeeded: ok, Failed: failed, Reason: reason,
		}})
	}
	fields := []logx.Field{
		logx.String("routine", f.routine.ID),
		logx.String("run", f.run.ID),
		logx.Int("succeeded", ok),
		logx.Int("failed", failed),
		logx.Duration("queue_delay", delay),
		logx.Duration("dur", dur),
	}
	if failed > 0 {
		e.log.Warn("run.completed", fields...)
	} else {
		e.log.Info("run.completed", fields...)
	}
}

func (e *Engine) publish(typ string, f *firing, st State, outcomes []automation.Outcome) {
	if e.bus == nil {
		return
	}
	ev := FiringEvent{
		RunID: f.run.ID, RoutineID: f.routine.ID, UserID: f.routine.UserID,
		Trigger: f.fire.Ref(), State: st, FiredAt: f.fire.At,
	}
	ev.Succeeded, ev.Failed = automation.Run{Outcomes: outcomes}.Counts()
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: ev})
}

func (e *Engine) appendHistory(item HistoryItem) {
	size := e.Config().HistorySize
	e.hmu.Lock()
	e.history = append(e.history, item)
	if len(e.history) > size {
		e.history = e.history[len(e.history)-size:]
	}
	e.hmu.Unlock()
}

// recoverDangling completes runs a previous process left in status firing.
// Their actions are not re-executed: the trigger's last-fired time was written
// before execution started.
func (e *Engine) recoverDangling(ctx context.Context) (int, error) {
	runs, err := e.ledger.Dangling(ctx)
	if err != nil {
		return 0, err
	}
	for _, run := range runs {
		var actions []automation.Action
		if rec, err := e.store.GetRoutine(ctx, run.UserID, run.RoutineID); err == nil {
			if r, err := automation.DecodeRoutine(rec, e.decodeOptions()...); err == nil {
				actions = r.OrderedActions()
			}
		}
		if err := e.ledger.Finish(ctx, run.ID, automation.BackpressureOutcomes(actions, reasonInterrupted)); err != nil {
			return 0, err
		}
	}
	return len(runs), nil
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	cfg := e.cfg
	q := e.queue
	e.mu.Unlock()

	s := Snapshot{
		Running:       q != nil,
		Workers:       cfg.Workers,
		QueueCap:      cfg.QueueSize,
		Fired:         e.fired.Load(),
		Completed:     e.completed.Load(),
		Evicted:       e.evicted.Load(),
		EvalErrors:    e.evalErrors.Load(),
		ActionTimeout: cfg.ActionTimeout,
		Location:      cfg.Location.String(),
	}
	if q != nil {
		s.QueueLen, s.InFlight = q.stats()
	}
	e.hmu.Lock()
	s.History = append([]HistoryItem(nil), e.history...)
	e.hmu.Unlock()
	return s
}
