package action

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"lifeauto/internal/automation"
	logx "lifeauto/pkg/logx"
)

const DefaultTimeout = 10 * time.Second

const reasonUnknown = "unknown action type"

// Executor invokes one action at a time. It never persists anything itself.
type Executor struct {
	reg     *Registry
	timeout time.Duration
	log     logx.Logger
}

type ExecutorOption func(*Executor)

func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLogger(l logx.Logger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

func NewExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{reg: reg, timeout: DefaultTimeout, log: logx.Nop()}
	for _, o := range opts {
		o(e)
	}
	if e.reg == nil {
		e.reg = NewRegistry()
	}
	e.log = e.log.With(logx.String("comp", "action"))
	return e
}

func (e *Executor) Timeout() time.Duration { return e.timeout }

// DedupKey identifies one action of one firing.
func DedupKey(routineID, actionID string, firedAt time.Time) string {
	return fmt.Sprintf("%s:%s:%d", routineID, actionID, firedAt.UTC().UnixNano())
}

// MergeParams lays the action's own params over the fire context.
func MergeParams(fireCtx, own automation.Params) automation.Params {
	out := make(automation.Params, len(fireCtx)+len(own))
	for k, v := range fireCtx {
		out[k] = v
	}
	for k, v := range own {
		out[k] = v
	}
	return out
}

// Execute runs a single action and reports its outcome. Handler errors,
// panics and timeouts all become outcomes; Execute itself never fails.
func (e *Executor) Execute(ctx context.Context, a automation.Action, userID string, fireCtx automation.Params) automation.Outcome {
	out := automation.Outcome{ActionID: a.ID, ActionType: a.Kind(), Order: a.Order}

	h, ok := e.reg.Lookup(a.Kind())
	if !ok {
		out.Status = automation.OutcomeFailed
		out.Reason = reasonUnknown
		e.log.Warn("action.unknown", logx.String("type", string(a.Kind())), logx.String("action", a.ID))
		return out
	}

	var own automation.Params
	if a.Spec != nil {
		own = a.Spec.Params()
	}
	routineID, _, _ := fireCtx.String("routineId")
	inv := Invocation{
		Action:      a,
		Params:      MergeParams(fireCtx, own),
		UserID:      userID,
		RoutineID:   routineID,
		FireContext: fireCtx,
		DedupKey:    DedupKey(routineID, a.ID, firedAt(fireCtx)),
	}

	start := time.Now()
	err := e.invoke(ctx, h, inv)
	out.Duration = time.Since(start)

	switch {
	case err == nil:
		out.Status = automation.OutcomeSucceeded
	case err == errTimeout:
		out.Status = automation.OutcomeTimeout
		out.Reason = "timeout"
	default:
		out.Status = automation.OutcomeFailed
		out.Reason = err.Error()
	}
	if err != nil {
		e.log.Warn("action.failed",
			logx.String("type", string(a.Kind())),
			logx.String("action", a.ID),
			logx.String("routine", routineID),
			logx.String("status", string(out.Status)),
			logx.Err(err),
			logx.Duration("dur", out.Duration),
		)
	} else {
		e.log.Debug("action.succeeded", logx.String("type", string(a.Kind())), logx.String("action", a.ID), logx.Duration("dur", out.Duration))
	}
	return out
}

// Run executes actions in ascending order, one outcome per action. A failed
// action never stops the ones after it.
func (e *Executor) Run(ctx context.Context, actions []automation.Action, userID string, fireCtx automation.Params) []automation.Outcome {
	r := automation.Routine{Actions: actions}
	ordered := r.OrderedActions()
	outcomes := make([]automation.Outcome, 0, len(ordered))
	for _, a := range ordered {
		outcomes = append(outcomes, e.Execute(ctx, a, userID, fireCtx))
	}
	return outcomes
}

type timeoutError struct{}

func (timeoutError) Error() string { return "timeout" }

var errTimeout error = timeoutError{}

// invoke bounds the handler by the executor timeout even when the handler
// ignores its context.
func (e *Executor) invoke(parent context.Context, h Handler, inv Invocation) error {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("action.panic", logx.String("type", string(inv.Action.Kind())), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- h(ctx, inv)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == context.DeadlineExceeded && parent.Err() == nil {
			return errTimeout
		}
		return err
	case <-ctx.Done():
		if parent.Err() != nil {
			return parent.Err()
		}
		return errTimeout
	}
}

func firedAt(fireCtx automation.Params) time.Time {
	// Scheduled firings key on the due minute so a re-fire in that minute
	// maps to the same effects.
	if raw, ok, _ := fireCtx.String("dueAt"); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	if raw, ok, _ := fireCtx.String("firedAt"); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
