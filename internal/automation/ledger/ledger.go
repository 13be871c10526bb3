// Package ledger records routine firings. Entries are append-only: a run is
// opened when a routine fires and completed once, with its final outcomes.
package ledger

import (
	"context"
	"fmt"
	"time"

	"lifeauto/internal/automation"
	"lifeauto/internal/automation/trigger"
	"lifeauto/internal/storage"
)

const DefaultHistory = 20

type Ledger struct {
	runs storage.RunStore
	now  func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func New(runs storage.RunStore, opts ...Option) *Ledger {
	l := &Ledger{runs: runs, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Open creates the run for a firing in status firing.
func (l *Ledger) Open(ctx context.Context, r automation.Routine, f trigger.Fire) (automation.Run, error) {
	run := automation.Run{
		ID:         automation.NewID(),
		RoutineID:  r.ID,
		UserID:     r.UserID,
		TriggerRef: f.Ref(),
		TriggerID:  f.TriggerID,
		FiredAt:    f.At,
		Status:     automation.RunFiring,
	}
	if err := l.runs.InsertRun(ctx, run); err != nil {
		return automation.Run{}, fmt.Errorf("open run for routine %s: %w", r.ID, err)
	}
	return run, nil
}

// Finish appends the final outcomes and marks the run completed.
func (l *Ledger) Finish(ctx context.Context, runID string, outcomes []automation.Outcome) error {
	if err := l.runs.CompleteRun(ctx, runID, outcomes, l.now().UTC()); err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// Record opens and completes a run in one step.
func (l *Ledger) Record(ctx context.Context, r automation.Routine, f trigger.Fire, outcomes []automation.Outcome) (string, error) {
	run, err := l.Open(ctx, r, f)
	if err != nil {
		return "", err
	}
	if err := l.Finish(ctx, run.ID, outcomes); err != nil {
		return run.ID, err
	}
	return run.ID, nil
}

// LastOutcomesFor returns the newest runs of a routine first.
func (l *Ledger) LastOutcomesFor(ctx context.Context, routineID string, limit int) ([]automation.Run, error) {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return l.runs.ListRuns(ctx, routineID, limit)
}

// Dangling returns runs left in status firing, e.g. by a crash mid-firing.
func (l *Ledger) Dangling(ctx context.Context) ([]automation.Run, error) {
	return l.runs.OpenRuns(ctx)
}
