package engine

import (
	"context"
	"errors"
	"strings"

	"lifeauto/internal/automation"
	logx "lifeauto/pkg/logx"
)

func (e *Engine) decodeOptions() []automation.DecodeOption {
	return []automation.DecodeOption{
		automation.WithLocation(e.Config().Location),
		automation.WithKnownActions(e.reg.Known),
		automation.WithClock(e.now),
	}
}

// Decode validates a record against the engine's zone and action registry.
func (e *Engine) Decode(rec automation.RoutineRecord) (automation.Routine, error) {
	r, err := automation.DecodeRoutine(rec, e.decodeOptions()...)
	if err != nil {
		return automation.Routine{}, err
	}
	if err := e.reg.ValidateRoutine(r); err != nil {
		return automation.Routine{}, err
	}
	return r, nil
}

// SaveRoutine creates or replaces a routine. Last-fired times of triggers that
// survive the update are kept so a schedule does not fire twice in a minute.
func (e *Engine) SaveRoutine(ctx context.Context, rec automation.RoutineRecord) (automation.Routine, error) {
	if rec.ID == "" {
		rec.ID = automation.NewID()
	}
	unlock := e.locks.lock(rec.ID)
	defer unlock()

	prev, err := e.store.GetRoutine(ctx, "", rec.ID)
	switch {
	case err == nil && prev.UserID != rec.UserID:
		return automation.Routine{}, automation.ErrNotFound
	case err == nil:
		rec.CreatedAt = prev.CreatedAt
		fired := map[string]*automation.ComponentRecord{}
		for i := range prev.Triggers {
			fired[prev.Triggers[i].ID] = &prev.Triggers[i]
		}
		for i := range rec.Triggers {
			if p, ok := fired[rec.Triggers[i].ID]; ok && rec.Triggers[i].ID != "" && strings.EqualFold(p.Type, rec.Triggers[i].Type) {
				rec.Triggers[i].LastFiredAt = p.LastFiredAt
			}
		}
	case errors.Is(err, automation.ErrNotFound):
		rec.CreatedAt = e.now().UTC()
	default:
		return automation.Routine{}, err
	}
	rec.UpdatedAt = e.now().UTC()

	r, err := e.Decode(rec)
	if err != nil {
		return automation.Routine{}, err
	}
	if err := e.store.PutRoutine(ctx, automation.EncodeRoutine(r)); err != nil {
		return automation.Routine{}, err
	}
	e.log.Info("routine.saved",
		logx.String("routine", r.ID),
		logx.String("user", r.UserID),
		logx.Int("triggers", len(r.Triggers)),
		logx.Int("actions", len(r.Actions)),
		logx.Bool("enabled", r.Enabled),
	)
	return r, nil
}

func (e *Engine) Routine(ctx context.Context, userID, id string) (automation.Routine, error) {
	rec, err := e.store.GetRoutine(ctx, userID, id)
	if err != nil {
		return automation.Routine{}, err
	}
	return automation.DecodeRoutine(rec, e.decodeOptions()...)
}

// Routines lists a user's routines. Records that no longer decode, for example
// because a custom action was unregistered, are skipped and logged.
func (e *Engine) Routines(ctx context.Context, userID string) ([]automation.Routine, error) {
	recs, err := e.store.ListRoutines(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]automation.Routine, 0, len(recs))
	for _, rec := range recs {
		r, err := automation.DecodeRoutine(rec, e.decodeOptions()...)
		if err != nil {
			e.log.Warn("engine.routine_invalid", logx.String("routine", rec.ID), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// DeleteRoutine is a soft delete: the routine stops firing but its runs stay.
func (e *Engine) DeleteRoutine(ctx context.Context, userID, id string) error {
	unlock := e.locks.lock(id)
	defer unlock()
	if err := e.store.DeleteRoutine(ctx, userID, id, e.now().UTC()); err != nil {
		return err
	}
	e.log.Info("routine.deleted", logx.String("routine", id), logx.String("user", userID))
	return nil
}

func (e *Engine) SetEnabled(ctx context.Context, userID, id string, enabled bool) error {
	unlock := e.locks.lock(id)
	defer unlock()
	if err := e.store.SetRoutineEnabled(ctx, userID, id, enabled, e.now().UTC()); err != nil {
		return err
	}
	e.log.Info("routine.toggled", logx.String("routine", id), logx.Bool("enabled", enabled))
	return nil
}

// Runs returns the newest runs of a routine owned by userID.
func (e *Engine) Runs(ctx context.Context, userID, routineID string, limit int) ([]automation.Run, error) {
	runs, err := e.ledger.LastOutcomesFor(ctx, routineID, limit)
	if err != nil {
		return nil, err
	}
	out := runs[:0]
	for _, r := range runs {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}
