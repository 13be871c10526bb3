package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"lifeauto/internal/automation"
)

type memRoutine struct {
	rec       automation.RoutineRecord
	deletedAt *time.Time
}

// memoryStore keeps everything in process memory. Used by tests and by the
// CLI when no database is configured.
type memoryStore struct {
	mu       sync.Mutex
	routines map[string]*memRoutine
	runs     map[string]automation.Run
	runOrder []string
	effects  []Effect
	effectBy map[string]struct{}
	events   []automation.Event
	dedup    map[string]time.Time
}

func NewMemory() Store {
	return &memoryStore{
		routines: map[string]*memRoutine{},
		runs:     map[string]automation.Run{},
		effectBy: map[string]struct{}{},
		dedup:    map[string]time.Time{},
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) PutRoutine(_ context.Context, rec automation.RoutineRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.routines[rec.ID]; ok && prev.deletedAt == nil && !prev.rec.CreatedAt.IsZero() {
		rec.CreatedAt = prev.rec.CreatedAt
	}
	s.routines[rec.ID] = &memRoutine{rec: cloneRecord(rec)}
	return nil
}

func (s *memoryStore) live(userID, id string) (*memRoutine, error) {
	r, ok := s.routines[id]
	if !ok || r.deletedAt != nil || (userID != "" && r.rec.UserID != userID) {
		return nil, automation.ErrNotFound
	}
	return r, nil
}

func (s *memoryStore) GetRoutine(_ context.Context, userID, id string) (automation.RoutineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.live(userID, id)
	if err != nil {
		return automation.RoutineRecord{}, err
	}
	return cloneRecord(r.rec), nil
}

func (s *memoryStore) ListRoutines(_ context.Context, userID string) ([]automation.RoutineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []automation.RoutineRecord
	for _, r := range s.routines {
		if r.deletedAt == nil && r.rec.UserID == userID {
			out = append(out, cloneRecord(r.rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memoryStore) DeleteRoutine(_ context.Context, userID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.live(userID, id)
	if err != nil {
		return err
	}
	r.deletedAt = &at
	return nil
}

func (s *memoryStore) SetRoutineEnabled(_ context.Context, userID, id string, enabled bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.live(userID, id)
	if err != nil {
		return err
	}
	r.rec.Enabled = &enabled
	r.rec.UpdatedAt = at
	return nil
}

func (s *memoryStore) EnabledRoutines(_ context.Context, userID string, kind automation.TriggerKind) ([]automation.RoutineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []automation.RoutineRecord
	for _, r := range s.routines {
		if r.deletedAt != nil || (r.rec.Enabled != nil && !*r.rec.Enabled) {
			continue
		}
		if userID != "" && r.rec.UserID != userID {
			continue
		}
		for _, t := range r.rec.Triggers {
			if automation.TriggerKind(t.Type) == kind {
				out = append(out, cloneRecord(r.rec))
				break
			}
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memoryStore) SetTriggerFired(_ context.Context, routineID, triggerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routines[routineID]
	if !ok {
		return automation.ErrNotFound
	}
	for i := range r.rec.Triggers {
		if r.rec.Triggers[i].ID == triggerID {
			fired := at
			r.rec.Triggers[i].LastFiredAt = &fired
			return nil
		}
	}
	return automation.ErrNotFound
}

func (s *memoryStore) InsertRun(_ context.Context, run automation.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		s.runOrder = append(s.runOrder, run.ID)
	}
	run.Outcomes = append([]automation.Outcome(nil), run.Outcomes...)
	s.runs[run.ID] = run
	return nil
}

func (s *memoryStore) CompleteRun(_ context.Context, runID string, outcomes []automation.Outcome, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || run.Status != automation.RunFiring {
		return ErrRunNotOpen
	}
	run.Status = automation.RunCompleted
	run.Outcomes = append(run.Outcomes, outcomes...)
	run.FinishedAt = &at
	s.runs[runID] = run
	return nil
}

func (s *memoryStore) ListRuns(_ context.Context, routineID string, limit int) ([]automation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit = clampLimit(limit)
	var out []automation.Run
	for i := len(s.runOrder) - 1; i >= 0 && len(out) < limit; i-- {
		run := s.runs[s.runOrder[i]]
		if run.RoutineID == routineID {
			run.Outcomes = append([]automation.Outcome(nil), run.Outcomes...)
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *memoryStore) OpenRuns(_ context.Context) ([]automation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []automation.Run
	for _, id := range s.runOrder {
		if run := s.runs[id]; run.Status == automation.RunFiring {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *memoryStore) PutEffect(_ context.Context, e Effect) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.DedupKey != "" {
		if _, dup := s.effectBy[e.DedupKey]; dup {
			return false, nil
		}
		s.effectBy[e.DedupKey] = struct{}{}
	}
	s.effects = append(s.effects, e)
	return true, nil
}

func (s *memoryStore) ListEffects(_ context.Context, userID string, limit int) ([]Effect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit = clampLimit(limit)
	var out []Effect
	for i := len(s.effects) - 1; i >= 0 && len(out) < limit; i-- {
		if s.effects[i].UserID == userID {
			out = append(out, s.effects[i])
		}
	}
	return out, nil
}

func (s *memoryStore) AppendEvent(_ context.Context, e automation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Payload = automation.Params(e.Payload).Clone()
	s.events = append(s.events, e)
	return nil
}

func (s *memoryStore) EventsSince(_ context.Context, userID string, typ automation.EventType, since time.Time) ([]automation.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []automation.Event
	for _, e := range s.events {
		if e.UserID == userID && e.Type == typ && !e.At.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memoryStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	s.dedup[key] = until
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.dedup[key]
	if ok && until.Before(time.Now()) {
		delete(s.dedup, key)
		return time.Time{}, false, nil
	}
	return until, ok, nil
}

func cloneRecord(rec automation.RoutineRecord) automation.RoutineRecord {
	out := rec
	if rec.Enabled != nil {
		v := *rec.Enabled
		out.Enabled = &v
	}
	out.Triggers = cloneComponents(rec.Triggers)
	out.Actions = cloneComponents(rec.Actions)
	return out
}

func cloneComponents(in []automation.ComponentRecord) []automation.ComponentRecord {
	if in == nil {
		return nil
	}
	out := make([]automation.ComponentRecord, len(in))
	for i, c := range in {
		c.Params = c.Params.Clone()
		if c.Order != nil {
			v := *c.Order
			c.Order = &v
		}
		if c.LastFiredAt != nil {
			v := *c.LastFiredAt
			c.LastFiredAt = &v
		}
		out[i] = c
	}
	return out
}

func sortRecords(recs []automation.RoutineRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
