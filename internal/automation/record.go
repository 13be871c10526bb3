package automation

import (
	"fmt"
	"strings"
	"time"
)

// ComponentRecord is the persisted {type, params} shape of a trigger or action.
type ComponentRecord struct {
	ID          string     `json:"id,omitempty" yaml:"id,omitempty"`
	Type        string     `json:"type" yaml:"type"`
	Params      Params     `json:"params,omitempty" yaml:"params,omitempty"`
	Order       *int       `json:"order,omitempty" yaml:"order,omitempty"`
	LastFiredAt *time.Time `json:"lastFiredAt,omitempty" yaml:"lastFiredAt,omitempty"`
}

// RoutineRecord is the contract produced by the API and by seeding tools.
type RoutineRecord struct {
	ID          string            `json:"id,omitempty" yaml:"id,omitempty"`
	UserID      string            `json:"userId,omitempty" yaml:"userId,omitempty"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Triggers    []ComponentRecord `json:"triggers" yaml:"triggers"`
	Actions     []ComponentRecord `json:"actions" yaml:"actions"`
	CreatedAt   time.Time         `json:"createdAt,omitzero" yaml:"createdAt,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt,omitzero" yaml:"updatedAt,omitempty"`
}

type decodeConfig struct {
	loc   *time.Location
	known func(ActionKind) bool
	now   func() time.Time
}

type DecodeOption func(*decodeConfig)

// WithLocation sets the zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) DecodeOption {
	return func(c *decodeConfig) { c.loc = loc }
}

// WithKnownActions accepts action types outside the built-in set when known
// reports true for them.
func WithKnownActions(known func(ActionKind) bool) DecodeOption {
	return func(c *decodeConfig) { c.known = known }
}

func WithClock(now func() time.Time) DecodeOption {
	return func(c *decodeConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// DecodeRoutine turns a record into a validated routine. Every configuration
// error is reported here; nothing is left for fire time.
func DecodeRoutine(rec RoutineRecord, opts ...DecodeOption) (Routine, error) {
	cfg := decodeConfig{loc: time.UTC, now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}

	r := Routine{
		ID:          strings.TrimSpace(rec.ID),
		UserID:      strings.TrimSpace(rec.UserID),
		Name:        strings.TrimSpace(rec.Name),
		Description: strings.TrimSpace(rec.Description),
		Enabled:     rec.Enabled == nil || *rec.Enabled,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	for i, tr := range rec.Triggers {
		spec, err := NewTriggerSpec(TriggerKind(tr.Type), tr.Params, cfg.loc)
		if err != nil {
			return Routine{}, prefix(fmt.Sprintf("triggers[%d]", i), err)
		}
		t := Trigger{ID: strings.TrimSpace(tr.ID), Spec: spec}
		if tr.LastFiredAt != nil {
			at := tr.LastFiredAt.UTC()
			t.LastFiredAt = &at
		}
		r.Triggers = append(r.Triggers, t)
	}
	for i, ar := range rec.Actions {
		spec, err := NewActionSpec(ActionKind(ar.Type), ar.Params, cfg.known)
		if err != nil {
			return Routine{}, prefix(fmt.Sprintf("actions[%d]", i), err)
		}
		a := Action{ID: strings.TrimSpace(ar.ID), Order: -1, Spec: spec}
		if ar.Order != nil {
			if *ar.Order < 0 {
				return Routine{}, invalid(fmt.Sprintf("actions[%d].order", i), "must be >= 0")
			}
			a.Order = *ar.Order
		}
		r.Actions = append(r.Actions, a)
	}

	r.Normalize()
	if err := r.Validate(); err != nil {
		return Routine{}, err
	}
	now := cfg.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	return r, nil
}

func prefix(field string, err error) error {
	if ve, ok := err.(*ValidationError); ok {
		f := field
		if ve.Field != "" {
			f += "." + ve.Field
		}
		return &ValidationError{Field: f, Msg: ve.Msg}
	}
	return &ValidationError{Field: field, Msg: err.Error()}
}

// EncodeRoutine is the inverse of DecodeRoutine.
func EncodeRoutine(r Routine) RoutineRecord {
	enabled := r.Enabled
	rec := RoutineRecord{
		ID:          r.ID,
		UserID:      r.UserID,
		Name:        r.Name,
		Description: r.Description,
		Enabled:     &enabled,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	for _, t := range r.Triggers {
		rec.Triggers = append(rec.Triggers, EncodeTrigger(t))
	}
	for _, a := range r.Actions {
		rec.Actions = append(rec.Actions, EncodeAction(a))
	}
	return rec
}

func EncodeTrigger(t Trigger) ComponentRecord {
	cr := ComponentRecord{ID: t.ID, Type: string(t.Kind())}
	if t.Spec != nil {
		cr.Params = t.Spec.Params()
	}
	if t.LastFiredAt != nil {
		at := *t.LastFiredAt
		cr.LastFiredAt = &at
	}
	return cr
}

func EncodeAction(a Action) ComponentRecord {
	order := a.Order
	cr := ComponentRecord{ID: a.ID, Type: string(a.Kind()), Order: &order}
	if a.Spec != nil {
		cr.Params = a.Spec.Params()
	}
	return cr
}
