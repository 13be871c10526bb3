package automation

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Routine is a user-owned automation unit. Any one trigger firing runs every
// action, in ascending Order.
type Routine struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Enabled     bool
	Triggers    []Trigger
	Actions     []Action
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewID() string { return uuid.NewString() }

// Normalize fills missing ids. Actions without an explicit order (Order < 0)
// are numbered after the highest explicit order, in declaration order.
func (r *Routine) Normalize() {
	if r.ID == "" {
		r.ID = NewID()
	}
	for i := range r.Triggers {
		if r.Triggers[i].ID == "" {
			r.Triggers[i].ID = NewID()
		}
	}
	next := 0
	for _, a := range r.Actions {
		if a.Order >= next {
			next = a.Order + 1
		}
	}
	for i := range r.Actions {
		if r.Actions[i].ID == "" {
			r.Actions[i].ID = NewID()
		}
		if r.Actions[i].Order < 0 {
			r.Actions[i].Order = next
			next++
		}
	}
}

func (r Routine) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return invalid("userId", "required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return invalid("name", "required")
	}
	if len(r.Triggers) == 0 {
		return invalid("triggers", "at least one trigger is required")
	}
	if len(r.Actions) == 0 {
		return invalid("actions", "at least one action is required")
	}
	ids := map[string]struct{}{}
	for i, t := range r.Triggers {
		if t.Spec == nil {
			return invalid("triggers", "trigger %d has no type", i)
		}
		if t.ID != "" {
			if _, dup := ids[t.ID]; dup {
				return invalid("triggers", "duplicate id %q", t.ID)
			}
			ids[t.ID] = struct{}{}
		}
	}
	orders := map[int]struct{}{}
	for i, a := range r.Actions {
		if a.Spec == nil {
			return invalid("actions", "action %d has no type", i)
		}
		if a.ID != "" {
			if _, dup := ids[a.ID]; dup {
				return invalid("actions", "duplicate id %q", a.ID)
			}
			ids[a.ID] = struct{}{}
		}
		if _, dup := orders[a.Order]; dup {
			return invalid("actions", "duplicate order %d", a.Order)
		}
		orders[a.Order] = struct{}{}
	}
	return nil
}

// OrderedActions returns a copy of the actions sorted by Order. Equal orders
// keep declaration order.
func (r Routine) OrderedActions() []Action {
	out := append([]Action(nil), r.Actions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// HasTrigger reports whether the routine has at least one trigger of kind.
func (r Routine) HasTrigger(kind TriggerKind) bool {
	for _, t := range r.Triggers {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

func (r Routine) Trigger(id string) (Trigger, bool) {
	for _, t := range r.Triggers {
		if t.ID == id {
			return t, true
		}
	}
	return Trigger{}, false
}

// Clone returns a deep-enough copy: slices and LastFiredAt pointers are not shared.
func (r Routine) Clone() Routine {
	out := r
	out.Triggers = make([]Trigger, len(r.Triggers))
	for i, t := range r.Triggers {
		if t.LastFiredAt != nil {
			at := *t.LastFiredAt
			t.LastFiredAt = &at
		}
		out.Triggers[i] = t
	}
	out.Actions = append([]Action(nil), r.Actions...)
	return out
}
