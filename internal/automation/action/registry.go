// Package action runs a routine's actions through registered capabilities.
package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"lifeauto/internal/automation"
)

var ErrDuplicate = errors.New("action type already registered")

// Invocation is what a capability receives for one action of one firing.
// DedupKey is stable across re-deliveries of the same firing.
type Invocation struct {
	Action      automation.Action
	Params      automation.Params
	UserID      string
	RoutineID   string
	FireContext automation.Params
	DedupKey    string
}

// Handler performs one action's effect. A nil error is success.
type Handler func(ctx context.Context, inv Invocation) error

type entry struct {
	handler  Handler
	validate func(automation.Params) error
}

type RegisterOption func(*entry)

// WithValidator checks params of custom action types when a routine is saved.
func WithValidator(fn func(automation.Params) error) RegisterOption {
	return func(e *entry) { e.validate = fn }
}

// Registry maps action types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[automation.ActionKind]entry
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[automation.ActionKind]entry{}}
}

func (r *Registry) Register(kind automation.ActionKind, h Handler, opts ...RegisterOption) error {
	if kind == "" || h == nil {
		return fmt.Errorf("register %q: kind and handler are required", kind)
	}
	e := entry{handler: h}
	for _, o := range opts {
		o(&e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, kind)
	}
	r.handlers[kind] = e
	return nil
}

func (r *Registry) MustRegister(kind automation.ActionKind, h Handler, opts ...RegisterOption) {
	if err := r.Register(kind, h, opts...); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(kind automation.ActionKind) (Handler, bool) {
	r.mu.RLock()
	e, ok := r.handlers[kind]
	r.mu.RUnlock()
	return e.handler, ok
}

// Known reports whether kind has a handler. It is meant to be passed to
// automation.WithKnownActions.
func (r *Registry) Known(kind automation.ActionKind) bool {
	_, ok := r.Lookup(kind)
	return ok
}

func (r *Registry) Kinds() []automation.ActionKind {
	r.mu.RLock()
	out := make([]automation.ActionKind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateRoutine runs registered validators for r's actions.
func (r *Registry) ValidateRoutine(rt automation.Routine) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, a := range rt.Actions {
		e, ok := r.handlers[a.Kind()]
		if !ok || e.validate == nil {
			continue
		}
		if err := e.validate(a.Spec.Params()); err != nil {
			return &automation.ValidationError{Field: fmt.Sprintf("actions[%d].params", i), Msg: err.Error()}
		}
	}
	return nil
}
