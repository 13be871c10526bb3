package automation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRoutine = errors.New("invalid routine")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrNotFound       = errors.New("routine not found")
)

// ValidationError is a configuration error detected when a routine is saved.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRoutine }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
