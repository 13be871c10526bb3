package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled   = errors.New("storage disabled")
	ErrRunNotOpen = errors.New("run is not open")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps, nothing survives a restart
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Effect is a user-visible record created by a built-in capability (a prompt,
// a notification, an insight). DedupKey is unique across all effects.
type Effect struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	RoutineID string         `json:"routineId,omitempty"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	DedupKey  string         `json:"dedupKey"`
	CreatedAt time.Time      `json:"createdAt"`
}
