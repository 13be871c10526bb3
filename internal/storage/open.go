package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"lifeauto/internal/automation"
	logx "lifeauto/pkg/logx"
)

// RoutineStore persists routines in their {type, params} record form.
// Deleted routines are soft-deleted: they disappear from every routine query
// but their runs stay listable.
type RoutineStore interface {
	PutRoutine(ctx context.Context, rec automation.RoutineRecord) error
	// GetRoutine with an empty userID matches any owner.
	GetRoutine(ctx context.Context, userID, id string) (automation.RoutineRecord, error)
	ListRoutines(ctx context.Context, userID string) ([]automation.RoutineRecord, error)
	DeleteRoutine(ctx context.Context, userID, id string, at time.Time) error
	SetRoutineEnabled(ctx context.Context, userID, id string, enabled bool, at time.Time) error

	// EnabledRoutines returns enabled routines having a trigger of kind.
	// An empty userID means every user.
	EnabledRoutines(ctx context.Context, userID string, kind automation.TriggerKind) ([]automation.RoutineRecord, error)
	SetTriggerFired(ctx context.Context, routineID, triggerID string, at time.Time) error
}

type RunStore interface {
	InsertRun(ctx context.Context, run automation.Run) error
	// CompleteRun appends final outcomes to a firing run. It fails with
	// ErrRunNotOpen if the run is unknown or already completed.
	CompleteRun(ctx context.Context, runID string, outcomes []automation.Outcome, at time.Time) error
	// ListRuns returns the newest runs of a routine first.
	ListRuns(ctx context.Context, routineID string, limit int) ([]automation.Run, error)
	OpenRuns(ctx context.Context) ([]automation.Run, error)
}

type EffectStore interface {
	// PutEffect reports false when an effect with the same DedupKey exists.
	PutEffect(ctx context.Context, e Effect) (bool, error)
	ListEffects(ctx context.Context, userID string, limit int) ([]Effect, error)
}

// EventJournal keeps ingested domain events for capabilities that look back
// over a user's history.
type EventJournal interface {
	AppendEvent(ctx context.Context, e automation.Event) error
	EventsSince(ctx context.Context, userID string, typ automation.EventType, since time.Time) ([]automation.Event, error)
}

type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// Store is the persistence API used by the engine and its capabilities.
type Store interface {
	RoutineStore
	RunStore
	EffectStore
	EventJournal
	DedupStore
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "memory", "mem":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
