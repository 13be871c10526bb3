package engine

import (
	"errors"
	"time"

	"lifeauto/internal/automation/action"
)

var (
	ErrStopped  = errors.New("automation engine stopped")
	ErrStopping = errors.New("automation engine stopping")
)

const (
	reasonBackpressure = "backpressure"
	reasonShutdown     = "shutdown"
	reasonInterrupted  = "interrupted"
)

// Config controls the routine orchestrator and its firing pool.
type Config struct {
	Workers   int
	QueueSize int

	// ActionTimeout bounds each action invocation.
	ActionTimeout time.Duration

	// Location is the zone cron expressions are evaluated in. nil means UTC.
	Location *time.Location

	// InternalTick runs ProcessScheduled every minute from an in-process cron.
	// Leave it off when an external invoker calls the cron endpoint.
	InternalTick bool

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = action.DefaultTimeout
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// State is the lifecycle of one routine firing.
type State string

const (
	StateIdle       State = "idle"
	StateEvaluating State = "evaluating"
	StateFiring     State = "firing"
	StateCompleted  State = "completed"
)

// TickReport summarizes one ProcessScheduled pass.
type TickReport struct {
	RoutinesProcessed int `json:"processed"`
	Firings           int `json:"firings"`
}

// FiringEvent is published on the event bus as a firing changes state.
type FiringEvent struct {
	RunID      string        `json:"run_id"`
	RoutineID  string        `json:"routine_id"`
	UserID     string        `json:"user_id"`
	Trigger    string        `json:"trigger"`
	State      State         `json:"state"`
	FiredAt    time.Time     `json:"fired_at"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Succeeded  int           `json:"succeeded,omitempty"`
	Failed     int           `json:"failed,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

type HistoryItem struct {
	RunID      string        `json:"run_id"`
	RoutineID  string        `json:"routine_id"`
	FiredAt    time.Time     `json:"fired_at"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Reason     string        `json:"reason,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool `json:"running"`
	Workers  int  `json:"workers"`
	QueueLen int  `json:"queue_len"`
	QueueCap int  `json:"queue_cap"`
	InFlight int  `json:"in_flight"`

	Fired      uint64 `json:"fired"`
	Completed  uint64 `json:"completed"`
	Evicted    uint64 `json:"evicted"`
	EvalErrors uint64 `json:"eval_errors"`

	ActionTimeout time.Duration `json:"action_timeout"`
	Location      string        `json:"location"`

	History []HistoryItem `json:"history,omitempty"`
}
