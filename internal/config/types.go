package config

// Config is the lifeauto service configuration. Files are JSON or YAML and
// are decoded strictly: unknown keys are rejected.
//
// Durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Engine    EngineConfig    `json:"engine"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`

	// Storage defaults to the sqlite driver at ./lifeauto.db when omitted.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Notifier defaults to enabled when the section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Telegram TelegramConfig `json:"telegram"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// EngineConfig sizes the firing pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - action_timeout: "10s"
//   - history_size: 200
type EngineConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	ActionTimeout string `json:"action_timeout,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

// SchedulerConfig controls how SCHEDULED_TIME triggers are driven.
type SchedulerConfig struct {
	// Secret authorizes POST /api/cron/routines. When empty every cron request
	// is rejected.
	Secret string `json:"secret,omitempty"`

	// Timezone cron expressions are evaluated in (IANA name). Default UTC.
	Timezone string `json:"timezone,omitempty"`

	// InternalTick runs one scheduled pass per minute in-process. Leave it
	// off when an external cron calls the endpoint.
	InternalTick bool `json:"internal_tick,omitempty"`
}

// HTTPConfig controls the API server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080") behind a proxy.
//   - pprof is mounted under /debug/pprof/ only when enabled and is gated by
//     the scheduler secret.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	Pprof bool `json:"pprof,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// DefaultNotifier is what an omitted notifier section means.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
	}
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./lifeauto.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DefaultStorage is what an omitted storage section means.
func DefaultStorage() StorageConfig {
	return StorageConfig{Driver: "sqlite", Path: "./lifeauto.db"}
}

// TelegramConfig enables the telegram notification sink when Token is set.
type TelegramConfig struct {
	Token string `json:"token,omitempty"`

	// Chats maps a lifeauto user id to the telegram chat receiving its
	// notifications. Users without an entry are not routed.
	Chats map[string]int64 `json:"chats,omitempty"`

	ThreadID int `json:"thread_id,omitempty"`
}
