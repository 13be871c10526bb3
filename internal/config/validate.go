package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "lifeauto/pkg/logx"
)

// Validate reports every static problem in cfg at once. It is installed as
// the reload validator so a broken edit never replaces a working config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	duration := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.MaxSizeMB < 0 || cfg.Logging.File.MaxBackups < 0 || cfg.Logging.File.MaxAgeDays < 0 {
		add(errors.New("logging.file: rotation limits must be >= 0"))
	}

	if cfg.Engine.Workers < 0 {
		add(errors.New("engine.workers: must be >= 0"))
	}
	if cfg.Engine.QueueSize < 0 {
		add(errors.New("engine.queue_size: must be >= 0"))
	}
	if cfg.Engine.HistorySize < 0 {
		add(errors.New("engine.history_size: must be >= 0"))
	}
	duration("engine.action_timeout", cfg.Engine.ActionTimeout)

	_, err := cfg.Scheduler.Location()
	add(err)

	duration("http.read_timeout", cfg.HTTP.ReadTimeout)
	duration("http.write_timeout", cfg.HTTP.WriteTimeout)
	duration("http.idle_timeout", cfg.HTTP.IdleTimeout)

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "memory", "mem":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(errors.New("storage.path: required for sqlite"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		duration("storage.busy_timeout", s.BusyTimeout)
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			add(errors.New("notifier: counts must be >= 0"))
		}
		duration("notifier.retry_base", n.RetryBase)
		duration("notifier.retry_max_delay", n.RetryMaxDelay)
		duration("notifier.send_timeout", n.SendTimeout)
		duration("notifier.dedup_window", n.DedupWindow)
	}

	for user, chat := range cfg.Telegram.Chats {
		if strings.TrimSpace(user) == "" || chat == 0 {
			add(fmt.Errorf("telegram.chats: invalid entry %q -> %d", user, chat))
		}
	}
	if len(cfg.Telegram.Chats) > 0 && strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token: required when chats are configured"))
	}

	return errors.Join(errs...)
}

// Location resolves the scheduler timezone. Empty means UTC.
func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}
