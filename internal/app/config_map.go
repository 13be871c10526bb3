package app

import (
	"fmt"
	"strings"
	"time"

	"lifeauto/internal/automation/engine"
	"lifeauto/internal/config"
	"lifeauto/internal/httpapi"
	"lifeauto/internal/notifier"
	"lifeauto/internal/storage"
	logx "lifeauto/pkg/logx"
)

func mapLoggingConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		JSON:    c.JSON,
		File: logx.FileConfig{
			Enabled:    c.File.Enabled,
			Path:       c.File.Path,
			MaxSizeMB:  c.File.MaxSizeMB,
			MaxBackups: c.File.MaxBackups,
			MaxAgeDays: c.File.MaxAgeDays,
			Compress:   c.File.Compress,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return engine.Config{}, err
	}
	timeout, err := config.ParseDurationField("engine.action_timeout", cfg.Engine.ActionTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	// Zero values are defaulted by the engine.
	return engine.Config{
		Workers:       cfg.Engine.Workers,
		QueueSize:     cfg.Engine.QueueSize,
		ActionTimeout: timeout,
		HistorySize:   cfg.Engine.HistorySize,
		Location:      loc,
		InternalTick:  cfg.Scheduler.InternalTick,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := config.DefaultStorage()
	if cfg.Storage != nil {
		sc = *cfg.Storage
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none", "memory", "mem":
		return storage.Config{Driver: driver}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := config.DefaultNotifier()
	if cfg.Notifier != nil {
		n = *cfg.Notifier
	}
	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationField("notifier.send_timeout", n.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	out := httpapi.Config{Addr: strings.TrimSpace(cfg.HTTP.Addr)}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	// The pprof profile endpoint streams for 30s by default.
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", cfg.HTTP.IdleTimeout, time.Minute); err != nil {
		return httpapi.Config{}, err
	}
	return out, nil
}
