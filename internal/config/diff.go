package config

import (
	"reflect"
	"sort"
	"strings"

	logx "lifeauto/pkg/logx"
)

// hotSections are applied live; a change anywhere else needs a restart.
var hotSections = map[string]bool{
	"logging":  true,
	"notifier": true,
}

// SummarizeConfigChange returns the changed sections, safe attrs for logging
// (never secrets or tokens) and the changed sections that only take effect
// after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
			logx.String("engine.action_timeout", strings.TrimSpace(newCfg.Engine.ActionTimeout)),
		)
	}

	oSched, nSched := oldCfg.Scheduler, newCfg.Scheduler
	if strings.TrimSpace(oSched.Timezone) != strings.TrimSpace(nSched.Timezone) ||
		oSched.InternalTick != nSched.InternalTick ||
		oSched.Secret != nSched.Secret {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(nSched.Timezone)),
			logx.Bool("scheduler.internal_tick", nSched.InternalTick),
			logx.Bool("scheduler.secret_set", strings.TrimSpace(nSched.Secret) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	oS, nS := storageOrDefault(oldCfg.Storage), storageOrDefault(newCfg.Storage)
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	oN, nN := notifierOrDefault(oldCfg.Notifier), notifierOrDefault(newCfg.Notifier)
	if !reflect.DeepEqual(oN, nN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.Int("notifier.retry_max", nN.RetryMax),
			logx.Bool("notifier.persist_dedup", nN.PersistDedup),
		)
	}

	oT, nT := oldCfg.Telegram, newCfg.Telegram
	if oT.Token != nT.Token || oT.ThreadID != nT.ThreadID || !reflect.DeepEqual(oT.Chats, nT.Chats) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nT.Token) != ""),
			logx.Int("telegram.chats", len(nT.Chats)),
		)
	}

	sort.Strings(changed)
	var restart []string
	for _, s := range changed {
		if !hotSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}

func storageOrDefault(s *StorageConfig) StorageConfig {
	if s == nil {
		return DefaultStorage()
	}
	return *s
}

func notifierOrDefault(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return DefaultNotifier()
	}
	return *n
}
