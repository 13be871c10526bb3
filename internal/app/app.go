// Package app wires configuration, storage, the automation engine, the
// notifier and the HTTP API into one service.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lifeauto/internal/automation"
	"lifeauto/internal/automation/action"
	"lifeauto/internal/automation/engine"
	"lifeauto/internal/capability"
	"lifeauto/internal/config"
	"lifeauto/internal/eventbus"
	"lifeauto/internal/httpapi"
	"lifeauto/internal/notifier"
	"lifeauto/internal/routines"
	rtsup "lifeauto/internal/runtime/supervisor"
	"lifeauto/internal/storage"
	logx "lifeauto/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	notif  *notifier.Service
	engine *engine.Engine
	http   *httpapi.Server
}

// New loads the config file and builds every component without starting any.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	if store == nil {
		log.Warn("storage disabled; routines and runs are kept in memory")
		store = storage.NewMemory()
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	sinks := []notifier.Sink{notifier.NewLogSink(log)}
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		tg, err := notifier.NewTelegramSink(notifier.TelegramConfig{
			Token:    cfg.Telegram.Token,
			Chats:    cfg.Telegram.Chats,
			ThreadID: cfg.Telegram.ThreadID,
		})
		if err != nil {
			return fail(fmt.Errorf("telegram sink: %w", err))
		}
		sinks = append(sinks, tg)
	}
	notif := notifier.New(ncfg, sinks, log, bus, store)

	ecfg, err := mapEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	caps, err := capability.New(capability.Deps{
		Effects:  store,
		Events:   store,
		Notifier: notif,
		Log:      log,
		Location: ecfg.Location,
	})
	if err != nil {
		return fail(err)
	}
	reg := action.NewRegistry()
	if err := caps.Register(reg); err != nil {
		return fail(err)
	}
	eng, err := engine.New(ecfg, engine.Deps{Store: store, Registry: reg, Log: log, Bus: bus})
	if err != nil {
		return fail(err)
	}

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		notif:  notif,
		engine: eng,
	}
	if cfg.HTTP.Enabled {
		hcfg, err := mapHTTPConfig(cfg)
		if err != nil {
			return fail(err)
		}
		handler := httpapi.NewHandler(httpapi.Deps{
			Engine:     eng,
			Effects:    store,
			Log:        log,
			CronSecret: cfg.Scheduler.Secret,
			Pprof:      cfg.HTTP.Pprof,
		})
		a.http = httpapi.NewServer(hcfg, handler, log)
	}
	return a, nil
}

func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the long-lived service: notifier, engine, HTTP API and config
// hot reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	if a.notif.Enabled() {
		a.notif.Start(run)
	}
	if err := a.engine.Start(run); err != nil {
		return err
	}
	if a.http != nil {
		a.http.Start(run)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return c.Err()
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.cfgm.SetLogger(a.log)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return c.Err()
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, applied, next)
				applied = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app.started", logx.Bool("http", a.http != nil), logx.Bool("internal_tick", a.engine.Config().InternalTick))
	return nil
}

// applyConfig applies the hot-reloadable sections and flags the rest.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config.no_changes")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config.applied", fields...)
	if len(restart) > 0 {
		a.log.Warn("config.restart_required", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(next.Logging))

	ncfg, err := mapNotifierConfig(next)
	if err != nil {
		a.log.Warn("config.notifier_invalid", logx.Err(err))
		return
	}
	wasEnabled := a.notif.Enabled()
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
		a.log.Info("notifier.disabled")
	case !wasEnabled && ncfg.Enabled:
		a.notif.Start(ctx)
		a.log.Info("notifier.enabled")
	}
}

// Stop shuts components down in dependency order: no new requests, then
// no new firings, then delivery.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("app.stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		fn(stepCtx)
		if err := stepCtx.Err(); err != nil {
			a.log.Warn("stop.step_deadline", logx.String("step", name), logx.Duration("took", time.Since(start)))
		}
	}

	if a.http != nil {
		step("http", 2*time.Second, a.http.Stop)
	}
	step("engine", 5*time.Second, a.engine.Stop)
	step("notifier", 3*time.Second, a.notif.Stop)

	var errs []error
	if a.sup != nil {
		a.sup.Cancel()
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := a.sup.Wait(waitCtx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
		cancel()
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	a.log.Info("app.stopped")
	a.logs.Close()
	return errors.Join(errs...)
}

// Tick runs one scheduled pass without the long-lived service: it starts the
// engine and notifier, fires due routines, waits for their actions and
// delivery, and shuts down.
func (a *App) Tick(ctx context.Context, now time.Time) (engine.TickReport, error) {
	if a.notif.Enabled() {
		a.notif.Start(ctx)
	}
	if err := a.engine.Start(ctx); err != nil {
		return engine.TickReport{}, err
	}
	rep, err := a.engine.ProcessScheduled(ctx, now)
	if derr := a.engine.Drain(ctx); derr != nil {
		err = errors.Join(err, derr)
	}
	return rep, err
}

// SeedResult reports what Seed installed.
type SeedResult struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// Seed installs the default routines for userID. Routines whose name the
// user already has are skipped, so seeding twice is harmless.
func (a *App) Seed(ctx context.Context, userID string) (SeedResult, error) {
	recs, err := routines.Defaults(userID)
	if err != nil {
		return SeedResult{}, err
	}
	return a.Install(ctx, recs)
}

// Install saves each record unless its owner already has a routine with that name.
func (a *App) Install(ctx context.Context, recs []automation.RoutineRecord) (SeedResult, error) {
	var res SeedResult
	existing := map[string]map[string]bool{}
	for _, rec := range recs {
		names, ok := existing[rec.UserID]
		if !ok {
			have, err := a.engine.Routines(ctx, rec.UserID)
			if err != nil {
				return res, err
			}
			names = map[string]bool{}
			for _, r := range have {
				names[strings.ToLower(r.Name)] = true
			}
			existing[rec.UserID] = names
		}
		key := strings.ToLower(strings.TrimSpace(rec.Name))
		if names[key] {
			res.Skipped = append(res.Skipped, rec.Name)
			continue
		}
		if _, err := a.engine.SaveRoutine(ctx, rec); err != nil {
			return res, fmt.Errorf("save %q: %w", rec.Name, err)
		}
		names[key] = true
		res.Created = append(res.Created, rec.Name)
	}
	a.log.Info("routines.installed", logx.Int("created", len(res.Created)), logx.Int("skipped", len(res.Skipped)))
	return res, nil
}

// Close releases resources for short-lived commands that never called Start.
func (a *App) Close(ctx context.Context) error {
	return a.Stop(ctx, StopAppStop)
}
