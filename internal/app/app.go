// Package app wires the bot together: configuration, logging, the Telegram
// adapter and router, the login flow, the worker scheduler and housekeeping.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"groupbot/internal/accounts"
	"groupbot/internal/batch"
	"groupbot/internal/chat"
	"groupbot/internal/config"
	"groupbot/internal/eventbus"
	"groupbot/internal/login"
	"groupbot/internal/observability/diag"
	"groupbot/internal/remote"
	"groupbot/internal/remote/mtproto"
	"groupbot/internal/runtime/supervisor"
	"groupbot/internal/storage"
	"groupbot/internal/task/scheduler"
	kit "groupbot/internal/transport"
	telegram "groupbot/internal/transport/telegram/adapter"
	"groupbot/internal/transport/telegram/router"
	"groupbot/internal/vault"
	"groupbot/internal/worker"
	logx "groupbot/pkg/logx"
	"groupbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	replier chat.Replier
	factory remote.Factory
	vault   *vault.Vault

	workers  *worker.Scheduler
	login    *login.Manager
	accounts *accounts.Manager
	cmdm     *router.CommandManager
	sched    *scheduler.Service
	diag     *diag.Service
	diagCfg  diag.Config

	// Live-reloadable settings.
	settings  atomic.Pointer[batch.Settings]
	multi     atomic.Bool
	idle      atomic.Int64 // time.Duration
	retention time.Duration

	updates chan kit.Update
}

// New loads and validates the config at cfgPath and builds every component.
// Nothing talks to the network until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logs, log := logx.New(mapLogConfig(cfg), nil)

	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logs.SetSender(ad)

	factory, err := mtproto.NewFactory(mapRemoteConfig(cfg), log)
	if err != nil {
		return nil, err
	}

	a, err := assemble(cfg, log, ad, factory)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logs
	return a, nil
}

// assemble builds the components that do not depend on process-level
// services. Tests call it with fakes for the adapter and the factory.
func assemble(cfg *config.Config, log logx.Logger, ad kit.Adapter, factory remote.Factory) (*App, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	v, err := vault.New(cfg.Vault.Dir, cfg.Vault.Key, log)
	if err != nil {
		return nil, err
	}
	settings, err := mapBatchSettings(cfg)
	if err != nil {
		return nil, err
	}
	rcfg, err := mapRouterConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, retention, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		log:       log.With(logx.String("comp", "app")),
		bus:       eventbus.New(),
		adapter:   ad,
		replier:   replier{ad: ad},
		factory:   factory,
		vault:     v,
		retention: retention,
		updates:   make(chan kit.Update, 256),
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver), logx.Duration("retention", retention))
	}

	a.settings.Store(&settings)
	a.multi.Store(cfg.Accounts.Multi)
	idle, _ := loginTimings(cfg)
	a.idle.Store(int64(idle))

	a.workers = worker.New(context.Background(), cfg.Workers.MaxConcurrent, log)
	a.login = login.New(factory, v, a.replier, a.onLoginDone, log)
	a.login.SetMulti(cfg.Accounts.Multi)
	a.accounts = accounts.New(v, a.workers, log)
	a.sched = scheduler.New(scheduler.Config{}, log.With(logx.String("comp", "scheduler")), a.bus)
	a.cmdm = router.NewCommandManager(rcfg, log.With(logx.String("comp", "router")), ad)
	a.cmdm.SetErrorHook(a.onHandlerError)
	a.diag = diag.New(log, a.health)
	a.diag.SetRunner(a.sched.RunNow)
	a.diagCfg = mapDiagConfig(cfg)
	return a, nil
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cmdm.SetRegistry(a.registry())

	sweepEvery := time.Minute
	if a.cfgm != nil {
		_, sweepEvery = loginTimings(a.cfgm.Get())
	}
	if err := a.registerHousekeeping(sweepEvery); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())
	a.diag.Reconfigure(a.sup.Context(), a.diagCfg)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return config.Validate(cfg) })
		a.startConfigReload()
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog disabled", logx.Err(err))
		}
	})
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify READY sent")
	}

	a.log.Info("app started",
		logx.Int("max_workers", a.workers.Limit()),
		logx.Bool("multi_account", a.multi.Load()),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

// startConfigReload applies validated config changes. Logging, batch pacing,
// account mode and login timing apply live; other sections need a restart.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest config matters.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	if a.logs != nil {
		a.logs.Apply(mapLogConfig(next))
	}
	if s, err := mapBatchSettings(next); err != nil {
		a.log.Warn("invalid batch config; keeping previous", logx.Err(err))
	} else {
		a.settings.Store(&s)
	}
	a.diag.Reconfigure(a.sup.Context(), mapDiagConfig(next))
	a.multi.Store(next.Accounts.Multi)
	a.login.SetMulti(next.Accounts.Multi)

	idle, sweep := loginTimings(next)
	a.idle.Store(int64(idle))
	if _, oldSweep := loginTimings(prev); oldSweep != sweep {
		if err := a.scheduleSweep(sweep); err != nil {
			a.log.Warn("reschedule login sweep failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// health is the /healthz snapshot.
func (a *App) health() any {
	active := a.workers.Active()
	snap := a.sched.Snapshot()
	jobs := make(map[string]any, len(snap.Schedules))
	for _, sc := range snap.Schedules {
		jobs[sc.Name] = map[string]any{"spec": sc.Spec, "running": sc.Running, "next": sc.Next}
	}
	h := map[string]any{
		"status":          "ok",
		"batches_running": active,
		"batches_queued":  max(0, a.workers.Len()-active),
		"max_workers":     a.workers.Limit(),
		"logins":          a.login.Len(),
		"multi_account":   a.multi.Load(),
		"housekeeping":    jobs,
	}
	restarts := map[string]uint64{}
	for _, g := range a.sup.Snapshot() {
		if g.Restarts > 0 {
			restarts[g.Name] = g.Restarts
		}
	}
	h["goroutines"] = a.sup.Counters().Active
	if len(restarts) > 0 {
		h["restarts"] = restarts
	}
	if n := len(snap.History); n > 0 && snap.History[n-1].Err != "" {
		last := snap.History[n-1]
		h["housekeeping_error"] = last.Name + ": " + last.Err
	}
	return h
}

// Stop shuts down in order: intake, dispatch, housekeeping, logins, batches
// (their cleanup still reports to users), storage, then logging.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify STOPPING failed", logx.Err(err))
	}

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.sup.Cancel()
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("diag", 2*time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("logins", 5*time.Second, func(c context.Context) error { a.login.CloseAll(c); return nil })
	step("workers", 15*time.Second, func(c context.Context) error { return a.workers.Stop(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
