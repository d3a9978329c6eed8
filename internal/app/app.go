package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pewsched/internal/condition"
	"pewsched/internal/config"
	"pewsched/internal/eventbus"
	"pewsched/internal/observability/debughttp"
	rtsup "pewsched/internal/runtime/supervisor"
	"pewsched/internal/statefile"
	"pewsched/internal/storage"
	"pewsched/internal/task/scheduler"
	"pewsched/internal/transport/telegram"
	logx "pewsched/pkg/logx"
)

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopSignal StopReason = "signal"
	StopFatal  StopReason = "fatal"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	reg     taskRegistry
	state   *statefile.Poller
	sched   *scheduler.Service
	console *telegram.Console
	debug   *debughttp.Service
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Notify stays off until the console is attached as the notifier.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Notify.Enabled = false
	logSvc, root := logx.New(bootCfg)
	log := root.Component("app")

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New()}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			return nil, err
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.reg, err = openRegistry(ctx, cfg.Runner, root.Component("runner"))
	if err != nil {
		return nil, err
	}

	var poller condition.Poller
	if p := strings.TrimSpace(cfg.State.Path); p != "" {
		a.state = statefile.New(p, root)
		if err := a.state.Reload(); err != nil {
			log.Warn("state document unavailable", logx.Err(err))
		}
		poller = a.state
	}

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts := []scheduler.Option{scheduler.WithBus(a.bus)}
	if a.store != nil {
		opts = append(opts, scheduler.WithStore(a.store))
	}
	if r := schedulerRand(cfg); r != nil {
		opts = append(opts, scheduler.WithRand(r))
	}
	a.sched = scheduler.New(scfg, a.reg, poller, root, opts...)

	doc, source, err := loadInitialPlan(ctx, a.store, cfg.Plan.Path, log)
	if err != nil {
		return nil, err
	}
	if err := a.sched.Init(ctx, doc); err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	log.Info("plan loaded", logx.String("source", source), logx.Int("entries", len(doc.Entries)))

	tcfg, enabled, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		a.console, err = telegram.New(tcfg, a.sched, a.bus, root)
		if err != nil {
			return nil, err
		}
		logSvc.SetNotifier(a.console)
	}
	logSvc.Apply(logCfg)

	dcfg, enabled, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		a.debug = debughttp.New(dcfg, func() any { return a.sched.Snapshot() }, root)
	}

	ok = true
	return a, nil
}

// Scheduler exposes the scheduler service.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		var errs []error
		if _, err := mapSchedulerConfig(cfg); err != nil {
			errs = append(errs, err)
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			errs = append(errs, err)
		}
		if _, _, err := mapTelegramConfig(cfg); err != nil {
			errs = append(errs, err)
		}
		if _, _, err := mapDebugConfig(cfg); err != nil {
			errs = append(errs, err)
		}
		if _, err := mapProcessTasks(cfg.Runner); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	a.sup.Go("scheduler", a.sched.Run)

	if a.state != nil && a.cfgm.Get().State.Watch {
		a.sup.GoRestart("state.watch", a.state.Watch, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	}

	if a.console != nil {
		if err := a.console.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if a.debug != nil {
		if err := a.debug.Start(a.sup.Context()); err != nil {
			return err
		}
	}

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
				// Keep this debug-level; state changes fire on every transition.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			coalesce:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break coalesce
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sum := config.SummarizeConfigChange(oldCfg, newCfg)
	if sum.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", sum.Attrs...)
	if len(sum.Restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(sum.Restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if scfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		select {
		case err := <-a.sched.Apply(scfg):
			if err != nil {
				a.log.Warn("scheduler config not applied", logx.Err(err))
			}
		case <-ctx.Done():
			return
		}
	}

	if oldCfg.Runner.DriverName() == newCfg.Runner.DriverName() {
		if err := a.reg.Reconfigure(newCfg.Runner); err != nil {
			a.log.Warn("invalid runner config; keeping previous", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sum.Changed, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

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
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; log when it does not.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("telegram", 3*time.Second, func(c context.Context) error {
		if a.console == nil {
			return nil
		}
		return a.console.Stop(c)
	})
	step("debughttp", 2*time.Second, func(c context.Context) error {
		if a.debug == nil {
			return nil
		}
		return a.debug.Stop(c)
	})
	// the scheduler flushes the plan when its run context ends
	step("supervisor", 6*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("runner", 3*time.Second, func(context.Context) error { return a.reg.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// closeResources releases what New opened when the app never started.
func (a *App) closeResources() {
	if a.reg != nil {
		_ = a.reg.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
