package app

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"pewsched/internal/config"
	"pewsched/internal/observability/debughttp"
	"pewsched/internal/runner/process"
	"pewsched/internal/runner/systemd"
	"pewsched/internal/storage"
	"pewsched/internal/task/scheduler"
	"pewsched/internal/transport/telegram"
	logx "pewsched/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Notify: logx.NotifyConfig{
			Enabled:    lc.Notify.Enabled,
			MinLevel:   lc.Notify.MinLevel,
			RatePerSec: lc.Notify.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	out := scheduler.DefaultConfig()

	tick, err := config.ParseDurationAtLeast("scheduler.tick", sc.Tick, scheduler.DefaultTick, scheduler.MinTick)
	if err != nil {
		return scheduler.Config{}, err
	}
	out.Tick = tick

	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
		out.Location = loc
	}
	if sc.StopAckTicks > 0 {
		out.StopAckTicks = sc.StopAckTicks
	}
	if sc.StopRetryTicks > 0 {
		out.StopRetryTicks = sc.StopRetryTicks
	}
	out.RequireStopConfirmation = boolOr(sc.RequireStopConfirmation, true)
	out.Autosave = boolOr(sc.Autosave, true)
	out.RemoveCompletedOneTime = sc.RemoveCompletedOneTime
	return out, nil
}

// schedulerRand returns nil for a zero seed so the scheduler keeps its own
// time-seeded source.
func schedulerRand(cfg *config.Config) *rand.Rand {
	if cfg.Scheduler.Seed == 0 {
		return nil
	}
	return rand.New(rand.NewSource(cfg.Scheduler.Seed))
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tg := cfg.Telegram
	if tg == nil || !tg.Enabled {
		return telegram.Config{}, false, nil
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tg.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{
		Token:        strings.TrimSpace(tg.Token),
		OwnerUserIDs: append([]int64(nil), tg.OwnerUserIDs...),
		ChatID:       tg.ChatID,
		PollTimeout:  poll,
		RatePerSec:   tg.RatePerSec,
	}, true, nil
}

func mapDebugConfig(cfg *config.Config) (debughttp.Config, bool, error) {
	dc := cfg.Debug
	if dc == nil || !dc.Enabled {
		return debughttp.Config{}, false, nil
	}
	readTO, err := config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 5*time.Second)
	if err != nil {
		return debughttp.Config{}, false, err
	}
	// profile and trace stream for their whole duration, so no default write timeout
	writeTO, err := config.ParseDurationField("debug.write_timeout", dc.WriteTimeout)
	if err != nil {
		return debughttp.Config{}, false, err
	}
	idleTO, err := config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, time.Minute)
	if err != nil {
		return debughttp.Config{}, false, err
	}
	return debughttp.Config{
		Addr:          strings.TrimSpace(dc.Addr),
		Prefix:        strings.TrimSpace(dc.Prefix),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
		ReadTimeout:   readTO,
		WriteTimeout:  writeTO,
		IdleTimeout:   idleTO,
	}, true, nil
}

func mapProcessTasks(rc config.RunnerConfig) (map[string]process.Task, error) {
	out := make(map[string]process.Task, len(rc.Tasks))
	for name, tc := range rc.Tasks {
		grace, err := config.ParseDurationOrDefault("runner.tasks."+name+".stop_grace", tc.StopGrace, 0)
		if err != nil {
			return nil, err
		}
		out[name] = process.Task{
			Command:   tc.Command,
			Dir:       tc.Dir,
			Env:       tc.Env,
			StopGrace: grace,
		}
	}
	return out, nil
}

func mapSystemdUnits(rc config.RunnerConfig) map[string]string {
	out := make(map[string]string, len(rc.Tasks))
	for name, tc := range rc.Tasks {
		unit := strings.TrimSpace(tc.Unit)
		if unit == "" {
			unit = name
		}
		out[name] = unit
	}
	return out
}

// taskRegistry is a scheduler registry that can be reconfigured on reload and
// released on shutdown.
type taskRegistry interface {
	scheduler.TaskRegistry
	Reconfigure(rc config.RunnerConfig) error
	Close() error
}

type processRegistry struct{ *process.Registry }

func (r processRegistry) Reconfigure(rc config.RunnerConfig) error {
	tasks, err := mapProcessTasks(rc)
	if err != nil {
		return err
	}
	r.SetTasks(tasks)
	return nil
}

type systemdRegistry struct{ *systemd.Registry }

func (r systemdRegistry) Reconfigure(rc config.RunnerConfig) error {
	r.SetUnits(mapSystemdUnits(rc))
	return nil
}

func openRegistry(ctx context.Context, rc config.RunnerConfig, log logx.Logger) (taskRegistry, error) {
	switch driver := rc.DriverName(); driver {
	case "process":
		tasks, err := mapProcessTasks(rc)
		if err != nil {
			return nil, err
		}
		return processRegistry{process.New(tasks, log)}, nil
	case "systemd":
		reg, err := systemd.New(ctx, mapSystemdUnits(rc), log)
		if err != nil {
			return nil, err
		}
		return systemdRegistry{reg}, nil
	default:
		return nil, fmt.Errorf("unknown runner.driver: %s", driver)
	}
}
