package config

import (
	"maps"
	"reflect"
	"slices"
	"strings"

	logx "pewsched/pkg/logx"
)

// ChangeSummary describes what a reload changed.
type ChangeSummary struct {
	// Changed lists the sections whose values differ.
	Changed []string
	// Restart lists changed sections that only take effect after a restart.
	Restart []string
	// Attrs are safe log fields for the new values. Secrets are never included.
	Attrs []logx.Field
}

func (s ChangeSummary) Empty() bool { return len(s.Changed) == 0 }

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) ChangeSummary {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var out ChangeSummary
	mark := func(section string, restart bool, attrs ...logx.Field) {
		out.Changed = append(out.Changed, section)
		if restart {
			out.Restart = append(out.Restart, section)
		}
		out.Attrs = append(out.Attrs, attrs...)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.notify_enabled", newCfg.Logging.Notify.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		// the seed is consumed when the random source is built
		restart := oldCfg.Scheduler.Seed != newCfg.Scheduler.Seed
		mark("scheduler", restart,
			logx.String("scheduler.tick", strings.TrimSpace(newCfg.Scheduler.Tick)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.stop_ack_ticks", newCfg.Scheduler.StopAckTicks),
			logx.Int("scheduler.stop_retry_ticks", newCfg.Scheduler.StopRetryTicks),
		)
	}

	if strings.TrimSpace(oldCfg.Plan.Path) != strings.TrimSpace(newCfg.Plan.Path) {
		mark("plan", true, logx.String("plan.path", strings.TrimSpace(newCfg.Plan.Path)))
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		mark("storage", true, logx.String("storage.driver", driver))
	}

	if !reflect.DeepEqual(oldCfg.Runner, newCfg.Runner) {
		restart := oldCfg.Runner.DriverName() != newCfg.Runner.DriverName()
		mark("runner", restart,
			logx.String("runner.driver", newCfg.Runner.DriverName()),
			logx.String("runner.tasks", strings.Join(slices.Sorted(maps.Keys(newCfg.Runner.Tasks)), ",")),
		)
	}

	if oldCfg.State != newCfg.State {
		mark("state", true, logx.String("state.path", newCfg.State.Path), logx.Bool("state.watch", newCfg.State.Watch))
	}

	if telegramChanged(oldCfg.Telegram, newCfg.Telegram) {
		tg := newCfg.Telegram
		if tg == nil {
			tg = &TelegramConfig{}
		}
		mark("telegram", true,
			logx.Bool("telegram.enabled", tg.Enabled),
			logx.Int("telegram.owner_count", len(tg.OwnerUserIDs)),
			logx.Bool("telegram.token_set", strings.TrimSpace(tg.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		dc := newCfg.Debug
		if dc == nil {
			dc = &DebugConfig{}
		}
		mark("debug", true,
			logx.Bool("debug.enabled", dc.Enabled),
			logx.String("debug.addr", dc.Addr),
			logx.Bool("debug.token_set", strings.TrimSpace(dc.Token) != ""),
		)
	}

	if len(out.Changed) > 0 {
		out.Attrs = append([]logx.Field{logx.String("changed", strings.Join(out.Changed, ","))}, out.Attrs...)
	}
	return out
}

// telegramChanged treats a missing section like a zero one.
func telegramChanged(a, b *TelegramConfig) bool {
	if a == nil {
		a = &TelegramConfig{}
	}
	if b == nil {
		b = &TelegramConfig{}
	}
	return !reflect.DeepEqual(*a, *b)
}
