package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags first, then the cross-field rules tags cannot
// express (duration syntax, timezone names, per-driver task settings).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	var errs []error
	if _, err := ParseDurationField("scheduler.tick", cfg.Scheduler.Tick); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if sc := cfg.Storage; sc != nil {
		if strings.EqualFold(strings.TrimSpace(sc.Driver), "sqlite") && strings.TrimSpace(sc.Path) == "" {
			errs = append(errs, errors.New("storage.path is required when storage.driver=sqlite"))
		}
		if _, err := ParseDurationField("storage.busy_timeout", sc.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	driver := cfg.Runner.DriverName()
	for name, tc := range cfg.Runner.Tasks {
		path := "runner.tasks." + name
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("runner.tasks: empty task name"))
			continue
		}
		switch driver {
		case "process":
			if len(tc.Command) == 0 || strings.TrimSpace(tc.Command[0]) == "" {
				errs = append(errs, fmt.Errorf("%s.command is required for the process driver", path))
			}
			if _, err := ParseDurationField(path+".stop_grace", tc.StopGrace); err != nil {
				errs = append(errs, err)
			}
		case "systemd":
			if strings.TrimSpace(tc.Unit) == "" {
				errs = append(errs, fmt.Errorf("%s.unit is required for the systemd driver", path))
			}
		}
	}

	if tg := cfg.Telegram; tg != nil && tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			errs = append(errs, fmt.Errorf("telegram.token is required when telegram.enabled (or set %s)", EnvTelegramToken))
		}
		if _, err := ParseDurationField("telegram.poll_timeout", tg.PollTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if dc := cfg.Debug; dc != nil && dc.Enabled {
		for _, f := range [...]struct{ key, raw string }{
			{"debug.read_timeout", dc.ReadTimeout},
			{"debug.write_timeout", dc.WriteTimeout},
			{"debug.idle_timeout", dc.IdleTimeout},
		} {
			if _, err := ParseDurationField(f.key, f.raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// formatValidationError converts validator errors into readable messages.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	messages := make([]string, 0, len(verrs))
	for _, e := range verrs {
		messages = append(messages, fmt.Sprintf(
			"field '%s' failed validation: %s (value: '%v')",
			e.Namespace(),
			e.Tag(),
			e.Value(),
		))
	}
	return fmt.Errorf("validation failed:\n  %s", strings.Join(messages, "\n  "))
}

// DriverName returns the effective runner driver.
func (r RunnerConfig) DriverName() string {
	d := strings.ToLower(strings.TrimSpace(r.Driver))
	if d == "" {
		return "process"
	}
	return d
}
