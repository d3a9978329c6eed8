package config

// Config is the process configuration document.
//
// The file may be JSON, YAML or TOML (chosen by extension). All formats are
// decoded through the same strict JSON decoder, so unknown keys are rejected.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Plan      PlanConfig      `json:"plan"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Runner    RunnerConfig    `json:"runner"`
	State     StateConfig     `json:"state"`
	Telegram  *TelegramConfig `json:"telegram,omitempty"`
	Debug     *DebugConfig    `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Notify  LoggingNotify `json:"notify"`
}

// LoggingNotify mirrors log lines to the telegram console.
type LoggingNotify struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty" validate:"omitempty,oneof=debug info warn warning error"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// SchedulerConfig controls the control loop.
//
// Durations are Go duration strings (e.g. "500ms", "1s").
//
// Defaults (when fields are omitted/zero):
//   - tick: "1s"
//   - stop_ack_ticks: 240
//   - stop_retry_ticks: 30
//   - require_stop_confirmation: true
//   - autosave: true
type SchedulerConfig struct {
	Tick     string `json:"tick,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	StopAckTicks   int `json:"stop_ack_ticks,omitempty" validate:"gte=0"`
	StopRetryTicks int `json:"stop_retry_ticks,omitempty" validate:"gte=0"`

	// Pointers distinguish "omitted" from an explicit false.
	RequireStopConfirmation *bool `json:"require_stop_confirmation,omitempty"`
	Autosave                *bool `json:"autosave,omitempty"`

	RemoveCompletedOneTime bool `json:"remove_completed_one_time,omitempty"`

	// Seed fixes the random source used for jitter and weighted picks. 0 means time-based.
	Seed int64 `json:"seed,omitempty"`
}

type PlanConfig struct {
	// Path of a plan document imported at startup when storage holds no plan.
	Path string `json:"path,omitempty"`
}

// StorageConfig controls plan and run-history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pewsched.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RunnerConfig selects the task registry.
//
// The process driver runs each task as a child process. The systemd driver
// maps each task to a unit and starts/stops it over D-Bus.
type RunnerConfig struct {
	Driver string                `json:"driver" validate:"omitempty,oneof=process systemd"`
	Tasks  map[string]TaskConfig `json:"tasks" validate:"dive"`
}

type TaskConfig struct {
	// process driver
	Command []string          `json:"command,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// StopGrace is how long a child gets after SIGTERM before it is killed.
	StopGrace string `json:"stop_grace,omitempty"`

	// systemd driver
	Unit string `json:"unit,omitempty"`
}

// StateConfig points at the document the state poller reads skills and
// container contents from.
type StateConfig struct {
	Path  string `json:"path,omitempty"`
	Watch bool   `json:"watch,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids" validate:"required_if=Enabled true"`
	ChatID       int64   `json:"chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// DebugConfig controls the optional HTTP endpoint serving health, the
// scheduler view and pprof profiles.
//
// A non-loopback addr needs a token unless allow_insecure is set.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // pprof prefix, default "/debug/pprof/"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
