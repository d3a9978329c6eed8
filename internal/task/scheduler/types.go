package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pewsched/internal/plan"
	"pewsched/internal/runner"
	"pewsched/internal/storage"
)

// State is the control loop state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateScheduling
	StateWaitingForStartCondition
	StateRunning
	StateWaitingForStopCondition
	StateStopping
	StateError
	StateShutdown
)

var stateNames = [...]string{
	StateUninitialized:            "UNINITIALIZED",
	StateInitializing:             "INITIALIZING",
	StateReady:                    "READY",
	StateScheduling:               "SCHEDULING",
	StateWaitingForStartCondition: "WAITING_FOR_START_CONDITION",
	StateRunning:                  "RUNNING",
	StateWaitingForStopCondition:  "WAITING_FOR_STOP_CONDITION",
	StateStopping:                 "STOPPING",
	StateError:                    "ERROR",
	StateShutdown:                 "SHUTDOWN",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Active reports whether an entry is current in this state.
func (s State) Active() bool {
	return s == StateRunning || s == StateWaitingForStopCondition || s == StateStopping
}

var (
	// ErrStructural marks a broken control loop invariant. The loop stays in
	// ERROR until Reset.
	ErrStructural = errors.New("structural error")
	// ErrUnknownTask wraps runner.ErrUnknownTask for plan changes naming a
	// task the registry does not offer.
	ErrUnknownTask = fmt.Errorf("scheduler: %w", runner.ErrUnknownTask)
	ErrNotFound    = errors.New("entry not found")
	ErrDuplicate   = errors.New("duplicate entry id")
	ErrBusy        = errors.New("an entry is running")
	ErrIdle        = errors.New("nothing is running")
	ErrInError     = errors.New("scheduler is in ERROR; reset first")
	ErrNotReady    = errors.New("scheduler not initialized")
	ErrShutdown    = errors.New("scheduler shut down")
	ErrQueueFull   = errors.New("command queue full")
)

// TaskRegistry starts and stops the opaque tasks entries refer to by name.
// Start and Stop must not wait for the task; the loop polls IsRunning.
type TaskRegistry interface {
	ListAvailableTasks(ctx context.Context) ([]string, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	IsRunning(ctx context.Context, name string) bool
}

// Store persists the plan and run history. storage.Store satisfies it.
type Store interface {
	SavePlan(ctx context.Context, doc *plan.Document) error
	AppendRun(ctx context.Context, r storage.RunRecord) error
}

const (
	DefaultTick           = time.Second
	MinTick               = 10 * time.Millisecond
	DefaultStopAckTicks   = 240
	DefaultStopRetryTicks = 30
	defaultQueueSize      = 64
)

// Config controls the loop.
type Config struct {
	Tick     time.Duration
	Location *time.Location

	// StopAckTicks bounds how long a stop may stay unacknowledged.
	StopAckTicks int
	// StopRetryTicks is the period at which an unacknowledged stop is re-issued.
	StopRetryTicks int

	RequireStopConfirmation bool
	Autosave                bool
	RemoveCompletedOneTime  bool

	QueueSize int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Tick:                    DefaultTick,
		Location:                time.Local,
		StopAckTicks:            DefaultStopAckTicks,
		StopRetryTicks:          DefaultStopRetryTicks,
		RequireStopConfirmation: true,
		Autosave:                true,
	}
}

func (c Config) normalized() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.StopAckTicks <= 0 {
		c.StopAckTicks = DefaultStopAckTicks
	}
	if c.StopRetryTicks <= 0 {
		c.StopRetryTicks = DefaultStopRetryTicks
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// GateView summarizes one condition manager for display.
type GateView struct {
	Satisfied   bool     `json:"satisfied"`
	Met         int      `json:"met"`
	Total       int      `json:"total"`
	Progress    float64  `json:"progress"`
	RequireAll  bool     `json:"require_all"`
	Description string   `json:"description"`
	Errors      []string `json:"errors,omitempty"`
}

// EntryView is the display form of one entry.
type EntryView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Default  bool   `json:"default,omitempty"`
	Priority int    `json:"priority"`

	Cadence      string `json:"cadence"`
	IntervalText string `json:"interval_text"`
	NextRunText  string `json:"next_run_text"`
	LastRunText  string `json:"last_run_text"`

	NextRunTime    *time.Time      `json:"next_run_time,omitempty"`
	RunCount       int             `json:"run_count"`
	MaxRuns        int             `json:"max_runs,omitempty"`
	Running        bool            `json:"running"`
	LastStopReason plan.StopReason `json:"last_stop_reason,omitempty"`

	Unsupervised bool `json:"unsupervised,omitempty"`
	Confirmed    bool `json:"confirmed,omitempty"`

	Start GateView `json:"start"`
	Stop  GateView `json:"stop"`
}

// View is the immutable read model published after every tick.
// Current, Next, Pending and AwaitingConfirmation hold entry IDs.
type View struct {
	State                State       `json:"state"`
	Current              string      `json:"current,omitempty"`
	Next                 string      `json:"next,omitempty"`
	Pending              string      `json:"pending,omitempty"`
	AwaitingConfirmation string      `json:"awaiting_confirmation,omitempty"`
	Paused               bool        `json:"paused"`
	LastError            string      `json:"last_error,omitempty"`
	Ticks                uint64      `json:"ticks"`
	UpdatedAt            time.Time   `json:"updated_at"`
	Entries              []EntryView `json:"entries"`
}

// Entry returns the view of id.
func (v View) Entry(id string) (EntryView, bool) {
	for _, e := range v.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return EntryView{}, false
}

// EntryEvent is the payload of entry lifecycle events.
type EntryEvent struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Reason   plan.StopReason `json:"reason,omitempty"`
	RunCount int             `json:"run_count"`
	Duration time.Duration   `json:"duration,omitempty"`
}

// StateEvent is the payload of TypeStateChanged.
type StateEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// ErrorEvent is the payload of TypeSchedulerError.
type ErrorEvent struct {
	Err string `json:"err"`
}
