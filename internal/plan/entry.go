package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"pewsched/internal/condition"
)

// StopReason records why the last run of an entry ended.
type StopReason string

const (
	StopNone          StopReason = "none"
	StopConditionsMet StopReason = "conditions_met"
	StopManual        StopReason = "manual_stop"
	StopTaskFinished  StopReason = "task_finished"
	StopError         StopReason = "error"
	// StopScheduled covers window exit, max run duration and disabling the entry.
	StopScheduled StopReason = "scheduled_stop"
	StopTimeout   StopReason = "stop_timeout"
)

// maxJitter caps the random delay added to interval cadences.
const maxJitter = 5 * time.Minute

// Entry is one schedulable unit: a task plus the rules deciding when it runs.
type Entry struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Cadence               Cadence  `json:"cadence"`
	Window                *Window  `json:"window,omitempty"`
	MaxRunDuration        Duration `json:"max_run_duration,omitempty"`
	AllowRandomScheduling bool     `json:"allow_random_scheduling"`
	Enabled               bool     `json:"enabled"`
	Priority              int      `json:"priority"`
	// Default entries run only when no other entry is eligible.
	Default bool `json:"default,omitempty"`
	// MaxRuns caps RunCount. 0 means unlimited.
	MaxRuns int `json:"max_runs,omitempty"`
	// UnsupervisedConfirmed records that the operator accepted running without
	// any stop rule.
	UnsupervisedConfirmed bool `json:"unsupervised_confirmed,omitempty"`

	NextRunTime     *time.Time `json:"next_run_time,omitempty"`
	LastRunTime     time.Time  `json:"last_run_time,omitzero"`
	LastRunStart    time.Time  `json:"last_run_start,omitzero"`
	LastRunEnd      time.Time  `json:"last_run_end,omitzero"`
	LastRunDuration Duration   `json:"last_run_duration,omitempty"`
	RunCount        int        `json:"run_count"`
	Running         bool       `json:"running,omitempty"`
	LastStopReason  StopReason `json:"last_stop_reason,omitempty"`

	Start *condition.Manager `json:"start"`
	Stop  *condition.Manager `json:"stop"`
}

// NewEntry returns an enabled entry with a fresh ID and empty managers.
func NewEntry(name string, cadence Cadence) *Entry {
	e := &Entry{
		ID:                    uuid.NewString(),
		Name:                  strings.TrimSpace(name),
		Enabled:               true,
		AllowRandomScheduling: true,
		Start:                 condition.NewStartManager(),
		Stop:                  condition.NewStopManager(),
	}
	e.SetCadence(cadence)
	return e
}

// SetCadence updates the cadence and keeps the start latch in step with it.
func (e *Entry) SetCadence(c Cadence) {
	e.Cadence = c
	if e.Start != nil {
		e.Start.SetOneTime(c.Kind == CadenceOnce)
	}
}

func (e *Entry) OneTime() bool { return e.Cadence.Kind == CadenceOnce }

// normalize fills defaults a hand-written document may omit.
func (e *Entry) normalize() {
	if strings.TrimSpace(e.ID) == "" {
		e.ID = uuid.NewString()
	}
	e.Name = strings.TrimSpace(e.Name)
	if e.Start == nil {
		e.Start = condition.NewStartManager()
	}
	if e.Stop == nil {
		e.Stop = condition.NewStopManager()
	}
	e.Start.SetOneTime(e.OneTime())
}

// Unsupervised reports whether nothing but an operator would ever stop the entry.
func (e *Entry) Unsupervised() bool {
	return (e.Stop == nil || e.Stop.Empty()) && e.MaxRunDuration <= 0
}

// NeedsConfirmation reports whether starting the entry waits for the operator.
func (e *Entry) NeedsConfirmation() bool {
	return e.Unsupervised() && !e.UnsupervisedConfirmed
}

// InWindow reports whether the daily window permits running at now.
func (e *Entry) InWindow(now time.Time) bool { return e.Window.Allows(now) }

// Due reports whether the entry's next run time has come. Entries without a
// next run time are due.
func (e *Entry) Due(now time.Time) bool {
	return e.NextRunTime == nil || !now.Before(*e.NextRunTime)
}

// UnderRunLimit reports whether MaxRuns still allows another run.
func (e *Entry) UnderRunLimit() bool { return e.MaxRuns <= 0 || e.RunCount < e.MaxRuns }

// Completed reports whether a run-once entry has used its single run.
func (e *Entry) Completed() bool {
	return e.OneTime() && e.RunCount > 0 && !e.Running && !e.Start.CanStartTriggerAgain()
}

// Init sets the first slot of a cron entry. Interval and run-once entries are
// due immediately.
func (e *Entry) Init(now time.Time, loc *time.Location) {
	if e.Cadence.Kind == CadenceCron && e.NextRunTime == nil && e.LastRunTime.IsZero() {
		if next := e.Cadence.Next(now, loc); !next.IsZero() {
			e.NextRunTime = &next
		}
	}
}

// ScheduleNext recomputes NextRunTime after a run. Interval cadences count
// from LastRunTime, plus a jitter in [0, min(interval/10, 5m)) when random
// scheduling is allowed. Run-once entries get no next run.
func (e *Entry) ScheduleNext(now time.Time, loc *time.Location, r condition.Rand) {
	e.NextRunTime = nil
	from := e.LastRunTime
	if from.IsZero() {
		from = now
	}
	switch e.Cadence.Kind {
	case CadenceInterval:
		next := from.Add(e.Cadence.Every)
		if e.AllowRandomScheduling && r != nil {
			if j := min(e.Cadence.Every/10, maxJitter); j > 0 {
				next = next.Add(time.Duration(r.Int63n(int64(j))))
			}
		}
		e.NextRunTime = &next
	case CadenceCron:
		if next := e.Cadence.Next(from, loc); !next.IsZero() {
			e.NextRunTime = &next
		}
	}
}

// MarkStarted records the start of a run. LastRunTime is stamped provisionally
// so an interval measured from it is correct even if the process dies mid-run.
func (e *Entry) MarkStarted(now time.Time) {
	e.Running = true
	e.LastRunStart = now
	e.LastRunTime = now
	e.LastStopReason = StopNone
	e.Start.MarkTriggered()
	e.Start.RecordRun(now)
}

// MarkStopped closes the current run.
func (e *Entry) MarkStopped(now time.Time, reason StopReason) {
	e.Running = false
	e.LastRunTime = now
	e.LastRunEnd = now
	if !e.LastRunStart.IsZero() && now.After(e.LastRunStart) {
		e.LastRunDuration = Duration(now.Sub(e.LastRunStart))
	} else {
		e.LastRunDuration = 0
	}
	e.RunCount++
	e.LastStopReason = reason
}

// ResetRuns clears the run history and re-arms the start latch.
func (e *Entry) ResetRuns() {
	e.RunCount = 0
	e.NextRunTime = nil
	e.LastRunTime = time.Time{}
	e.LastRunStart = time.Time{}
	e.LastRunEnd = time.Time{}
	e.LastRunDuration = 0
	e.LastStopReason = ""
	e.Start.ResetTrigger()
}

// Validate checks the entry in isolation. Task names are checked against the
// registry by the scheduler.
func (e *Entry) Validate() error {
	var errs []error
	if strings.TrimSpace(e.ID) == "" {
		errs = append(errs, errors.New("id required"))
	}
	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, errors.New("name required"))
	}
	switch e.Cadence.Kind {
	case CadenceInterval:
		if e.Cadence.Every <= 0 {
			errs = append(errs, errors.New("interval must be > 0"))
		}
	case CadenceCron:
		if _, err := cronParser.Parse(e.Cadence.Cron); err != nil {
			errs = append(errs, fmt.Errorf("cron %q: %v", e.Cadence.Cron, err))
		}
	}
	if err := e.Window.Validate(); err != nil {
		errs = append(errs, err)
	}
	if e.MaxRunDuration < 0 {
		errs = append(errs, errors.New("max_run_duration must be >= 0"))
	}
	if e.MaxRuns < 0 {
		errs = append(errs, errors.New("max_runs must be >= 0"))
	}
	if e.Start == nil || e.Start.Role() != condition.RoleStart {
		errs = append(errs, errors.New("start manager missing or not a start manager"))
	} else if err := e.Start.Validate(); err != nil {
		errs = append(errs, err)
	}
	if e.Stop == nil || e.Stop.Role() != condition.RoleStop {
		errs = append(errs, errors.New("stop manager missing or not a stop manager"))
	} else if err := e.Stop.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: entry %q: %w", ErrInvalid, e.label(), errors.Join(errs...))
}

func (e *Entry) label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID
}

// Clone deep-copies the entry.
func (e *Entry) Clone() *Entry {
	b, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	var out Entry
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return &out
}

// IntervalText describes the cadence and window.
func (e *Entry) IntervalText() string {
	s := e.Cadence.Describe()
	if e.AllowRandomScheduling && e.Cadence.Kind == CadenceInterval {
		s += " (randomized)"
	}
	if e.Window != nil {
		s += ", " + e.Window.String()
	}
	return s
}

// NextRunText describes when the entry runs next as seen at now.
func (e *Entry) NextRunText(now time.Time) string {
	switch {
	case !e.Enabled:
		return "Disabled"
	case e.Running:
		return "Running"
	case e.Completed():
		return "Completed"
	case !e.UnderRunLimit():
		return "Run limit reached"
	case e.NextRunTime == nil || !now.Before(*e.NextRunTime):
		if !e.InWindow(now) {
			return "Waiting for window " + e.Window.String()
		}
		return "Ready"
	default:
		return "in " + condition.FormatDuration(e.NextRunTime.Sub(now))
	}
}

// LastRunText describes the last run relative to now ("5 minutes ago").
func (e *Entry) LastRunText(now time.Time) string {
	if e.LastRunTime.IsZero() {
		return "Never"
	}
	s := humanize.RelTime(e.LastRunTime, now, "ago", "from now")
	if e.LastRunDuration > 0 {
		s += " (ran " + condition.FormatDuration(time.Duration(e.LastRunDuration)) + ")"
	}
	return s
}
