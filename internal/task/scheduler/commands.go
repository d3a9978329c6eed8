package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pewsched/internal/eventbus"
	"pewsched/internal/plan"
	"pewsched/internal/runner"
	logx "pewsched/pkg/logx"
)

// Command is a mutation executed on the loop goroutine.
type Command interface {
	apply(ctx context.Context, s *Service) error
}

// Add appends a new entry.
type Add struct{ Entry *plan.Entry }

// Update replaces an entry's definition. Run history is kept.
type Update struct{ Entry *plan.Entry }

// Remove deletes an entry that is not running.
type Remove struct{ ID string }

// StartNow starts an entry on the next tick regardless of its cadence and
// start conditions. The confirmation gate still applies.
type StartNow struct{ ID string }

// StopNow stops the running entry with MANUAL_STOP.
type StopNow struct{}

// Confirm accepts that an entry runs without stop conditions.
type Confirm struct{ ID string }

type SetEnabled struct {
	ID      string
	Enabled bool
}

// ResetRuns clears an entry's run history and re-arms its one-time latch.
type ResetRuns struct{ ID string }

// Pause suppresses new starts and freezes start-condition timers. A running
// entry keeps being supervised.
type Pause struct{}

type Resume struct{}

// Reset leaves ERROR: stops are issued for running entries, running flags
// are cleared and the loop returns to READY.
type Reset struct{}

// LoadPlan replaces the whole plan after full validation. On error the live
// plan is untouched.
type LoadPlan struct{ Doc *plan.Document }

type applyConfig struct{ cfg Config }

func allowedInError(c Command) bool {
	switch c.(type) {
	case Reset, *Reset, applyConfig:
		return true
	}
	return false
}

func (c Add) apply(ctx context.Context, s *Service) error {
	if c.Entry == nil {
		return fmt.Errorf("%w: nil entry", plan.ErrInvalid)
	}
	e := c.Entry.Clone()
	if e == nil {
		return fmt.Errorf("%w: entry cannot be encoded", plan.ErrInvalid)
	}
	e.Running = false
	if err := e.Validate(); err != nil {
		return err
	}
	for _, o := range s.entries {
		if strings.EqualFold(o.ID, e.ID) {
			return fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
		}
	}
	if err := s.checkTasks(ctx, e.Name); err != nil {
		return err
	}
	e.Init(s.clock(), s.cfg.Location)
	if s.paused {
		e.Start.Pause(s.clock())
	}
	s.entries = append(s.entries, e)
	s.dirty = true
	s.log.Info("entry added", logx.String("entry", e.ID), logx.String("task", e.Name))
	s.emit(eventbus.TypePlanChanged, EntryEvent{ID: e.ID, Name: e.Name})
	return nil
}

func (c Update) apply(ctx context.Context, s *Service) error {
	if c.Entry == nil {
		return fmt.Errorf("%w: nil entry", plan.ErrInvalid)
	}
	i, old := s.find(c.Entry.ID)
	if old == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, c.Entry.ID)
	}
	if old == s.current {
		return fmt.Errorf("%w: stop %s before editing it", ErrBusy, old.ID)
	}
	e := c.Entry.Clone()
	if e == nil {
		return fmt.Errorf("%w: entry cannot be encoded", plan.ErrInvalid)
	}
	// runtime state is owned by the loop
	e.Running = false
	e.RunCount = old.RunCount
	e.LastRunTime, e.LastRunStart, e.LastRunEnd = old.LastRunTime, old.LastRunStart, old.LastRunEnd
	e.LastRunDuration, e.LastStopReason = old.LastRunDuration, old.LastStopReason
	if e.Cadence == old.Cadence {
		e.NextRunTime = old.NextRunTime
	} else {
		e.NextRunTime = nil
		if !e.LastRunTime.IsZero() {
			e.ScheduleNext(s.clock(), s.cfg.Location, s.rng)
		}
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Name != old.Name {
		if err := s.checkTasks(ctx, e.Name); err != nil {
			return err
		}
	}
	now := s.clock()
	e.Init(now, s.cfg.Location)
	// edits never re-arm a consumed one-time gate; ResetRuns does
	if e.Start != nil {
		e.Start.CopyTrigger(old.Start)
		if s.paused {
			e.Start.Pause(now)
		}
	}
	s.entries[i] = e
	if s.awaiting == e.ID && !e.NeedsConfirmation() {
		s.awaiting = ""
	}
	s.dirty = true
	s.emit(eventbus.TypePlanChanged, EntryEvent{ID: e.ID, Name: e.Name})
	return nil
}

func (c Remove) apply(ctx context.Context, s *Service) error {
	i, e := s.find(c.ID)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	if e == s.current {
		return fmt.Errorf("%w: stop %s before removing it", ErrBusy, e.ID)
	}
	s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
	for _, id := range []*string{&s.pending, &s.awaiting, &s.force} {
		if *id == e.ID {
			*id = ""
		}
	}
	s.dirty = true
	s.log.Info("entry removed", logx.String("entry", e.ID))
	s.emit(eventbus.TypePlanChanged, EntryEvent{ID: e.ID, Name: e.Name})
	return nil
}

var ErrOutsideWindow = errors.New("entry is outside its time window")

func (c StartNow) apply(ctx context.Context, s *Service) error {
	_, e := s.find(c.ID)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	if s.current != nil {
		return fmt.Errorf("%w: %s", ErrBusy, s.current.ID)
	}
	if !e.Enabled {
		return fmt.Errorf("entry %s is disabled", e.ID)
	}
	if !s.inWindow(e, s.clock()) {
		return fmt.Errorf("%w: %s", ErrOutsideWindow, e.Window)
	}
	s.force = e.ID
	return nil
}

func (StopNow) apply(ctx context.Context, s *Service) error {
	if s.current == nil {
		return ErrIdle
	}
	s.manualStop = true
	return nil
}

func (c Confirm) apply(ctx context.Context, s *Service) error {
	_, e := s.find(c.ID)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	e.UnsupervisedConfirmed = true
	if s.awaiting == e.ID {
		s.awaiting = ""
	}
	s.dirty = true
	s.log.Info("unsupervised run confirmed", logx.String("entry", e.ID))
	return nil
}

func (c SetEnabled) apply(ctx context.Context, s *Service) error {
	_, e := s.find(c.ID)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	if e.Enabled == c.Enabled {
		return nil
	}
	e.Enabled = c.Enabled
	if !c.Enabled && s.awaiting == e.ID {
		s.awaiting = ""
	}
	s.dirty = true
	return nil
}

func (c ResetRuns) apply(ctx context.Context, s *Service) error {
	_, e := s.find(c.ID)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	e.ResetRuns()
	e.Init(s.clock(), s.cfg.Location)
	s.dirty = true
	return nil
}

func (Pause) apply(ctx context.Context, s *Service) error {
	if s.paused {
		return nil
	}
	now := s.clock()
	s.paused, s.pausedAt = true, now
	for _, e := range s.entries {
		if e != s.current {
			e.Start.Pause(now)
		}
	}
	s.log.Info("scheduler paused")
	return nil
}

func (Resume) apply(ctx context.Context, s *Service) error {
	if !s.paused {
		return nil
	}
	now := s.clock()
	s.paused = false
	for _, e := range s.entries {
		e.Start.Resume(now)
	}
	s.log.Info("scheduler resumed", logx.Duration("paused_for", now.Sub(s.pausedAt)))
	return nil
}

func (Reset) apply(ctx context.Context, s *Service) error {
	now := s.clock()
	for _, e := range s.entries {
		if !e.Running {
			continue
		}
		if err := s.reg.Stop(ctx, e.Name); err != nil && !errors.Is(err, runner.ErrNotRunning) {
			s.log.Warn("stop on reset failed", logx.String("entry", e.ID), logx.Err(err))
		}
		reason := plan.StopError
		if e.LastStopReason == plan.StopTimeout {
			reason = plan.StopTimeout
		}
		e.MarkStopped(now, reason)
		s.appendRun(ctx, e)
		e.ScheduleNext(now, s.cfg.Location, s.rng)
	}
	s.current = nil
	s.stopping, s.manualStop = false, false
	s.stopReason, s.stopTicks = plan.StopNone, 0
	s.pending, s.awaiting, s.force = "", "", ""
	s.lastErr = nil
	s.dirty = true
	s.setState(StateReady)
	s.log.Info("scheduler reset")
	return nil
}

func (c LoadPlan) apply(ctx context.Context, s *Service) error {
	if c.Doc == nil {
		return fmt.Errorf("%w: nil plan", plan.ErrInvalid)
	}
	if s.current != nil {
		return fmt.Errorf("%w: stop %s before loading a plan", ErrBusy, s.current.ID)
	}
	doc := c.Doc.Clone()
	if doc == nil {
		return fmt.Errorf("%w: plan cannot be encoded", plan.ErrInvalid)
	}
	if err := s.checkPlan(ctx, doc); err != nil {
		return err
	}
	now := s.clock()
	for _, e := range doc.Entries {
		e.Running = false
		e.Init(now, s.cfg.Location)
		if s.paused {
			e.Start.Pause(now)
		}
	}
	s.entries = doc.Entries
	s.pending, s.awaiting, s.force = "", "", ""
	s.dirty = true
	s.log.Info("plan loaded", logx.Int("entries", len(doc.Entries)))
	s.emit(eventbus.TypePlanChanged, nil)
	return nil
}

func (c applyConfig) apply(ctx context.Context, s *Service) error {
	s.cfg = c.cfg
	return nil
}
