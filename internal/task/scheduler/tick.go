package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pewsched/internal/condition"
	"pewsched/internal/eventbus"
	"pewsched/internal/plan"
	"pewsched/internal/runner"
	"pewsched/internal/storage"
	logx "pewsched/pkg/logx"
)

// Tick runs one control loop iteration: drain commands, snapshot the outside
// world, supervise or schedule, autosave, publish the view.
func (s *Service) Tick(ctx context.Context) {
	s.drain(ctx)
	switch s.state {
	case StateUninitialized, StateInitializing, StateShutdown:
		return
	case StateError:
		s.publishView(nil)
		return
	}
	s.ticks++

	snap := condition.Collect(ctx, s.poller, s.clock(), s.needs())
	s.evalCache = map[*condition.Manager]condition.Evaluation{}
	if err := s.checkExclusive(); err != nil {
		s.fail(err)
	} else if s.current != nil {
		s.supervise(ctx, snap)
	} else {
		s.schedule(ctx, snap)
	}
	s.persist(ctx)
	s.publishView(snap)
}

func (s *Service) inWindow(e *plan.Entry, now time.Time) bool {
	return e.InWindow(now.In(s.cfg.Location))
}

// forget drops cached evaluations of e after its managers changed.
func (s *Service) forget(e *plan.Entry) {
	delete(s.evalCache, e.Start)
	delete(s.evalCache, e.Stop)
}

func (s *Service) needs() condition.Needs {
	roots := make([]*condition.Condition, 0, 2*len(s.entries))
	for _, e := range s.entries {
		if !e.Enabled && !e.Running {
			continue
		}
		roots = append(roots, e.Start.Root(), e.Stop.Root())
	}
	return condition.Require(roots...)
}

func (s *Service) evaluate(m *condition.Manager, snap *condition.Snapshot) condition.Evaluation {
	if ev, ok := s.evalCache[m]; ok {
		return ev
	}
	ev := m.Evaluate(snap)
	if s.evalCache != nil {
		s.evalCache[m] = ev
	}
	return ev
}

// checkExclusive enforces that at most one entry is running and that it is
// the one the loop supervises.
func (s *Service) checkExclusive() error {
	var running []string
	for _, e := range s.entries {
		if e.Running {
			running = append(running, e.ID)
		}
	}
	switch {
	case len(running) > 1:
		return fmt.Errorf("%w: entries %s are all marked running", ErrStructural, strings.Join(running, ", "))
	case len(running) == 1 && (s.current == nil || s.current.ID != running[0]):
		return fmt.Errorf("%w: entry %s is marked running but not supervised", ErrStructural, running[0])
	case len(running) == 0 && s.current != nil:
		return fmt.Errorf("%w: supervised entry %s is not marked running", ErrStructural, s.current.ID)
	}
	return nil
}

// supervise handles the running entry.
func (s *Service) supervise(ctx context.Context, snap *condition.Snapshot) {
	e := s.current
	now := snap.Now
	alive := s.reg.IsRunning(ctx, e.Name)

	if s.stopping {
		if !alive {
			s.finalize(ctx, snap, s.stopReason)
			return
		}
		s.stopTicks++
		if s.stopTicks > s.cfg.StopAckTicks {
			e.LastStopReason = plan.StopTimeout
			s.dirty = true
			s.fail(fmt.Errorf("entry %s (%s) did not acknowledge stop within %d ticks", e.ID, e.Name, s.cfg.StopAckTicks))
			return
		}
		if s.stopTicks%s.cfg.StopRetryTicks == 0 {
			s.log.Info("re-issuing stop", logx.String("entry", e.ID), logx.Int("ticks", s.stopTicks))
			s.issueStop(ctx, snap)
		}
		return
	}

	if !alive {
		s.finalize(ctx, snap, plan.StopTaskFinished)
		return
	}

	reason := plan.StopNone
	switch {
	case s.manualStop:
		reason = plan.StopManual
	case !e.Enabled:
		reason = plan.StopScheduled
	case e.MaxRunDuration > 0 && now.Sub(e.LastRunStart) >= e.MaxRunDuration.Std():
		reason = plan.StopScheduled
	case !s.inWindow(e, now):
		reason = plan.StopScheduled
	case s.evaluate(e.Stop, snap).Satisfied:
		reason = plan.StopConditionsMet
	}
	if reason != plan.StopNone {
		s.requestStop(ctx, snap, reason)
		return
	}
	s.setState(StateWaitingForStopCondition)
}

func (s *Service) requestStop(ctx context.Context, snap *condition.Snapshot, reason plan.StopReason) {
	e := s.current
	s.stopping = true
	s.stopReason = reason
	s.stopTicks = 0
	s.setState(StateStopping)
	s.log.Info("stopping entry", logx.String("entry", e.ID), logx.String("task", e.Name), logx.String("reason", string(reason)))
	s.emit(eventbus.TypeEntryStopping, EntryEvent{ID: e.ID, Name: e.Name, Reason: reason, RunCount: e.RunCount})
	s.issueStop(ctx, snap)
}

func (s *Service) issueStop(ctx context.Context, snap *condition.Snapshot) {
	e := s.current
	err := s.reg.Stop(ctx, e.Name)
	switch {
	case err == nil:
	case errors.Is(err, runner.ErrNotRunning):
		s.finalize(ctx, snap, s.stopReason)
	case errors.Is(err, runner.ErrUnknownTask):
		s.fail(fmt.Errorf("stop %s: %w", e.Name, err))
	default:
		s.report.transient("stop:"+e.ID, "task stop failed", err, logx.String("entry", e.ID), logx.String("task", e.Name))
	}
}

// finalize closes the current run and books it.
func (s *Service) finalize(ctx context.Context, snap *condition.Snapshot, reason plan.StopReason) {
	e := s.current
	now := snap.Now
	e.MarkStopped(now, reason)
	e.Stop.Reset(snap, true, s.rng)
	e.Start.Reset(snap, true, s.rng)
	s.forget(e)
	if s.paused {
		e.Start.Pause(now)
	}
	s.appendRun(ctx, e)
	e.ScheduleNext(now, s.cfg.Location, s.rng)

	s.current = nil
	s.stopping, s.manualStop = false, false
	s.stopReason, s.stopTicks = plan.StopNone, 0
	s.dirty = true

	s.log.Info("entry stopped",
		logx.String("entry", e.ID),
		logx.String("task", e.Name),
		logx.String("reason", string(reason)),
		logx.Duration("ran", e.LastRunDuration.Std()),
		logx.Int("runs", e.RunCount),
	)
	s.emit(eventbus.TypeEntryStopped, EntryEvent{ID: e.ID, Name: e.Name, Reason: reason, RunCount: e.RunCount, Duration: e.LastRunDuration.Std()})

	if s.cfg.RemoveCompletedOneTime && e.Completed() {
		if i, _ := s.find(e.ID); i >= 0 {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			s.log.Info("removed completed one-time entry", logx.String("entry", e.ID))
			s.emit(eventbus.TypePlanChanged, nil)
		}
	}
	s.setState(StateReady)
}

func (s *Service) appendRun(ctx context.Context, e *plan.Entry) {
	if s.store == nil {
		return
	}
	err := s.store.AppendRun(ctx, storage.RunRecord{
		EntryID:  e.ID,
		Name:     e.Name,
		Start:    e.LastRunStart,
		End:      e.LastRunEnd,
		Duration: e.LastRunDuration.Std(),
		Reason:   e.LastStopReason,
		RunCount: e.RunCount,
	})
	if err != nil {
		s.report.transient("store:runs", "run history append failed", err, logx.String("entry", e.ID))
	}
}

// schedule picks and starts the next entry when nothing runs.
func (s *Service) schedule(ctx context.Context, snap *condition.Snapshot) {
	now := snap.Now
	if s.force != "" {
		id := s.force
		s.force = ""
		if _, e := s.find(id); e != nil {
			s.tryStart(ctx, snap, e, true)
			return
		}
	}
	if s.paused {
		s.pending = ""
		s.setState(StateReady)
		return
	}
	s.setState(StateScheduling)

	var due, ready []*plan.Entry
	for _, e := range s.entries {
		if !e.Enabled || !s.inWindow(e, now) || !e.UnderRunLimit() || !e.Due(now) || !e.Start.CanStartTriggerAgain() {
			continue
		}
		due = append(due, e)
		if s.evaluate(e.Start, snap).Satisfied {
			ready = append(ready, e)
		}
	}
	if len(ready) == 0 {
		s.awaiting = ""
		if len(due) > 0 {
			plan.SortCandidates(due)
			s.pending = due[0].ID
			s.setState(StateWaitingForStartCondition)
			return
		}
		s.pending = ""
		s.setState(StateReady)
		return
	}
	plan.SortCandidates(ready)
	s.tryStart(ctx, snap, s.pick(ready), false)
}

// pick chooses among the top candidates, those sharing the first entry's
// priority and default flag. The earliest entry that does not allow random
// scheduling wins; only when all of them allow it is the pick a weighted draw
// favoring entries with fewer runs. ready must be sorted.
func (s *Service) pick(ready []*plan.Entry) *plan.Entry {
	top := ready[0]
	pool := make([]*plan.Entry, 0, len(ready))
	maxRuns := 0
	for _, e := range ready {
		if e.Default != top.Default || e.Priority != top.Priority {
			break
		}
		if !e.AllowRandomScheduling {
			return e
		}
		pool = append(pool, e)
		maxRuns = max(maxRuns, e.RunCount)
	}
	if len(pool) == 1 {
		return pool[0]
	}
	weights := make([]int64, len(pool))
	var total int64
	for i, e := range pool {
		weights[i] = int64(max(1, maxRuns-e.RunCount+1))
		total += weights[i]
	}
	n := s.rng.Int63n(total)
	for i, w := range weights {
		if n < w {
			return pool[i]
		}
		n -= w
	}
	return pool[len(pool)-1]
}

// tryStart applies the confirmation gate and starts e.
func (s *Service) tryStart(ctx context.Context, snap *condition.Snapshot, e *plan.Entry, forced bool) {
	if s.cfg.RequireStopConfirmation && e.NeedsConfirmation() {
		s.pending = e.ID
		if s.awaiting != e.ID {
			s.awaiting = e.ID
			s.log.Warn("entry has no stop condition; waiting for confirmation", logx.String("entry", e.ID), logx.String("task", e.Name))
			s.emit(eventbus.TypeConfirmRequired, EntryEvent{ID: e.ID, Name: e.Name, RunCount: e.RunCount})
		}
		if forced {
			// keep the request so Confirm starts it right away
			s.force = e.ID
		}
		s.setState(StateWaitingForStartCondition)
		return
	}

	err := s.reg.Start(ctx, e.Name)
	switch {
	case errors.Is(err, runner.ErrUnknownTask):
		s.fail(fmt.Errorf("start %s: %w", e.Name, err))
		return
	case err != nil:
		s.report.transient("start:"+e.ID, "task start failed", err, logx.String("entry", e.ID), logx.String("task", e.Name))
		s.pending = e.ID
		s.setState(StateScheduling)
		return
	}

	now := snap.Now
	e.Stop.Reset(snap, false, s.rng)
	e.MarkStarted(now)
	s.forget(e)
	s.current = e
	s.pending, s.awaiting = "", ""
	s.manualStop, s.stopping = false, false
	s.dirty = true
	s.report.clear("start:" + e.ID)

	s.log.Info("entry started", logx.String("entry", e.ID), logx.String("task", e.Name), logx.Bool("forced", forced))
	s.emit(eventbus.TypeEntryStarted, EntryEvent{ID: e.ID, Name: e.Name, RunCount: e.RunCount})
	s.setState(StateRunning)
}

func (s *Service) persist(ctx context.Context) {
	if !s.dirty || s.store == nil || !s.cfg.Autosave {
		return
	}
	if err := s.store.SavePlan(ctx, s.Plan()); err != nil {
		s.report.transient("store:plan", "plan autosave failed", err)
		return
	}
	s.dirty = false
}

// checkPlan validates doc and its task names against the registry.
func (s *Service) checkPlan(ctx context.Context, doc *plan.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	names := make([]string, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		names = append(names, e.Name)
	}
	return s.checkTasks(ctx, names...)
}

func (s *Service) checkTasks(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	avail, err := s.reg.ListAvailableTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	known := make(map[string]bool, len(avail))
	for _, n := range avail {
		known[n] = true
	}
	var errs []error
	for _, n := range names {
		if !known[n] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownTask, n))
		}
	}
	return errors.Join(errs...)
}
