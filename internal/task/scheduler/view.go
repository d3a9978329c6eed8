package scheduler

import (
	"slices"

	"pewsched/internal/condition"
	"pewsched/internal/plan"
)

// publishView rebuilds and publishes the read model. A nil snap keeps the
// previous gate figures and only refreshes loop state and texts.
func (s *Service) publishView(snap *condition.Snapshot) {
	now := s.clock()
	prev := s.Snapshot()

	v := View{
		State:                s.state,
		Pending:              s.pending,
		AwaitingConfirmation: s.awaiting,
		Paused:               s.paused,
		Ticks:                s.ticks,
		UpdatedAt:            now,
	}
	if s.current != nil {
		v.Current = s.current.ID
	}
	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
	}
	v.Next = s.nextCandidate()

	ordered := plan.SortForDisplay(s.entries)
	v.Entries = make([]EntryView, 0, len(ordered))
	for _, e := range ordered {
		ev := EntryView{
			ID:             e.ID,
			Name:           e.Name,
			Enabled:        e.Enabled,
			Default:        e.Default,
			Priority:       e.Priority,
			Cadence:        e.Cadence.String(),
			IntervalText:   e.IntervalText(),
			NextRunText:    e.NextRunText(now),
			LastRunText:    e.LastRunText(now),
			NextRunTime:    e.NextRunTime,
			RunCount:       e.RunCount,
			MaxRuns:        e.MaxRuns,
			Running:        e.Running,
			LastStopReason: e.LastStopReason,
			Unsupervised:   e.Unsupervised(),
			Confirmed:      e.UnsupervisedConfirmed,
		}
		if snap != nil {
			ev.Start = gateView(e.Start, s.evaluate(e.Start, snap))
			ev.Stop = gateView(e.Stop, s.evaluate(e.Stop, snap))
		} else if old, ok := prev.Entry(e.ID); ok {
			ev.Start, ev.Stop = old.Start, old.Stop
		} else {
			ev.Start = GateView{RequireAll: e.Start.RequiresAll(), Description: e.Start.Describe()}
			ev.Stop = GateView{RequireAll: e.Stop.RequiresAll(), Description: e.Stop.Describe()}
		}
		v.Entries = append(v.Entries, ev)
	}

	s.viewMu.Lock()
	s.view = v
	s.viewMu.Unlock()
}

func gateView(m *condition.Manager, ev condition.Evaluation) GateView {
	g := GateView{
		Satisfied:   ev.Satisfied,
		Met:         ev.Met,
		Total:       ev.Total,
		Progress:    ev.Progress,
		RequireAll:  m.RequiresAll(),
		Description: m.Describe(),
	}
	for _, err := range ev.Errs {
		g.Errors = append(g.Errors, err.Error())
	}
	return g
}

// nextCandidate is the entry that would be considered first once nothing
// runs, ignoring start conditions.
func (s *Service) nextCandidate() string {
	var cands []*plan.Entry
	for _, e := range s.entries {
		if e == s.current || !e.Enabled || !e.UnderRunLimit() || !e.Start.CanStartTriggerAgain() {
			continue
		}
		cands = append(cands, e)
	}
	if len(cands) == 0 {
		return ""
	}
	cands = slices.Clone(cands)
	plan.SortCandidates(cands)
	return cands[0].ID
}
