package condition

import (
	"errors"
	"math"
	"time"
)

// IsSatisfied evaluates the tree against snap. AND and OR stop at the first
// deciding child; a leaf whose data could not be polled is unsatisfied.
func (c *Condition) IsSatisfied(snap *Snapshot) bool {
	if c == nil {
		return false
	}
	switch c.Kind {
	case KindAnd:
		for _, ch := range c.Children {
			if !ch.IsSatisfied(snap) {
				return false
			}
		}
		return true
	case KindOr:
		for _, ch := range c.Children {
			if ch.IsSatisfied(snap) {
				return true
			}
		}
		return false
	case KindNot:
		if len(c.Children) != 1 {
			return false
		}
		return !c.Children[0].IsSatisfied(snap)
	case KindInterval:
		if c.Interval == nil {
			return false
		}
		return c.Interval.elapsed(snapNow(snap)) >= c.Interval.Every
	case KindTimeWindow:
		if c.Window == nil {
			return false
		}
		return c.Window.contains(snapNow(snap))
	case KindDayOfWeek:
		if c.Days == nil {
			return false
		}
		return c.Days.allows(snapNow(snap))
	case KindOnce:
		if c.Once == nil {
			return false
		}
		return !snapNow(snap).Before(c.Once.At)
	case KindSkillLevel, KindSkillXP:
		v, target, err := c.skillValue(snap)
		return err == nil && v >= target
	case KindInventoryItems, KindBankItems, KindLootItems:
		v, target, err := c.itemValue(snap)
		return err == nil && v >= target
	default:
		return false
	}
}

// Progress estimates how close the tree is to being satisfied, in [0, 100].
// It always walks the whole tree.
func (c *Condition) Progress(snap *Snapshot) float64 {
	if c == nil {
		return 0
	}
	switch c.Kind {
	case KindAnd:
		if len(c.Children) == 0 {
			return 100
		}
		sum := 0.0
		for _, ch := range c.Children {
			sum += ch.Progress(snap)
		}
		return sum / float64(len(c.Children))
	case KindOr:
		best := 0.0
		for _, ch := range c.Children {
			best = math.Max(best, ch.Progress(snap))
		}
		return best
	case KindNot:
		if len(c.Children) != 1 {
			return 0
		}
		return 100 - c.Children[0].Progress(snap)
	case KindInterval:
		if c.Interval == nil {
			return 0
		}
		if c.Interval.Every <= 0 {
			return 100
		}
		return ratio(float64(c.Interval.elapsed(snapNow(snap))), float64(c.Interval.Every))
	case KindOnce:
		if c.Once == nil {
			return 0
		}
		now := snapNow(snap)
		if !now.Before(c.Once.At) {
			return 100
		}
		if c.Once.Created.IsZero() || !c.Once.At.After(c.Once.Created) {
			return 0
		}
		return ratio(float64(now.Sub(c.Once.Created)), float64(c.Once.At.Sub(c.Once.Created)))
	case KindSkillLevel, KindSkillXP:
		v, target, err := c.skillValue(snap)
		if err != nil {
			return 0
		}
		return ratio(float64(v), float64(target))
	case KindInventoryItems, KindBankItems, KindLootItems:
		v, target, err := c.itemValue(snap)
		if err != nil {
			return 0
		}
		return ratio(float64(v), float64(target))
	default:
		if c.IsSatisfied(snap) {
			return 100
		}
		return 0
	}
}

// Counts returns the satisfied and total number of leaves under c.
// Leaves below a NOT count inverted, so met+unmet always equals total.
func (c *Condition) Counts(snap *Snapshot) (met, total int) {
	if c == nil {
		return 0, 0
	}
	switch c.Kind {
	case KindAnd, KindOr:
		for _, ch := range c.Children {
			m, t := ch.Counts(snap)
			met += m
			total += t
		}
		return met, total
	case KindNot:
		for _, ch := range c.Children {
			m, t := ch.Counts(snap)
			met += t - m
			total += t
		}
		return met, total
	default:
		if c.IsSatisfied(snap) {
			return 1, 1
		}
		return 0, 1
	}
}

// Unmet is the number of leaves under c that are not satisfied.
func (c *Condition) Unmet(snap *Snapshot) int {
	met, total := c.Counts(snap)
	return total - met
}

// Errors reports leaves that could not be evaluated because their data source
// failed. Such leaves already evaluate unsatisfied.
func (c *Condition) Errors(snap *Snapshot) []error {
	var errs []error
	c.Walk(func(n *Condition) {
		var err error
		switch n.Kind {
		case KindSkillLevel, KindSkillXP:
			_, _, err = n.skillValue(snap)
		case KindInventoryItems, KindBankItems, KindLootItems:
			_, _, err = n.itemValue(snap)
		}
		if err != nil {
			errs = append(errs, err)
		}
	})
	return errs
}

// CanTriggerAgain reports whether the tree can become satisfied again after it
// has fired once. Only once leaves are single-shot.
func (c *Condition) CanTriggerAgain() bool {
	if c == nil {
		return true
	}
	switch c.Kind {
	case KindOnce:
		return false
	case KindAnd:
		for _, ch := range c.Children {
			if !ch.CanTriggerAgain() {
				return false
			}
		}
		return true
	case KindOr:
		if len(c.Children) == 0 {
			return true
		}
		for _, ch := range c.Children {
			if ch.CanTriggerAgain() {
				return true
			}
		}
		return false
	default:
		return true
	}
}

var errNoSkill = errors.New("no skill parameters")
var errNoItems = errors.New("no item parameters")

func (c *Condition) skillValue(snap *Snapshot) (value, target int64, err error) {
	if c.Skill == nil {
		return 0, 0, errNoSkill
	}
	st, err := snap.skill(c.Skill.Name)
	if err != nil {
		return 0, c.Skill.Target, err
	}
	v := st.Level
	if c.Kind == KindSkillXP {
		v = st.XP
	}
	if c.Skill.Relative {
		if !c.Skill.HasBaseline {
			return 0, c.Skill.Target, nil
		}
		v -= c.Skill.Baseline
	}
	return v, c.Skill.Target, nil
}

func (c *Condition) itemValue(snap *Snapshot) (value, target int64, err error) {
	if c.Items == nil {
		return 0, 0, errNoItems
	}
	ct, _ := c.Kind.Container()
	n, err := snap.itemCount(ct, c.Items.Pattern)
	if err != nil {
		return 0, int64(c.Items.Target), err
	}
	if c.Items.Relative {
		if !c.Items.HasBaseline {
			return 0, int64(c.Items.Target), nil
		}
		n -= c.Items.Baseline
	}
	return int64(n), int64(c.Items.Target), nil
}

func (iv *Interval) elapsed(now time.Time) time.Duration {
	if !iv.PausedAt.IsZero() {
		now = iv.PausedAt
	}
	d := now.Sub(iv.Since)
	if d < 0 {
		return 0
	}
	return d
}

func (w *TimeWindow) contains(now time.Time) bool {
	m := now.Hour()*60 + now.Minute()
	start, end := w.Start.minutes(), w.End.minutes()
	switch {
	case start == end:
		return true
	case start < end:
		return m >= start && m < end
	default:
		return m >= start || m < end
	}
}

func (d *DayOfWeek) allows(now time.Time) bool {
	if len(d.Days) > 0 && !d.Days.contains(now.Weekday()) {
		return false
	}
	if d.MaxPerDay > 0 && d.DayKey == dayKey(now) && d.DayRuns >= d.MaxPerDay {
		return false
	}
	if d.MaxPerWeek > 0 && d.WeekKey == weekKey(now) && d.WeekRuns >= d.MaxPerWeek {
		return false
	}
	return true
}

func snapNow(s *Snapshot) time.Time {
	if s == nil || s.Now.IsZero() {
		return time.Now()
	}
	return s.Now
}

func ratio(v, target float64) float64 {
	if target <= 0 {
		return 100
	}
	p := v / target * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
