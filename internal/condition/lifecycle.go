package condition

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Reset restarts the mutable state of every node: interval reference times,
// relative baselines. Randomized targets are rolled again only when reroll is
// set; plain re-evaluation never changes them.
func (c *Condition) Reset(snap *Snapshot, reroll bool, r Rand) {
	now := snapNow(snap)
	c.Walk(func(n *Condition) {
		switch n.Kind {
		case KindInterval:
			if n.Interval == nil {
				return
			}
			if reroll && n.Interval.Randomized {
				n.Interval.Every = rollDuration(r, n.Interval.Min, n.Interval.Max)
			}
			n.Interval.Since = now
			n.Interval.PausedAt = time.Time{}
		case KindSkillLevel, KindSkillXP:
			if n.Skill == nil {
				return
			}
			if reroll && n.Skill.Randomized {
				n.Skill.Target = rollInt64(r, n.Skill.Min, n.Skill.Max)
			}
			if n.Skill.Relative {
				n.Skill.Baseline, n.Skill.HasBaseline = 0, false
				if st, err := snap.skill(n.Skill.Name); err == nil {
					n.Skill.Baseline = st.Level
					if n.Kind == KindSkillXP {
						n.Skill.Baseline = st.XP
					}
					n.Skill.HasBaseline = true
				}
			}
		case KindInventoryItems, KindBankItems, KindLootItems:
			if n.Items == nil {
				return
			}
			if reroll && n.Items.Randomized {
				n.Items.Target = int(rollInt64(r, int64(n.Items.Min), int64(n.Items.Max)))
			}
			if n.Items.Relative {
				n.Items.Baseline, n.Items.HasBaseline = 0, false
				ct, _ := n.Kind.Container()
				if v, err := snap.itemCount(ct, n.Items.Pattern); err == nil {
					n.Items.Baseline, n.Items.HasBaseline = v, true
				}
			}
		}
	})
}

// Pause freezes interval progress at now.
func (c *Condition) Pause(now time.Time) {
	c.Walk(func(n *Condition) {
		if n.Kind == KindInterval && n.Interval != nil && n.Interval.PausedAt.IsZero() {
			n.Interval.PausedAt = now
		}
	})
}

// Resume shifts interval reference times by the paused duration.
func (c *Condition) Resume(now time.Time) {
	c.Walk(func(n *Condition) {
		if n.Kind != KindInterval || n.Interval == nil || n.Interval.PausedAt.IsZero() {
			return
		}
		if d := now.Sub(n.Interval.PausedAt); d > 0 {
			n.Interval.Since = n.Interval.Since.Add(d)
		}
		n.Interval.PausedAt = time.Time{}
	})
}

// RecordRun tells counting leaves that the owning entry started at now.
func (c *Condition) RecordRun(now time.Time) {
	c.Walk(func(n *Condition) {
		if n.Kind != KindDayOfWeek || n.Days == nil {
			return
		}
		d := n.Days
		if k := dayKey(now); d.DayKey != k {
			d.DayKey, d.DayRuns = k, 0
		}
		if k := weekKey(now); d.WeekKey != k {
			d.WeekKey, d.WeekRuns = k, 0
		}
		d.DayRuns++
		d.WeekRuns++
	})
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

func weekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// Clone returns a deep copy of the tree.
func (c *Condition) Clone() *Condition {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	var out Condition
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return &out
}

// Validate checks that the tag and the parameter blocks agree.
func (c *Condition) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil node", ErrInvalid)
	}
	set := 0
	for _, p := range []bool{c.Interval != nil, c.Window != nil, c.Days != nil, c.Once != nil, c.Skill != nil, c.Items != nil} {
		if p {
			set++
		}
	}
	if c.Kind.Logical() {
		if set != 0 {
			return fmt.Errorf("%w: %s carries leaf parameters", ErrInvalid, c.Kind)
		}
		if c.Kind == KindNot && len(c.Children) != 1 {
			return fmt.Errorf("%w: not needs exactly one child, got %d", ErrInvalid, len(c.Children))
		}
		var errs []error
		for i, ch := range c.Children {
			if err := ch.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s[%d]: %w", c.Kind, i, err))
			}
		}
		return errors.Join(errs...)
	}
	if len(c.Children) != 0 {
		return fmt.Errorf("%w: leaf %s has children", ErrInvalid, c.Kind)
	}
	if set != 1 {
		return fmt.Errorf("%w: %s needs exactly one parameter block, got %d", ErrInvalid, c.Kind, set)
	}
	switch c.Kind {
	case KindInterval:
		if c.Interval == nil {
			break
		}
		if c.Interval.Every < 0 {
			return fmt.Errorf("%w: interval must be >= 0", ErrInvalid)
		}
		if c.Interval.Randomized && c.Interval.Max < c.Interval.Min {
			return fmt.Errorf("%w: interval max < min", ErrInvalid)
		}
		return nil
	case KindTimeWindow:
		if c.Window == nil {
			break
		}
		for _, ct := range []ClockTime{c.Window.Start, c.Window.End} {
			if ct.Hour < 0 || ct.Hour > 23 || ct.Minute < 0 || ct.Minute > 59 {
				return fmt.Errorf("%w: time of day %s out of range", ErrInvalid, ct)
			}
		}
		return nil
	case KindDayOfWeek:
		if c.Days == nil {
			break
		}
		if c.Days.MaxPerDay < 0 || c.Days.MaxPerWeek < 0 {
			return fmt.Errorf("%w: day limits must be >= 0", ErrInvalid)
		}
		return nil
	case KindOnce:
		if c.Once == nil || c.Once.At.IsZero() {
			return fmt.Errorf("%w: once needs a time", ErrInvalid)
		}
		return nil
	case KindSkillLevel, KindSkillXP:
		if c.Skill == nil {
			break
		}
		if c.Skill.Name == "" {
			return fmt.Errorf("%w: %s needs a skill name", ErrInvalid, c.Kind)
		}
		if c.Skill.Target < 0 {
			return fmt.Errorf("%w: %s target must be >= 0", ErrInvalid, c.Kind)
		}
		return nil
	case KindInventoryItems, KindBankItems, KindLootItems:
		if c.Items == nil {
			break
		}
		if c.Items.Pattern == "" {
			return fmt.Errorf("%w: %s needs an item pattern", ErrInvalid, c.Kind)
		}
		if c.Items.Target < 0 {
			return fmt.Errorf("%w: %s target must be >= 0", ErrInvalid, c.Kind)
		}
		if _, err := compilePattern(c.Items.Pattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, c.Kind)
	}
	return fmt.Errorf("%w: %s parameters missing", ErrInvalid, c.Kind)
}
