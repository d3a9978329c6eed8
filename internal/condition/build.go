package condition

import (
	"time"
)

func And(children ...*Condition) *Condition { return &Condition{Kind: KindAnd, Children: children} }
func Or(children ...*Condition) *Condition  { return &Condition{Kind: KindOr, Children: children} }
func Not(child *Condition) *Condition       { return &Condition{Kind: KindNot, Children: []*Condition{child}} }

// NewInterval starts counting from now.
func NewInterval(every time.Duration, now time.Time) *Condition {
	return &Condition{Kind: KindInterval, Interval: &Interval{Every: every, Since: now}}
}

// NewRandomizedInterval rolls the interval once, uniformly in [min, max].
func NewRandomizedInterval(min, max time.Duration, now time.Time, r Rand) *Condition {
	if max < min {
		min, max = max, min
	}
	return &Condition{Kind: KindInterval, Interval: &Interval{
		Every:      rollDuration(r, min, max),
		Min:        min,
		Max:        max,
		Randomized: true,
		Since:      now,
	}}
}

func NewTimeWindow(start, end ClockTime) *Condition {
	return &Condition{Kind: KindTimeWindow, Window: &TimeWindow{Start: start, End: end}}
}

func NewDayOfWeek(days ...time.Weekday) *Condition {
	return &Condition{Kind: KindDayOfWeek, Days: &DayOfWeek{Days: append(Weekdays{}, days...)}}
}

// WithLimits caps a day-of-week condition by runs per day and per week (0 = no cap).
func (c *Condition) WithLimits(perDay, perWeek int) *Condition {
	if c.Days != nil {
		c.Days.MaxPerDay = perDay
		c.Days.MaxPerWeek = perWeek
	}
	return c
}

// NewOnce fires from at onwards. now anchors the progress estimate.
func NewOnce(at, now time.Time) *Condition {
	return &Condition{Kind: KindOnce, Once: &Once{At: at, Created: now}}
}

func NewSkillLevel(skill string, target int64) *Condition {
	return &Condition{Kind: KindSkillLevel, Skill: &Skill{Name: skill, Target: target}}
}

func NewRandomizedSkillLevel(skill string, min, max int64, r Rand) *Condition {
	return &Condition{Kind: KindSkillLevel, Skill: randomSkill(skill, min, max, r)}
}

func NewSkillXP(skill string, target int64) *Condition {
	return &Condition{Kind: KindSkillXP, Skill: &Skill{Name: skill, Target: target}}
}

func NewRandomizedSkillXP(skill string, min, max int64, r Rand) *Condition {
	return &Condition{Kind: KindSkillXP, Skill: randomSkill(skill, min, max, r)}
}

func randomSkill(skill string, min, max int64, r Rand) *Skill {
	if max < min {
		min, max = max, min
	}
	return &Skill{Name: skill, Target: rollInt64(r, min, max), Min: min, Max: max, Randomized: min != max}
}

// Relative makes a skill or item target count the gain since the last Reset.
func (c *Condition) Relative() *Condition {
	switch {
	case c.Skill != nil:
		c.Skill.Relative = true
	case c.Items != nil:
		c.Items.Relative = true
	}
	return c
}

// NewItems builds a resource-count leaf. The kind must be one of the item kinds.
// The target is rolled once in [min, max]; min == max gives a fixed target.
func NewItems(kind Kind, pattern string, min, max int, r Rand) *Condition {
	if max < min {
		min, max = max, min
	}
	it := &Items{Pattern: pattern, Target: min}
	if max > min {
		it.Target = int(rollInt64(r, int64(min), int64(max)))
		it.Min, it.Max, it.Randomized = min, max, true
	}
	if kind == KindLootItems {
		it.Relative = true
	}
	return &Condition{Kind: kind, Items: it}
}

func NewInventoryItems(pattern string, min, max int, r Rand) *Condition {
	return NewItems(KindInventoryItems, pattern, min, max, r)
}

func NewBankItems(pattern string, min, max int, r Rand) *Condition {
	return NewItems(KindBankItems, pattern, min, max, r)
}

func NewLootItems(pattern string, min, max int, r Rand) *Condition {
	return NewItems(KindLootItems, pattern, min, max, r)
}

// ItemTarget is one element of a multi-item condition.
type ItemTarget struct {
	Pattern  string
	Min, Max int
}

// AllItems requires every target; AnyItems requires at least one.
func AllItems(kind Kind, r Rand, targets ...ItemTarget) *Condition {
	return And(itemLeaves(kind, r, targets)...)
}

func AnyItems(kind Kind, r Rand, targets ...ItemTarget) *Condition {
	return Or(itemLeaves(kind, r, targets)...)
}

func itemLeaves(kind Kind, r Rand, targets []ItemTarget) []*Condition {
	out := make([]*Condition, 0, len(targets))
	for _, t := range targets {
		out = append(out, NewItems(kind, t.Pattern, t.Min, t.Max, r))
	}
	return out
}

// Walk visits c and its descendants depth-first in insertion order.
func (c *Condition) Walk(fn func(*Condition)) {
	if c == nil {
		return
	}
	fn(c)
	for _, ch := range c.Children {
		ch.Walk(fn)
	}
}

// Leaves returns the leaf conditions under c.
func (c *Condition) Leaves() []*Condition {
	var out []*Condition
	c.Walk(func(n *Condition) {
		if !n.Kind.Logical() {
			out = append(out, n)
		}
	})
	return out
}
