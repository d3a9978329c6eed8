package condition

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration renders short durations for humans:
// under a minute "45s", under an hour "5m 0s", otherwise "2h 30m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}

// FormatCountdown renders d as HH:MM:SS.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// Describe returns a static description of the tree.
func (c *Condition) Describe() string {
	if c == nil {
		return "<nil>"
	}
	switch c.Kind {
	case KindAnd, KindOr:
		if len(c.Children) == 0 {
			if c.Kind == KindAnd {
				return "always"
			}
			return "never"
		}
		parts := make([]string, 0, len(c.Children))
		for _, ch := range c.Children {
			parts = append(parts, ch.Describe())
		}
		word := "ALL of"
		if c.Kind == KindOr {
			word = "ANY of"
		}
		return word + " (" + strings.Join(parts, ", ") + ")"
	case KindNot:
		if len(c.Children) != 1 {
			return "NOT (?)"
		}
		return "NOT (" + c.Children[0].Describe() + ")"
	case KindInterval:
		if c.Interval == nil {
			break
		}
		s := "Every " + FormatDuration(c.Interval.Every)
		if c.Interval.Randomized {
			s += fmt.Sprintf(" (randomized %s-%s)", FormatDuration(c.Interval.Min), FormatDuration(c.Interval.Max))
		}
		return s
	case KindTimeWindow:
		if c.Window == nil {
			break
		}
		return fmt.Sprintf("Between %s and %s", c.Window.Start, c.Window.End)
	case KindDayOfWeek:
		if c.Days == nil {
			break
		}
		names := make([]string, 0, len(c.Days.Days))
		for _, d := range c.Days.Days {
			names = append(names, d.String()[:3])
		}
		s := "Every day"
		if len(names) > 0 {
			s = "On " + strings.Join(names, ", ")
		}
		var limits []string
		if c.Days.MaxPerDay > 0 {
			limits = append(limits, fmt.Sprintf("max %d/day", c.Days.MaxPerDay))
		}
		if c.Days.MaxPerWeek > 0 {
			limits = append(limits, fmt.Sprintf("max %d/week", c.Days.MaxPerWeek))
		}
		if len(limits) > 0 {
			s += " (" + strings.Join(limits, ", ") + ")"
		}
		return s
	case KindOnce:
		if c.Once == nil {
			break
		}
		return "Once at " + c.Once.At.Format("2006-01-02 15:04")
	case KindSkillLevel, KindSkillXP:
		if c.Skill == nil {
			break
		}
		metric := "level"
		if c.Kind == KindSkillXP {
			metric = "XP"
		}
		if c.Skill.Relative {
			return fmt.Sprintf("Gain %d %s %s", c.Skill.Target, c.Skill.Name, metric)
		}
		return fmt.Sprintf("%s %s >= %d", c.Skill.Name, metric, c.Skill.Target)
	case KindInventoryItems, KindBankItems, KindLootItems:
		if c.Items == nil {
			break
		}
		ct, _ := c.Kind.Container()
		label := strings.ToUpper(string(ct[:1])) + string(ct[1:])
		if c.Items.Relative && c.Kind != KindLootItems {
			return fmt.Sprintf("%s: gain %d x %q", label, c.Items.Target, c.Items.Pattern)
		}
		return fmt.Sprintf("%s: %d x %q", label, c.Items.Target, c.Items.Pattern)
	}
	return string(c.Kind)
}

// Status is Describe plus the live values seen in snap.
func (c *Condition) Status(snap *Snapshot) string {
	if c == nil {
		return "<nil>"
	}
	switch c.Kind {
	case KindInterval:
		if c.Interval == nil {
			break
		}
		left := c.Interval.Every - c.Interval.elapsed(snapNow(snap))
		if left <= 0 {
			return c.Describe() + " (due)"
		}
		return fmt.Sprintf("%s (next in %s)", c.Describe(), FormatCountdown(left))
	case KindSkillLevel, KindSkillXP:
		v, target, err := c.skillValue(snap)
		if err != nil {
			return c.Describe() + " (unavailable)"
		}
		return fmt.Sprintf("%s (%d/%d)", c.Describe(), v, target)
	case KindInventoryItems, KindBankItems, KindLootItems:
		v, target, err := c.itemValue(snap)
		if err != nil {
			return c.Describe() + " (unavailable)"
		}
		return fmt.Sprintf("%s (%d/%d)", c.Describe(), v, target)
	case KindAnd, KindOr, KindNot:
		met, total := c.Counts(snap)
		return fmt.Sprintf("%s [%d/%d met, %.0f%%]", c.Describe(), met, total, c.Progress(snap))
	}
	if c.IsSatisfied(snap) {
		return c.Describe() + " (met)"
	}
	return c.Describe() + " (not met)"
}
