package condition

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalid       = errors.New("invalid condition")
	ErrPluginDefined = errors.New("condition is plugin-defined")
	ErrNotFound      = errors.New("condition not found")
)

// Kind tags the variant stored in a Condition.
type Kind string

const (
	KindAnd Kind = "and"
	KindOr  Kind = "or"
	KindNot Kind = "not"

	KindInterval   Kind = "interval"
	KindTimeWindow Kind = "time_window"
	KindDayOfWeek  Kind = "day_of_week"
	KindOnce       Kind = "once"

	KindSkillLevel Kind = "skill_level"
	KindSkillXP    Kind = "skill_xp"

	KindInventoryItems Kind = "inventory_items"
	KindBankItems      Kind = "bank_items"
	KindLootItems      Kind = "loot_items"
)

// Logical reports whether k combines child conditions.
func (k Kind) Logical() bool {
	return k == KindAnd || k == KindOr || k == KindNot
}

// Container returns the item container a resource kind counts in.
func (k Kind) Container() (Container, bool) {
	switch k {
	case KindInventoryItems:
		return ContainerInventory, true
	case KindBankItems:
		return ContainerBank, true
	case KindLootItems:
		return ContainerLoot, true
	default:
		return "", false
	}
}

// Condition is one node of a condition tree.
//
// Exactly one parameter block is set for leaf kinds; logical kinds use Children.
// Fields are exported so the plan document can carry the resolved values of
// randomized targets together with runtime state such as interval reference
// times and relative baselines.
type Condition struct {
	Kind     Kind         `json:"type"`
	Children []*Condition `json:"children,omitempty"`

	Interval *Interval   `json:"interval,omitempty"`
	Window   *TimeWindow `json:"window,omitempty"`
	Days     *DayOfWeek  `json:"days,omitempty"`
	Once     *Once       `json:"once,omitempty"`
	Skill    *Skill      `json:"skill,omitempty"`
	Items    *Items      `json:"items,omitempty"`
}

// Interval is satisfied once Every has elapsed since Since.
type Interval struct {
	Every      time.Duration
	Min        time.Duration
	Max        time.Duration
	Randomized bool
	Since      time.Time
	PausedAt   time.Time
}

type intervalJSON struct {
	Every      string    `json:"every"`
	Min        string    `json:"min,omitempty"`
	Max        string    `json:"max,omitempty"`
	Randomized bool      `json:"randomized,omitempty"`
	Since      time.Time `json:"since"`
	PausedAt   time.Time `json:"paused_at,omitzero"`
}

func (iv Interval) MarshalJSON() ([]byte, error) {
	w := intervalJSON{
		Every:      iv.Every.String(),
		Randomized: iv.Randomized,
		Since:      iv.Since,
		PausedAt:   iv.PausedAt,
	}
	if iv.Randomized {
		w.Min = iv.Min.String()
		w.Max = iv.Max.String()
	}
	return json.Marshal(w)
}

func (iv *Interval) UnmarshalJSON(b []byte) error {
	var w intervalJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	every, err := parseDur("interval.every", w.Every)
	if err != nil {
		return err
	}
	lo, err := parseDur("interval.min", w.Min)
	if err != nil {
		return err
	}
	hi, err := parseDur("interval.max", w.Max)
	if err != nil {
		return err
	}
	*iv = Interval{Every: every, Min: lo, Max: hi, Randomized: w.Randomized, Since: w.Since, PausedAt: w.PausedAt}
	return nil
}

func parseDur(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	return d, nil
}

// TimeWindow is satisfied while the time of day lies in [Start, End).
// Start after End wraps past midnight. Start equal to End covers the whole day.
type TimeWindow struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// DayOfWeek is satisfied on the listed days, optionally capped by run counts.
type DayOfWeek struct {
	Days       Weekdays `json:"days"`
	MaxPerDay  int      `json:"max_per_day,omitempty"`
	MaxPerWeek int      `json:"max_per_week,omitempty"`

	DayKey   string `json:"day_key,omitempty"`
	DayRuns  int    `json:"day_runs,omitempty"`
	WeekKey  string `json:"week_key,omitempty"`
	WeekRuns int    `json:"week_runs,omitempty"`
}

// Once is satisfied from At onwards. Created anchors the progress estimate.
type Once struct {
	At      time.Time `json:"at"`
	Created time.Time `json:"created,omitzero"`
}

// Skill targets a level (KindSkillLevel) or an experience total (KindSkillXP).
// Relative targets count the gain since Baseline, captured on Reset.
type Skill struct {
	Name        string `json:"name"`
	Target      int64  `json:"target"`
	Min         int64  `json:"min,omitempty"`
	Max         int64  `json:"max,omitempty"`
	Randomized  bool   `json:"randomized,omitempty"`
	Relative    bool   `json:"relative,omitempty"`
	Baseline    int64  `json:"baseline,omitempty"`
	HasBaseline bool   `json:"has_baseline,omitempty"`
}

// Items targets the summed count of items whose names match Pattern.
// The container is implied by the condition kind.
type Items struct {
	Pattern     string `json:"pattern"`
	Target      int    `json:"target"`
	Min         int    `json:"min,omitempty"`
	Max         int    `json:"max,omitempty"`
	Randomized  bool   `json:"randomized,omitempty"`
	Relative    bool   `json:"relative,omitempty"`
	Baseline    int    `json:"baseline,omitempty"`
	HasBaseline bool   `json:"has_baseline,omitempty"`
}

// ClockTime is a time of day with minute precision, encoded as "HH:MM".
type ClockTime struct {
	Hour   int
	Minute int
}

func Clock(h, m int) ClockTime { return ClockTime{Hour: h, Minute: m} }

// ParseClock parses "HH:MM" (24h).
func ParseClock(raw string) (ClockTime, error) {
	s := strings.TrimSpace(raw)
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q (want HH:MM)", raw)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c ClockTime) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ClockTime) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Weekdays encodes as short lowercase names ("mon", "tue", ...).
type Weekdays []time.Weekday

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekday accepts short or full English names, case-insensitive.
func ParseWeekday(raw string) (time.Weekday, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if len(s) >= 3 {
		if d, ok := weekdayNames[s[:3]]; ok {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", raw)
}

func (w Weekdays) contains(d time.Weekday) bool {
	for _, x := range w {
		if x == d {
			return true
		}
	}
	return false
}

func (w Weekdays) MarshalJSON() ([]byte, error) {
	if w == nil {
		return []byte("null"), nil
	}
	out := make([]string, 0, len(w))
	for _, d := range w {
		out = append(out, strings.ToLower(d.String()[:3]))
	}
	return json.Marshal(out)
}

func (w *Weekdays) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	if names == nil {
		*w = nil
		return nil
	}
	out := make(Weekdays, 0, len(names))
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return err
		}
		out = append(out, d)
	}
	*w = out
	return nil
}
