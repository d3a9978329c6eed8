package plan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"pewsched/internal/condition"
)

// CadenceKind describes how an entry recurs.
type CadenceKind int

const (
	// CadenceOnce entries run a single time.
	CadenceOnce CadenceKind = iota
	CadenceInterval
	CadenceCron
)

func (k CadenceKind) String() string {
	switch k {
	case CadenceInterval:
		return "interval"
	case CadenceCron:
		return "cron"
	default:
		return "once"
	}
}

// Cadence is the recurrence rule of an entry.
//
// Text forms (ParseCadence):
//   - "" or "once": run once
//   - interval: "55m", "2h30m", "1d", "02:30" (2h30m), "interval:45m", "every:3h"
//   - cron (robfig/cron, seconds optional): "*/5 * * * *", "@hourly", "cron:0 9 * * 1-5"
type Cadence struct {
	Kind  CadenceKind
	Every time.Duration
	Cron  string
}

// cronParser accepts both 5-field and 6-field (with seconds) specs plus descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var (
	reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reDays = regexp.MustCompile(`^\s*(\d{1,3})d\s*$`)
)

func Once() Cadence { return Cadence{Kind: CadenceOnce} }

func Every(d time.Duration) Cadence { return Cadence{Kind: CadenceInterval, Every: d} }

// Cron parses expr into a cron cadence.
func Cron(expr string) (Cadence, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Cadence{}, fmt.Errorf("%w: cron expression required", ErrInvalid)
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Cadence{}, fmt.Errorf("%w: cron %q: %v", ErrInvalid, expr, err)
	}
	return Cadence{Kind: CadenceCron, Cron: expr}, nil
}

// ParseCadence parses the text forms listed on Cadence.
func ParseCadence(raw string) (Cadence, error) {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	switch {
	case s == "" || low == "once":
		return Once(), nil
	case strings.HasPrefix(low, "cron:"):
		return Cron(s[len("cron:"):])
	case strings.HasPrefix(low, "interval:"):
		return parseIntervalCadence(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseIntervalCadence(s[len("every:"):])
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		// any whitespace or a leading '@' means cron
		return Cron(s)
	}
	c, err := parseIntervalCadence(s)
	if err != nil {
		return Cadence{}, fmt.Errorf(
			"%w: cadence %q (use cron like '*/5 * * * *', HH:MM like '02:30', or a duration like '55m' or '1d')",
			ErrInvalid, raw,
		)
	}
	return c, nil
}

func parseIntervalCadence(v string) (Cadence, error) {
	d, err := parseInterval(v)
	if err != nil {
		return Cadence{}, err
	}
	return Every(d), nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("%w: interval required", ErrInvalid)
	}
	var d time.Duration
	switch {
	case reHHMM.MatchString(v):
		m := reHHMM.FindStringSubmatch(v)
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("%w: invalid minutes in %q", ErrInvalid, v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	case reDays.MatchString(v):
		n, _ := strconv.Atoi(reDays.FindStringSubmatch(v)[1])
		d = time.Duration(n) * 24 * time.Hour
	default:
		var err error
		d, err = time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid interval %q", ErrInvalid, v)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: interval must be > 0", ErrInvalid)
	}
	return d, nil
}

// String renders the canonical text form accepted by ParseCadence.
func (c Cadence) String() string {
	switch c.Kind {
	case CadenceInterval:
		return "every:" + c.Every.String()
	case CadenceCron:
		return "cron:" + c.Cron
	default:
		return "once"
	}
}

func (c Cadence) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Cadence) UnmarshalText(b []byte) error {
	v, err := ParseCadence(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Next returns the next slot strictly after from, evaluated in loc.
// It returns the zero time for run-once cadences.
func (c Cadence) Next(from time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	switch c.Kind {
	case CadenceInterval:
		return from.Add(c.Every)
	case CadenceCron:
		s, err := cronParser.Parse(c.Cron)
		if err != nil {
			return time.Time{}
		}
		return s.Next(from.In(loc))
	default:
		return time.Time{}
	}
}

// Describe returns a short human text ("Every 1h 0m", "Cron @hourly", "Once").
func (c Cadence) Describe() string {
	switch c.Kind {
	case CadenceInterval:
		return "Every " + condition.FormatDuration(c.Every)
	case CadenceCron:
		return "Cron " + c.Cron
	default:
		return "Once"
	}
}
