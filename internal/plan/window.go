package plan

import (
	"fmt"
	"time"
)

// Window restricts an entry to [StartHour, EndHour) of each day. StartHour
// after EndHour wraps past midnight; equal hours allow the whole day. A nil
// window always allows.
type Window struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

func (w *Window) Allows(t time.Time) bool {
	if w == nil || w.StartHour == w.EndHour {
		return true
	}
	h := t.Hour()
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

func (w *Window) Validate() error {
	if w == nil {
		return nil
	}
	if w.StartHour < 0 || w.StartHour > 23 {
		return fmt.Errorf("window start_hour %d out of range 0-23", w.StartHour)
	}
	if w.EndHour < 0 || w.EndHour > 24 {
		return fmt.Errorf("window end_hour %d out of range 0-24", w.EndHour)
	}
	return nil
}

func (w *Window) String() string {
	if w == nil {
		return "any time"
	}
	return fmt.Sprintf("%02d:00-%02d:00", w.StartHour, w.EndHour)
}

// Duration is a time.Duration encoded as a Go duration string.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}
