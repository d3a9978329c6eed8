package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means zero. path
// names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// ParseDurationAtLeast is ParseDurationOrDefault that rejects explicit values
// below floor.
func ParseDurationAtLeast(path, raw string, def, floor time.Duration) (time.Duration, error) {
	d, err := ParseDurationOrDefault(path, raw, def)
	if err != nil {
		return 0, err
	}
	if d < floor {
		return 0, fmt.Errorf("%s: %s is below the minimum of %s", path, d, floor)
	}
	return d, nil
}
