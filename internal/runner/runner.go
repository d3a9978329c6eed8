// Package runner holds what task registry drivers share.
//
// Drivers live in subpackages: process runs local commands, systemd drives
// units over D-Bus. Both report failures with the sentinels below so the
// scheduler can tell a broken plan from a flaky host.
package runner

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnknownTask means the plan names a task the registry cannot run.
	ErrUnknownTask = errors.New("unknown task")
	// ErrNotRunning is returned by Stop for a task that is already down.
	ErrNotRunning = errors.New("task not running")
	ErrClosed     = errors.New("registry closed")
)

// UnknownTask wraps ErrUnknownTask with the task name.
func UnknownTask(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownTask, name)
}

// NotRunning wraps ErrNotRunning with the task name.
func NotRunning(name string) error {
	return fmt.Errorf("%w: %q", ErrNotRunning, name)
}

// SortedNames returns the keys of m in order.
func SortedNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
