// Package systemd is a task registry backed by systemd units.
//
// Start and stop only queue jobs; the scheduler observes the result through
// IsRunning on later ticks. ActiveState answers are cached for a short time.
package systemd
