// Package plan holds the schedule entries and the plan document they are
// persisted in.
//
// An Entry pairs a task name with a cadence, an optional daily window and two
// condition managers (start and stop). The document keeps the full condition
// trees, including rolled randomized targets and runtime state, so reloading a
// plan does not change live thresholds.
package plan
