// Package condition implements the predicate trees that gate schedule entries.
//
// A Condition is a closed tagged variant: Kind selects which parameter block is
// populated, and every operation dispatches on Kind with a switch. Leaves are
// evaluated against a Snapshot taken once per scheduler tick, so every condition
// inside a tick observes the same clock and the same polled values.
//
// Manager groups conditions into the start or stop gate of an entry. It keeps
// plugin-defined conditions apart from user conditions and latches one-time
// triggers.
package condition
