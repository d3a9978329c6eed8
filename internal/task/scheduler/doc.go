// Package scheduler runs the condition-gated control loop.
//
// One goroutine owns the plan. Every tick it drains queued commands, takes a
// snapshot of the outside world, supervises the running entry or picks the
// next one, and publishes a read-only View. Nothing outside the loop touches
// entries or condition trees.
package scheduler
