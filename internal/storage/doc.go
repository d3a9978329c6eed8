// Package storage persists the scheduling plan and the run history.
//
// Drivers:
//   - "file": plan document written atomically (temp file + fsync + rename)
//     plus an append-only JSON Lines run log
//   - "sqlite": one database file; the plan is replaced in a single transaction
package storage
