package storage

import (
	"context"
	"errors"
	"time"

	"pewsched/internal/plan"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrNoPlan is returned by LoadPlan when nothing was saved yet.
	ErrNoPlan = errors.New("no saved plan")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one finished run of an entry.
type RunRecord struct {
	EntryID  string          `json:"entry_id"`
	Name     string          `json:"name"`
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
	Duration time.Duration   `json:"duration"`
	Reason   plan.StopReason `json:"reason"`
	RunCount int             `json:"run_count"`
}

// Store is the persistence API used by the scheduler.
type Store interface {
	// LoadPlan returns the saved plan or ErrNoPlan.
	LoadPlan(ctx context.Context) (*plan.Document, error)
	// SavePlan replaces the saved plan. Either the whole document persists or none of it.
	SavePlan(ctx context.Context, doc *plan.Document) error
	AppendRun(ctx context.Context, r RunRecord) error
	// Runs returns up to limit records for entryID (all entries when empty), newest first.
	Runs(ctx context.Context, entryID string, limit int) ([]RunRecord, error)
	Close() error
}
