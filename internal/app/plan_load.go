package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"pewsched/internal/config"
	"pewsched/internal/plan"
	"pewsched/internal/runner"
	"pewsched/internal/storage"
	logx "pewsched/pkg/logx"
)

// ReadPlanFile decodes the plan document at path.
func ReadPlanFile(path string) (*plan.Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := plan.Decode(path, b)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return doc, nil
}

// loadInitialPlan prefers the stored plan. The plan file is only imported
// when storage is disabled or holds nothing yet; without either the scheduler
// starts empty.
func loadInitialPlan(ctx context.Context, store storage.Store, path string, log logx.Logger) (*plan.Document, string, error) {
	if store != nil {
		doc, err := store.LoadPlan(ctx)
		switch {
		case err == nil:
			return doc, "storage", nil
		case !errors.Is(err, storage.ErrNoPlan):
			return nil, "", fmt.Errorf("load stored plan: %w", err)
		}
		log.Debug("storage holds no plan")
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return &plan.Document{Version: plan.DocumentVersion}, "empty", nil
	}
	doc, err := ReadPlanFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("plan file not found; starting empty", logx.String("path", path))
		return &plan.Document{Version: plan.DocumentVersion}, "empty", nil
	}
	if err != nil {
		return nil, "", err
	}
	return doc, "file", nil
}

// OpenStore opens the configured store. It returns nil when storage is disabled.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	return storage.Open(sc, log)
}

// LoadPlan reads the plan the scheduler would start with, without starting it.
func LoadPlan(ctx context.Context, cfg *config.Config, log logx.Logger) (*plan.Document, string, error) {
	st, err := OpenStore(cfg, log)
	if err != nil {
		return nil, "", err
	}
	if st != nil {
		defer st.Close()
	}
	return loadInitialPlan(ctx, st, cfg.Plan.Path, log)
}

// CheckTasks reports plan entries naming tasks the runner config does not define.
func CheckTasks(doc *plan.Document, rc config.RunnerConfig) error {
	var errs []error
	for _, e := range doc.Entries {
		if _, ok := rc.Tasks[e.Name]; !ok {
			errs = append(errs, fmt.Errorf("entry %s: %w: %q", e.ID, runner.ErrUnknownTask, e.Name))
		}
	}
	return errors.Join(errs...)
}
