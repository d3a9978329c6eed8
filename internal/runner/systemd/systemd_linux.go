//go:build linux

package systemd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"

	"pewsched/internal/runner"
	logx "pewsched/pkg/logx"
)

// Registry maps task names to systemd units and drives them over D-Bus.
type Registry struct {
	log   logx.Logger
	cache *stateCache

	mu    sync.RWMutex
	conn  *dbus.Conn
	units map[string]string
}

// New connects to the system bus. units maps task name to unit name; a bare
// name gets the ".service" suffix.
func New(ctx context.Context, units map[string]string, log logx.Logger) (*Registry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	r := &Registry{
		log:   log.Component("runner").With(logx.String("driver", "systemd")),
		cache: newStateCache(0, 0),
		conn:  conn,
	}
	r.SetUnits(units)
	return r, nil
}

// SetUnits replaces the task table.
func (r *Registry) SetUnits(units map[string]string) {
	cp := make(map[string]string, len(units))
	for k, v := range units {
		if v == "" {
			v = k
		}
		cp[k] = UnitName(v)
	}
	r.mu.Lock()
	r.units = cp
	r.mu.Unlock()
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	return nil
}

// ListAvailableTasks returns the configured tasks whose unit is loaded.
func (r *Registry) ListAvailableTasks(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil {
		return nil, runner.ErrClosed
	}
	var out []string
	for _, name := range runner.SortedNames(r.units) {
		if ok, err := r.existsLocked(ctx, r.units[name]); err != nil {
			return nil, err
		} else if ok {
			out = append(out, name)
		}
	}
	return out, nil
}

func (r *Registry) existsLocked(ctx context.Context, unit string) (bool, error) {
	props, err := r.conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		return false, err
	}
	loadState, _ := getStringProperty(props, "LoadState")
	return loadState != "not-found", nil
}

func (r *Registry) unit(name string) (string, error) {
	u, ok := r.units[name]
	if !ok {
		return "", runner.UnknownTask(name)
	}
	return u, nil
}

// Start queues a start job and returns without waiting for it.
func (r *Registry) Start(ctx context.Context, name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil {
		return runner.ErrClosed
	}
	unit, err := r.unit(name)
	if err != nil {
		return err
	}
	if ok, err := r.existsLocked(ctx, unit); err != nil {
		return fmt.Errorf("failed to query %s: %w", unit, err)
	} else if !ok {
		return runner.UnknownTask(name)
	}
	r.cache.invalidate(unit)
	if _, err := r.conn.StartUnitContext(ctx, unit, "replace", nil); err != nil {
		return fmt.Errorf("failed to start %s: %w", unit, err)
	}
	r.log.Info("unit start queued", logx.String("task", name), logx.String("unit", unit))
	return nil
}

// Stop queues a stop job. A unit that is already down reports ErrNotRunning.
func (r *Registry) Stop(ctx context.Context, name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil {
		return runner.ErrClosed
	}
	unit, err := r.unit(name)
	if err != nil {
		return err
	}
	state, err := r.activeStateLocked(ctx, unit, false)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", unit, err)
	}
	if !running(state) {
		return runner.NotRunning(name)
	}
	r.cache.invalidate(unit)
	if _, err := r.conn.StopUnitContext(ctx, unit, "replace", nil); err != nil {
		return fmt.Errorf("failed to stop %s: %w", unit, err)
	}
	r.log.Info("unit stop queued", logx.String("task", name), logx.String("unit", unit))
	return nil
}

func (r *Registry) IsRunning(ctx context.Context, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil {
		return false
	}
	unit, err := r.unit(name)
	if err != nil {
		return false
	}
	state, err := r.activeStateLocked(ctx, unit, true)
	if err != nil {
		r.log.Debug("unit state unavailable", logx.String("unit", unit), logx.Err(err))
		return false
	}
	return running(state)
}

func (r *Registry) activeStateLocked(ctx context.Context, unit string, cached bool) (string, error) {
	now := time.Now()
	if cached {
		if s, ok := r.cache.get(unit, now); ok {
			return s, nil
		}
	}
	props, err := r.conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		return "", err
	}
	s, _ := getStringProperty(props, "ActiveState")
	r.cache.put(unit, s, now)
	return s, nil
}

func getStringProperty(props map[string]interface{}, key string) (string, bool) {
	if val, ok := props[key].(string); ok {
		return val, true
	}
	return "", false
}
