//go:build !linux

package systemd

import (
	"context"
	"errors"

	"pewsched/internal/runner"
	logx "pewsched/pkg/logx"
)

var ErrUnsupported = errors.New("systemd runner: unsupported OS (linux only)")

type Registry struct{}

func New(ctx context.Context, units map[string]string, log logx.Logger) (*Registry, error) {
	return nil, ErrUnsupported
}

func (r *Registry) SetUnits(units map[string]string) {}

func (r *Registry) Close() error { return nil }

func (r *Registry) ListAvailableTasks(ctx context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

func (r *Registry) Start(ctx context.Context, name string) error { return runner.UnknownTask(name) }

func (r *Registry) Stop(ctx context.Context, name string) error { return ErrUnsupported }

func (r *Registry) IsRunning(ctx context.Context, name string) bool { return false }
