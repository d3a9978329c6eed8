// Package process is a task registry that runs each task as a local command.
package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"pewsched/internal/runner"
	logx "pewsched/pkg/logx"
)

const defaultStopGrace = 10 * time.Second

// Task describes one runnable command.
type Task struct {
	Command   []string
	Dir       string
	Env       map[string]string
	StopGrace time.Duration
}

type proc struct {
	cmd      *exec.Cmd
	done     chan struct{}
	stopping bool
}

// Registry starts and stops commands by task name. At most one process per
// task is alive at a time.
type Registry struct {
	log logx.Logger

	mu     sync.Mutex
	tasks  map[string]Task
	procs  map[string]*proc
	exits  map[string]Exit
	closed bool
}

// Exit is the last observed end of a task process.
type Exit struct {
	At  time.Time
	Err error
}

func New(tasks map[string]Task, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	cp := make(map[string]Task, len(tasks))
	for k, v := range tasks {
		v.Command = append([]string(nil), v.Command...)
		cp[k] = v
	}
	return &Registry{
		log:   log.Component("runner").With(logx.String("driver", "process")),
		tasks: cp,
		procs: map[string]*proc{},
		exits: map[string]Exit{},
	}
}

// SetTasks replaces the task table. Running processes keep running and can
// still be stopped while their name remains configured.
func (r *Registry) SetTasks(tasks map[string]Task) {
	cp := make(map[string]Task, len(tasks))
	for k, v := range tasks {
		v.Command = append([]string(nil), v.Command...)
		cp[k] = v
	}
	r.mu.Lock()
	r.tasks = cp
	r.mu.Unlock()
}

func (r *Registry) ListAvailableTasks(ctx context.Context) ([]string, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	return runner.SortedNames(r.tasks), nil
}

// Start launches the task's command and returns once the process exists.
// Starting a task that is already running is a no-op.
func (r *Registry) Start(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return runner.ErrClosed
	}
	t, ok := r.tasks[name]
	if !ok || len(t.Command) == 0 {
		return runner.UnknownTask(name)
	}
	if _, running := r.procs[name]; running {
		return nil
	}

	// The process outlives ctx, so it is not bound to it.
	cmd := exec.Command(t.Command[0], t.Command[1:]...)
	cmd.Dir = t.Dir
	if len(t.Env) > 0 {
		env := os.Environ()
		for k, v := range t.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	log := r.log.With(logx.String("task", name))
	out := &lineLogger{log: log}
	cmd.Stdout = out
	cmd.Stderr = out
	// grandchildren holding the output pipes must not block the reaper
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return err
	}
	p := &proc{cmd: cmd, done: make(chan struct{})}
	r.procs[name] = p
	log.Info("task started", logx.Int("pid", cmd.Process.Pid))

	go r.wait(name, p, log)
	return nil
}

func (r *Registry) wait(name string, p *proc, log logx.Logger) {
	err := p.cmd.Wait()
	close(p.done)

	r.mu.Lock()
	if r.procs[name] == p {
		delete(r.procs, name)
	}
	r.exits[name] = Exit{At: time.Now(), Err: err}
	stopping := p.stopping
	r.mu.Unlock()

	switch {
	case err == nil:
		log.Info("task exited")
	case stopping:
		log.Info("task stopped", logx.String("status", err.Error()))
	default:
		log.Warn("task exited with error", logx.Err(err))
	}
}

// Stop asks the process to terminate and escalates to a kill after the
// task's stop grace. It does not wait for the exit.
func (r *Registry) Stop(ctx context.Context, name string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[name]
	p, running := r.procs[name]
	if !ok && !running {
		return runner.UnknownTask(name)
	}
	if !running {
		return runner.NotRunning(name)
	}
	if p.stopping {
		// re-issued stop: signal again, keep the first kill timer
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
		return nil
	}
	p.stopping = true
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return runner.NotRunning(name)
		}
		// platforms without SIGTERM
		return p.cmd.Process.Kill()
	}

	grace := t.StopGrace
	if grace <= 0 {
		grace = defaultStopGrace
	}
	go func() {
		select {
		case <-p.done:
		case <-time.After(grace):
			r.log.Warn("task ignored stop signal, killing", logx.String("task", name), logx.Duration("grace", grace))
			_ = p.cmd.Process.Kill()
		}
	}()
	return nil
}

func (r *Registry) IsRunning(ctx context.Context, name string) bool {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.procs[name]
	return ok
}

// LastExit reports how the task's most recent process ended.
func (r *Registry) LastExit(name string) (Exit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.exits[name]
	return e, ok
}

// Close kills every running process and waits for them to be reaped.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	procs := make([]*proc, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	for _, p := range procs {
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	return nil
}

// lineLogger forwards process output to the log, one entry per line.
type lineLogger struct {
	log logx.Logger
	mu  sync.Mutex
	buf []byte
}

const maxLine = 4096

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

func (w *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.log.Debug("task output", logx.String("line", string(line)))
}
