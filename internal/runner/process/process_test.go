package process

import (
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pewsched/internal/runner"
	logx "pewsched/pkg/logx"
)

func needUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs unix commands")
	}
	for _, bin := range []string{"sleep", "true"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found", bin)
		}
	}
}

func TestUnknownTask(t *testing.T) {
	t.Parallel()
	r := New(map[string]Task{"empty": {}}, logx.Nop())
	ctx := t.Context()

	assert.ErrorIs(t, r.Start(ctx, "nope"), runner.ErrUnknownTask)
	assert.ErrorIs(t, r.Start(ctx, "empty"), runner.ErrUnknownTask, "no command")
	assert.ErrorIs(t, r.Stop(ctx, "nope"), runner.ErrUnknownTask)
	assert.ErrorIs(t, r.Stop(ctx, "empty"), runner.ErrNotRunning)

	names, err := r.ListAvailableTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"empty"}, names)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	needUnix(t)
	r := New(map[string]Task{
		"mining": {Command: []string{"sleep", "30"}, StopGrace: 2 * time.Second},
	}, logx.Nop())
	t.Cleanup(func() { _ = r.Close() })
	ctx := t.Context()

	require.NoError(t, r.Start(ctx, "mining"))
	assert.True(t, r.IsRunning(ctx, "mining"))
	require.NoError(t, r.Start(ctx, "mining"), "second start is a no-op")

	require.NoError(t, r.Stop(ctx, "mining"))
	if err := r.Stop(ctx, "mining"); err != nil {
		// the first signal may already have been reaped
		assert.ErrorIs(t, err, runner.ErrNotRunning)
	}
	require.Eventually(t, func() bool { return !r.IsRunning(ctx, "mining") }, 5*time.Second, 10*time.Millisecond)

	exit, ok := r.LastExit("mining")
	require.True(t, ok)
	assert.Error(t, exit.Err, "terminated by signal")
	assert.ErrorIs(t, r.Stop(ctx, "mining"), runner.ErrNotRunning)
}

func TestTaskFinishesOnItsOwn(t *testing.T) {
	t.Parallel()
	needUnix(t)
	r := New(map[string]Task{"quick": {Command: []string{"true"}}}, logx.Nop())
	ctx := t.Context()

	require.NoError(t, r.Start(ctx, "quick"))
	require.Eventually(t, func() bool { return !r.IsRunning(ctx, "quick") }, 5*time.Second, 10*time.Millisecond)
	exit, ok := r.LastExit("quick")
	require.True(t, ok)
	assert.NoError(t, exit.Err)
}

func TestClosedRegistryRefusesStart(t *testing.T) {
	t.Parallel()
	r := New(map[string]Task{"a": {Command: []string{"true"}}}, logx.Nop())
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Start(t.Context(), "a"), runner.ErrClosed)
}

func TestLineLoggerSplitsOutput(t *testing.T) {
	t.Parallel()
	w := &lineLogger{log: logx.Nop()}
	n, err := w.Write([]byte("one\ntw"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "tw", string(w.buf))
	_, _ = w.Write([]byte("o\r\n"))
	assert.Empty(t, w.buf)
}
