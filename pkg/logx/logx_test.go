package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	assert.False(t, l.With(String("comp", "x")).IsZero())
	assert.False(t, Nop().IsZero())
}

func TestFormatLine(t *testing.T) {
	t.Parallel()
	got := formatLine([]byte(`{"level":"warn","message":"stop timeout","time":"x","entry":"mining","attempts":3}` + "\n"))
	assert.Equal(t, "[WARN] stop timeout\n- attempts=3\n- entry=mining", got)

	assert.Equal(t, "plain text", formatLine([]byte("  plain text \n")))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestNotifySinkHonoursMinLevel(t *testing.T) {
	t.Parallel()
	svc, log := New(Config{
		Level:  "debug",
		File:   FileConfig{Enabled: true, Path: t.TempDir() + "/test.log"},
		Notify: NotifyConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	})
	t.Cleanup(func() { _ = svc.Close() })
	n := &recordingNotifier{}
	svc.SetNotifier(n)

	log.Info("quiet")
	log.Warn("loud", String("entry", "fishing"))

	require.Eventually(t, func() bool { return len(n.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := n.all()[0]
	assert.True(t, strings.HasPrefix(msg, "[WARN] loud"), msg)
	assert.Contains(t, msg, "entry=fishing")
}
