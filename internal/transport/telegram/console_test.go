package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"pewsched/internal/eventbus"
	"pewsched/internal/plan"
	"pewsched/internal/task/scheduler"
	logx "pewsched/pkg/logx"
)

type fakeScheduler struct {
	mu   sync.Mutex
	view scheduler.View
	cmds []scheduler.Command
	err  error
}

func (f *fakeScheduler) Snapshot() scheduler.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeScheduler) Do(_ context.Context, cmd scheduler.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return f.err
}

func sampleView() scheduler.View {
	return scheduler.View{
		State:   scheduler.StateWaitingForStopCondition,
		Current: "aaaa1111-0000-0000-0000-000000000001",
		Next:    "bbbb2222-0000-0000-0000-000000000002",
		Entries: []scheduler.EntryView{
			{ID: "aaaa1111-0000-0000-0000-000000000001", Name: "woodcutting", Enabled: true, Running: true, NextRunText: "Running"},
			{ID: "bbbb2222-0000-0000-0000-000000000002", Name: "fishing", Enabled: true, NextRunText: "in 5m 0s", Priority: 2},
			{ID: "bbbb3333-0000-0000-0000-000000000003", Name: "Fishing & <cooking>", Enabled: false, NextRunText: "Disabled"},
		},
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	v := sampleView()
	tests := []struct {
		arg     string
		want    string
		wantErr error
	}{
		{"aaaa1111-0000-0000-0000-000000000001", "woodcutting", nil},
		{"AAAA1111", "woodcutting", nil},
		{"bbbb2", "fishing", nil},
		{"WoodCutting", "woodcutting", nil},
		{"bbbb", "", ErrAmbiguous},
		{"aaa", "", ErrNoMatch},
		{"mining", "", ErrNoMatch},
		{"", "", ErrUsage},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			e, err := resolve(v, tt.arg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Name)
		})
	}
}

func TestRunDispatchesCommands(t *testing.T) {
	t.Parallel()
	f := &fakeScheduler{view: sampleView()}
	ctx := t.Context()

	out := run(ctx, f, "/startnow fishing")
	assert.Contains(t, out, "start requested")
	out = run(ctx, f, "/disable@pewsched_bot bbbb3333")
	assert.Contains(t, out, "Fishing &amp; &lt;cooking&gt;")
	run(ctx, f, "/pause")
	run(ctx, f, "/StopNow")

	require.Len(t, f.cmds, 4)
	assert.Equal(t, scheduler.StartNow{ID: "bbbb2222-0000-0000-0000-000000000002"}, f.cmds[0])
	assert.Equal(t, scheduler.SetEnabled{ID: "bbbb3333-0000-0000-0000-000000000003"}, f.cmds[1])
	assert.Equal(t, scheduler.Pause{}, f.cmds[2])
	assert.Equal(t, scheduler.StopNow{}, f.cmds[3])
}

func TestRunReportsErrors(t *testing.T) {
	t.Parallel()
	f := &fakeScheduler{view: sampleView(), err: scheduler.ErrInError}

	out := run(t.Context(), f, "/resume")
	assert.True(t, strings.HasPrefix(out, "❌"))
	assert.Contains(t, out, "reset first")

	out = run(t.Context(), f, "/confirm")
	assert.Contains(t, out, "/confirm &lt;id|name&gt;")

	assert.Equal(t, helpText(), run(t.Context(), f, "/bogus"))
	assert.Equal(t, helpText(), run(t.Context(), f, "   "))
}

func TestRenderStatus(t *testing.T) {
	t.Parallel()
	out := renderStatus(sampleView())
	assert.Contains(t, out, "WAITING_FOR_STOP_CONDITION")
	assert.Contains(t, out, "current: <b>woodcutting</b> <code>aaaa1111</code>")
	assert.Contains(t, out, "next: <b>fishing</b>")
	assert.Contains(t, out, "p2")
	assert.NotContains(t, out, "<cooking>")

	empty := renderStatus(scheduler.View{State: scheduler.StateReady, Paused: true})
	assert.Contains(t, empty, "(paused)")
	assert.Contains(t, empty, "plan is empty")
}

func TestRenderEntry(t *testing.T) {
	t.Parallel()
	e := scheduler.EntryView{
		ID: "x", Name: "agility", IntervalText: "every 1h0m0s", RunCount: 2, MaxRuns: 5,
		LastStopReason: plan.StopManual, Unsupervised: true,
		Start: scheduler.GateView{RequireAll: true, Met: 1, Total: 2, Progress: 50, Description: "ALL of (a, b)", Errors: []string{"client offline"}},
		Stop:  scheduler.GateView{Description: "no stop conditions"},
	}
	out := renderEntry(e)
	assert.Contains(t, out, "runs: 2/5")
	assert.Contains(t, out, "(manual_stop)")
	assert.Contains(t, out, "needs /confirm")
	assert.Contains(t, out, "<b>start</b> [ALL] 1/2 met, 50%")
	assert.Contains(t, out, "<b>stop</b> [ANY]")
	assert.Contains(t, out, "client offline")
}

func TestSplitTextKeepsTagsWhole(t *testing.T) {
	t.Parallel()
	var sb strings.Builder
	for i := range 400 {
		sb.WriteString("<b>line</b> ")
		sb.WriteString(strings.Repeat("x", i%17))
		sb.WriteString("\n")
	}
	chunks := splitText(sb.String(), 500)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 500)
		assert.Equal(t, strings.Count(c, "<b>"), strings.Count(c, "</b>"), "chunk %q", c)
	}
	assert.Equal(t, []string{"short"}, splitText("short", 0))
}

type delivery struct {
	chat   int64
	text   string
	markup *tele.ReplyMarkup
}

func recordingConsole(cfg Config) (*Console, func() []delivery) {
	c := newConsole(cfg, &fakeScheduler{}, eventbus.New(), logx.Nop())
	var mu sync.Mutex
	var got []delivery
	c.deliver = func(_ context.Context, chatID int64, text string, markup *tele.ReplyMarkup) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, delivery{chatID, text, markup})
		return nil
	}
	return c, func() []delivery {
		mu.Lock()
		defer mu.Unlock()
		return append([]delivery(nil), got...)
	}
}

func TestForwardEvents(t *testing.T) {
	t.Parallel()
	c, got := recordingConsole(Config{OwnerUserIDs: []int64{42}})
	ch := make(chan eventbus.Event, 8)
	ch <- eventbus.Event{Type: eventbus.TypeStateChanged, Data: scheduler.StateEvent{From: scheduler.StateReady, To: scheduler.StateScheduling}}
	ch <- eventbus.Event{Type: eventbus.TypeEntryStopped, Data: scheduler.EntryEvent{ID: "abcdef123456", Name: "fishing", Reason: plan.StopConditionsMet, Duration: 90 * time.Second}}
	ch <- eventbus.Event{Type: eventbus.TypeConfirmRequired, Data: scheduler.EntryEvent{ID: "feedbeef0000", Name: "agility"}}
	ch <- eventbus.Event{Type: eventbus.TypeSchedulerError, Data: scheduler.ErrorEvent{Err: "structural error: boom"}}
	close(ch)

	c.forwardEvents(t.Context(), ch)

	d := got()
	require.Len(t, d, 3, "state changes are not forwarded")
	for _, x := range d {
		assert.Equal(t, int64(42), x.chat)
	}
	assert.Contains(t, d[0].text, "conditions_met after 1m 30s")
	assert.Nil(t, d[0].markup)
	assert.Contains(t, d[1].text, "/confirm feedbeef")
	require.NotNil(t, d[1].markup)
	assert.Contains(t, d[2].text, "boom")
}

func TestNotifyTargetsConfiguredChat(t *testing.T) {
	t.Parallel()
	c, got := recordingConsole(Config{OwnerUserIDs: []int64{42}, ChatID: -100})
	require.NoError(t, c.Notify(t.Context(), "WRN stop <failed>"))
	d := got()
	require.Len(t, d, 1)
	assert.Equal(t, int64(-100), d[0].chat)
	assert.Equal(t, "<pre>WRN stop &lt;failed&gt;</pre>", d[0].text)

	assert.True(t, c.isOwner(42))
	assert.False(t, c.isOwner(7))
}

func TestNewRequiresTokenAndOwner(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, &fakeScheduler{}, nil, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{Token: "123:abc"}, &fakeScheduler{}, nil, logx.Nop())
	assert.Error(t, err)
}
