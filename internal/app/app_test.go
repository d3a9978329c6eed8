package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pewsched/internal/config"
	"pewsched/internal/plan"
	"pewsched/internal/runner"
	"pewsched/internal/storage"
	"pewsched/internal/task/scheduler"
	logx "pewsched/pkg/logx"
)

const agilityPlan = `{"version":1,"entries":[{"name":"agility","cadence":"once","enabled":true,"allow_random_scheduling":false,"priority":0,"run_count":0}]}`

func ptr[T any](v T) *T { return &v }

func TestMapSchedulerConfig(t *testing.T) {
	t.Parallel()

	got, err := mapSchedulerConfig(&config.Config{})
	require.NoError(t, err)
	want := scheduler.DefaultConfig()
	assert.Equal(t, want, got)

	got, err = mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{
		Tick:                    "250ms",
		Timezone:                "Europe/Amsterdam",
		StopAckTicks:            10,
		StopRetryTicks:          2,
		RequireStopConfirmation: ptr(false),
		Autosave:                ptr(false),
		RemoveCompletedOneTime:  true,
	}})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, got.Tick)
	assert.Equal(t, "Europe/Amsterdam", got.Location.String())
	assert.Equal(t, 10, got.StopAckTicks)
	assert.Equal(t, 2, got.StopRetryTicks)
	assert.False(t, got.RequireStopConfirmation)
	assert.False(t, got.Autosave)
	assert.True(t, got.RemoveCompletedOneTime)

	_, err = mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{Timezone: "Mars/Olympus"}})
	assert.Error(t, err)
	_, err = mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{Tick: "soon"}})
	assert.Error(t, err)
	_, err = mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{Tick: "1ms"}})
	assert.ErrorContains(t, err, "minimum")
}

func TestSchedulerRandFollowsSeed(t *testing.T) {
	t.Parallel()
	assert.Nil(t, schedulerRand(&config.Config{}))

	cfg := &config.Config{Scheduler: config.SchedulerConfig{Seed: 9}}
	a, b := schedulerRand(cfg), schedulerRand(cfg)
	require.NotNil(t, a)
	assert.Equal(t, a.Int63n(1000), b.Int63n(1000))
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      *config.StorageConfig
		want    storage.Config
		enabled bool
		wantErr bool
	}{
		{name: "absent"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: " ./data/plan "}, want: storage.Config{Driver: "file", Path: "./data/plan"}, enabled: true},
		{name: "sqlite default busy", in: &config.StorageConfig{Driver: "SQLite", Path: "x.db"}, want: storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: time.Second}, enabled: true},
		{name: "sqlite busy", in: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"}, want: storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: 3 * time.Second}, enabled: true},
		{name: "sqlite needs path", in: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, enabled, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, enabled)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapTelegramConfig(t *testing.T) {
	t.Parallel()
	_, enabled, err := mapTelegramConfig(&config.Config{Telegram: &config.TelegramConfig{Token: "x"}})
	require.NoError(t, err)
	assert.False(t, enabled)

	got, enabled, err := mapTelegramConfig(&config.Config{Telegram: &config.TelegramConfig{
		Enabled:      true,
		Token:        " abc ",
		OwnerUserIDs: []int64{7},
		ChatID:       -100,
	}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "abc", got.Token)
	assert.Equal(t, 10*time.Second, got.PollTimeout)
	assert.Equal(t, []int64{7}, got.OwnerUserIDs)
	assert.Equal(t, int64(-100), got.ChatID)
}

func TestMapRunnerTasks(t *testing.T) {
	t.Parallel()
	rc := config.RunnerConfig{Tasks: map[string]config.TaskConfig{
		"mining":  {Command: []string{"bot", "--mine"}, StopGrace: "5s", Unit: "mine.service"},
		"fishing": {Command: []string{"bot", "--fish"}},
	}}
	tasks, err := mapProcessTasks(rc)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, tasks["mining"].StopGrace)
	assert.Zero(t, tasks["fishing"].StopGrace)
	assert.Equal(t, []string{"bot", "--fish"}, tasks["fishing"].Command)

	units := mapSystemdUnits(rc)
	assert.Equal(t, map[string]string{"mining": "mine.service", "fishing": "fishing"}, units)

	rc.Tasks["broken"] = config.TaskConfig{Command: []string{"x"}, StopGrace: "later"}
	_, err = mapProcessTasks(rc)
	assert.Error(t, err)
}

func TestLoadInitialPlan(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(planPath, []byte(agilityPlan), 0o600))

	t.Run("no store no file", func(t *testing.T) {
		doc, source, err := loadInitialPlan(t.Context(), nil, "", logx.Nop())
		require.NoError(t, err)
		assert.Equal(t, "empty", source)
		assert.Empty(t, doc.Entries)
	})
	t.Run("missing file", func(t *testing.T) {
		doc, source, err := loadInitialPlan(t.Context(), nil, filepath.Join(dir, "nope.json"), logx.Nop())
		require.NoError(t, err)
		assert.Equal(t, "empty", source)
		assert.Empty(t, doc.Entries)
	})
	t.Run("file", func(t *testing.T) {
		doc, source, err := loadInitialPlan(t.Context(), nil, planPath, logx.Nop())
		require.NoError(t, err)
		assert.Equal(t, "file", source)
		require.Len(t, doc.Entries, 1)
		assert.Equal(t, "agility", doc.Entries[0].Name)
	})
	t.Run("invalid file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{"entries":[{"name":"x","bogus":1}]}`), 0o600))
		_, _, err := loadInitialPlan(t.Context(), nil, bad, logx.Nop())
		assert.ErrorIs(t, err, plan.ErrInvalid)
	})
	t.Run("store wins over file", func(t *testing.T) {
		st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
		require.NoError(t, err)
		defer st.Close()

		// empty store falls back to the file
		doc, source, err := loadInitialPlan(t.Context(), st, planPath, logx.Nop())
		require.NoError(t, err)
		assert.Equal(t, "file", source)

		doc.Entries[0].Name = "stored"
		require.NoError(t, st.SavePlan(t.Context(), doc))
		doc, source, err = loadInitialPlan(t.Context(), st, planPath, logx.Nop())
		require.NoError(t, err)
		assert.Equal(t, "storage", source)
		assert.Equal(t, "stored", doc.Entries[0].Name)
	})
}

func TestAppStartStop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(planPath, []byte(`{"version":1,"entries":[]}`), 0o600))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
logging:
  level: error
  console: false
scheduler:
  tick: 50ms
plan:
  path: `+planPath+`
storage:
  driver: file
  path: `+filepath.Join(dir, "data", "sched")+`
runner:
  driver: process
  tasks: {}
`), 0o600))

	a, err := New(t.Context(), cfgPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	assert.Eventually(t, func() bool {
		return a.Scheduler().Snapshot().State == scheduler.StateReady
	}, 5*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))
	<-a.Done()
	assert.NoError(t, a.Err())
	assert.Equal(t, scheduler.StateShutdown, a.Scheduler().Snapshot().State)

	_, err = os.Stat(filepath.Join(dir, "data", "sched.plan.json"))
	assert.NoError(t, err, "shutdown flushes the plan")
}

func TestCheckTasks(t *testing.T) {
	t.Parallel()
	doc := &plan.Document{Entries: []*plan.Entry{
		plan.NewEntry("mining", plan.Once()),
		plan.NewEntry("fishing", plan.Once()),
	}}
	rc := config.RunnerConfig{Tasks: map[string]config.TaskConfig{"mining": {Command: []string{"bot"}}}}

	err := CheckTasks(doc, rc)
	require.ErrorIs(t, err, runner.ErrUnknownTask)
	assert.Contains(t, err.Error(), `"fishing"`)
	assert.NotContains(t, err.Error(), `"mining"`)

	rc.Tasks["fishing"] = config.TaskConfig{Command: []string{"bot"}}
	assert.NoError(t, CheckTasks(doc, rc))
}

func TestMapDebugConfig(t *testing.T) {
	t.Parallel()
	_, enabled, err := mapDebugConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	got, enabled, err := mapDebugConfig(&config.Config{Debug: &config.DebugConfig{
		Enabled: true,
		Addr:    " 127.0.0.1:7070 ",
		Token:   " t ",
	}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "127.0.0.1:7070", got.Addr)
	assert.Equal(t, "t", got.Token)
	assert.Equal(t, 5*time.Second, got.ReadTimeout)
	assert.Zero(t, got.WriteTimeout)
	assert.Equal(t, time.Minute, got.IdleTimeout)

	_, _, err = mapDebugConfig(&config.Config{Debug: &config.DebugConfig{Enabled: true, IdleTimeout: "x"}})
	assert.Error(t, err)
}
