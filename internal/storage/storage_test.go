package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pewsched/internal/condition"
	"pewsched/internal/plan"
	logx "pewsched/pkg/logx"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "state", "pewsched.db")}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func samplePlan() *plan.Document {
	mine := plan.NewEntry("mining", plan.Every(time.Hour))
	mine.Priority = 2
	mine.Stop.Add(condition.NewSkillLevel("Mining", 60), false)
	daily, err := plan.Cron("0 9 * * *")
	if err != nil {
		panic(err)
	}
	fish := plan.NewEntry("fishing", daily)
	fish.MaxRunDuration = plan.Duration(30 * time.Minute)
	return &plan.Document{Version: plan.DocumentVersion, Entries: []*plan.Entry{mine, fish}}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Logger{})
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestPlanRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openDriver(t, driver)
			ctx := t.Context()

			_, err := st.LoadPlan(ctx)
			require.ErrorIs(t, err, ErrNoPlan)

			doc := samplePlan()
			require.NoError(t, st.SavePlan(ctx, doc))
			got, err := st.LoadPlan(ctx)
			require.NoError(t, err)
			require.Len(t, got.Entries, 2)
			for i, e := range doc.Entries {
				assert.Equal(t, e.ID, got.Entries[i].ID)
				assert.Equal(t, e.Name, got.Entries[i].Name)
				assert.Equal(t, e.Cadence, got.Entries[i].Cadence)
				assert.Equal(t, e.Stop.Describe(), got.Entries[i].Stop.Describe())
			}
			assert.Equal(t, plan.Duration(30*time.Minute), got.Entries[1].MaxRunDuration)

			// a second save replaces the first one entirely
			doc.Entries = doc.Entries[1:]
			require.NoError(t, st.SavePlan(ctx, doc))
			got, err = st.LoadPlan(ctx)
			require.NoError(t, err)
			require.Len(t, got.Entries, 1)
			assert.Equal(t, "fishing", got.Entries[0].Name)
		})
	}
}

func TestRunHistory(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openDriver(t, driver)
			ctx := t.Context()

			for i := range 3 {
				start := t0.Add(time.Duration(i) * time.Hour)
				require.NoError(t, st.AppendRun(ctx, RunRecord{
					EntryID:  "a",
					Name:     "mining",
					Start:    start,
					End:      start.Add(20 * time.Minute),
					Duration: 20 * time.Minute,
					Reason:   plan.StopConditionsMet,
					RunCount: i + 1,
				}))
			}
			require.NoError(t, st.AppendRun(ctx, RunRecord{EntryID: "b", Name: "fishing", Start: t0, End: t0, Reason: plan.StopManual}))

			all, err := st.Runs(ctx, "", 0)
			require.NoError(t, err)
			assert.Len(t, all, 4)
			assert.Equal(t, "b", all[0].EntryID, "newest first")

			recent, err := st.Runs(ctx, "A", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, 3, recent[0].RunCount)
			assert.Equal(t, 2, recent[1].RunCount)
			assert.True(t, recent[0].Start.Equal(t0.Add(2*time.Hour)))
			assert.Equal(t, 20*time.Minute, recent[0].Duration)
			assert.Equal(t, plan.StopConditionsMet, recent[0].Reason)
		})
	}
}

func TestFileStoreSkipsTornRunLine(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pewsched.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.AppendRun(t.Context(), RunRecord{EntryID: "a", Name: "mining", Start: t0, End: t0}))
	f, err := os.OpenFile(filepath.Join(filepath.Dir(path), "pewsched.runs.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"entry_id":"a","na`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	runs, err := st.Runs(t.Context(), "a", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "pewsched.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	for range 3 {
		require.NoError(t, st.SavePlan(t.Context(), samplePlan()))
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
