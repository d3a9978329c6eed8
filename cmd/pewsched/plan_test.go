package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pewsched/internal/condition"
	"pewsched/internal/plan"
)

func TestPrintPlan(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	e := plan.NewEntry("mining", plan.Every(90*time.Minute))
	e.ID = "0123456789abcdef"
	e.Priority = 2
	e.MaxRuns = 3
	e.Stop.Add(condition.NewInventoryItems("ore", 28, 28, nil), false)
	off := plan.NewEntry("fishing", plan.Once())
	off.Enabled = false

	var buf bytes.Buffer
	require.NoError(t, printPlan(&buf, &plan.Document{Entries: []*plan.Entry{off, e}}, now))
	out := buf.String()

	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789")
	assert.Contains(t, out, "0/3")
	assert.Contains(t, out, "Disabled")
	assert.Contains(t, out, `Inventory: 28 x "ore"`)
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("mining")), bytes.Index(buf.Bytes(), []byte("fishing")), "disabled entries go last")
}

func TestPlanValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(good, []byte("version: 1\nentries:\n  - name: agility\n    cadence: once\n    enabled: true\n"), 0o600))
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"entries":[{"name":""}]}`), 0o600))

	run := func(args ...string) (string, error) {
		root := newRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append(args, "--env", filepath.Join(dir, "missing.env")))
		err := root.Execute()
		return out.String(), err
	}

	out, err := run("plan", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "1 entries")

	_, err = run("plan", "validate", bad)
	assert.ErrorIs(t, err, plan.ErrInvalid)

	_, err = run("plan", "validate")
	assert.Error(t, err)
}
