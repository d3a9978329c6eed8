package statefile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pewsched/internal/condition"
	logx "pewsched/pkg/logx"
)

const yamlState = `
session_start: 2026-03-02T08:00:00Z
skills:
  Mining: {level: 57, xp: 220000}
inventory:
  Iron ore: 14
bank:
  Coal: 340
`

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestPollerReadsYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.yaml")
	write(t, path, yamlState)
	p := New(path, logx.Nop())
	ctx := t.Context()

	skills, err := p.Skills(ctx)
	require.NoError(t, err)
	assert.Equal(t, condition.SkillStat{Level: 57, XP: 220000}, skills["Mining"])

	inv, err := p.Items(ctx, condition.ContainerInventory)
	require.NoError(t, err)
	assert.Equal(t, 14, inv["Iron ore"])

	loot, err := p.Items(ctx, condition.ContainerLoot)
	require.NoError(t, err)
	assert.Empty(t, loot)

	assert.True(t, p.SessionStart().Equal(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)))
}

func TestPollerPicksUpChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	write(t, path, `{"bank":{"Coal":1}}`)
	p := New(path, logx.Nop())

	bank, err := p.Items(t.Context(), condition.ContainerBank)
	require.NoError(t, err)
	assert.Equal(t, 1, bank["Coal"])

	write(t, path, `{"bank":{"Coal":250}}`)
	// some filesystems have coarse mtimes; the size change is enough
	bank, err = p.Items(t.Context(), condition.ContainerBank)
	require.NoError(t, err)
	assert.Equal(t, 250, bank["Coal"])
}

func TestPollerReportsErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := New(filepath.Join(dir, "missing.json"), logx.Nop())
	_, err := p.Skills(t.Context())
	assert.ErrorIs(t, err, ErrNoState)
	assert.True(t, p.SessionStart().IsZero())

	bad := filepath.Join(dir, "bad.json")
	write(t, bad, `{"skils":{}}`)
	_, err = New(bad, logx.Nop()).Skills(t.Context())
	assert.Error(t, err, "unknown fields are rejected")
}

func TestPollerFeedsConditions(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.yaml")
	write(t, path, yamlState)
	p := New(path, logx.Nop())

	tree := condition.And(
		condition.NewSkillLevel("mining", 50),
		condition.NewBankItems("coal", 300, 300, nil),
	)
	snap := condition.Collect(t.Context(), p, time.Now(), condition.Require(tree))
	assert.True(t, tree.IsSatisfied(snap))
}

func TestWatchReloads(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	write(t, path, `{"inventory":{"Shark":3}}`)
	p := New(path, logx.Nop())

	ctx := t.Context()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Watch(ctx)
	}()
	require.Eventually(t, func() bool {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.watching && p.doc != nil
	}, 2*time.Second, 10*time.Millisecond)

	// rewrite until the watcher has seen it; the directory watch may not be
	// registered yet on the first write
	require.Eventually(t, func() bool {
		write(t, path, `{"inventory":{"Shark":0}}`)
		inv, err := p.Items(ctx, condition.ContainerInventory)
		return err == nil && inv["Shark"] == 0
	}, 10*time.Second, 500*time.Millisecond)
}
