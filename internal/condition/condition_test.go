package condition

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) // a Monday

func fixed(v bool) *Condition {
	// A time window covering the whole day is always satisfied; its negation never is.
	c := NewTimeWindow(Clock(0, 0), Clock(0, 0))
	if v {
		return c
	}
	return Not(c)
}

func TestLogicalLaws(t *testing.T) {
	t.Parallel()
	snap := At(base)
	combos := [][]bool{{}, {true}, {false}, {true, true}, {true, false}, {false, false}, {false, true, true}}
	for _, vals := range combos {
		children := make([]*Condition, 0, len(vals))
		all, any := true, false
		for _, v := range vals {
			children = append(children, fixed(v))
			all = all && v
			any = any || v
		}
		assert.Equal(t, all, And(children...).IsSatisfied(snap), "AND %v", vals)
		assert.Equal(t, any, Or(children...).IsSatisfied(snap), "OR %v", vals)
		for i, ch := range children {
			assert.Equal(t, !vals[i], Not(ch).IsSatisfied(snap), "NOT %v", vals[i])
		}
	}
}

func TestCountsIncludeEveryLeaf(t *testing.T) {
	t.Parallel()
	snap := At(base)
	tree := Or(
		fixed(true),
		And(fixed(false), fixed(true), Not(And(fixed(true), fixed(false)))),
		Not(fixed(true)),
	)
	met, total := tree.Counts(snap)
	assert.Equal(t, 6, total)
	assert.Equal(t, met+tree.Unmet(snap), total)

	// OR short-circuits satisfaction but counts still see all children.
	assert.True(t, tree.IsSatisfied(snap))
	_, orTotal := Or(fixed(true), fixed(false), fixed(false)).Counts(snap)
	assert.Equal(t, 3, orTotal)
}

func TestProgressAggregation(t *testing.T) {
	t.Parallel()
	p := NewStaticPoller()
	p.SetItem(ContainerInventory, "Iron ore", 25)
	snap := Collect(t.Context(), p, base, Needs{Containers: map[Container]bool{ContainerInventory: true}})

	half := NewInventoryItems("ore", 50, 50, nil)
	done := fixed(true)

	assert.InDelta(t, 75, And(half, done).Progress(snap), 0.001)
	assert.InDelta(t, 100, Or(half, done).Progress(snap), 0.001)
	assert.InDelta(t, 50, Not(half).Progress(snap), 0.001)
	assert.InDelta(t, 100, And().Progress(snap), 0.001)
	assert.InDelta(t, 0, Or().Progress(snap), 0.001)
}

func TestTimeWindowWrapsPastMidnight(t *testing.T) {
	t.Parallel()
	w := NewTimeWindow(Clock(22, 0), Clock(6, 0))
	at := func(h, m int) *Snapshot { return At(time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)) }

	tests := []struct {
		name string
		snap *Snapshot
		want bool
	}{
		{"late evening", at(23, 0), true},
		{"start inclusive", at(22, 0), true},
		{"early morning", at(5, 59), true},
		{"end exclusive", at(6, 0), false},
		{"noon", at(12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.IsSatisfied(tt.snap))
		})
	}
	assert.True(t, Not(w).IsSatisfied(at(12, 0)))
}

func TestItemCountProgress(t *testing.T) {
	t.Parallel()
	p := NewStaticPoller()
	needs := Needs{Containers: map[Container]bool{ContainerInventory: true}}
	c := NewInventoryItems("ore", 50, 50, nil)

	p.SetItem(ContainerInventory, "Copper ore", 49)
	snap := Collect(t.Context(), p, base, needs)
	assert.False(t, c.IsSatisfied(snap))
	assert.InDelta(t, 98, c.Progress(snap), 0.001)

	p.SetItem(ContainerInventory, "Copper ore", 50)
	snap = Collect(t.Context(), p, base, needs)
	assert.True(t, c.IsSatisfied(snap))
	assert.InDelta(t, 100, c.Progress(snap), 0.001)
}

func TestItemPatterns(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pattern, name string
		want          bool
	}{
		{"ore", "Iron Ore", true},
		{"ore", "Bones", false},
		{"ore|bar", "Steel bar", true},
		{"^Iron", "Iron", true},
		{"^Iron", "Iron ore", false},
		{"^Iron.*", "Iron ore", true},
		{"^Iron.*", "Pig iron", false},
		{"Rune.*", "Rune scimitar", true},
		{"[Rr]aw", "raw shrimp", false},
		{"[Rr]aw.*", "raw shrimp", true},
		{"(ore|bar)", "Iron ore", false},
		{".*(ore|bar)", "Iron ore", true},
		{"a.b", "axb", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.name, func(t *testing.T) {
			got, err := MatchItem(tt.pattern, tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluationIsIdempotent(t *testing.T) {
	t.Parallel()
	p := NewStaticPoller()
	p.SetSkill("Mining", SkillStat{Level: 40, XP: 37224})
	p.SetItem(ContainerBank, "Coal", 120)
	tree := And(
		NewInterval(5*time.Minute, base.Add(-3*time.Minute)),
		NewSkillLevel("mining", 50),
		Or(NewBankItems("coal", 100, 100, nil), NewDayOfWeek(time.Sunday)),
	)
	snap := Collect(t.Context(), p, base, Require(tree))

	first, firstP := tree.IsSatisfied(snap), tree.Progress(snap)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, tree.IsSatisfied(snap))
		assert.Equal(t, firstP, tree.Progress(snap))
	}
}

func TestRandomizedTargetIsRolledOnce(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(7))
	c := NewRandomizedInterval(10*time.Minute, 20*time.Minute, base, r)
	rolled := c.Interval.Every
	require.GreaterOrEqual(t, rolled, 10*time.Minute)
	require.LessOrEqual(t, rolled, 20*time.Minute)

	for i := 0; i < 5; i++ {
		_ = c.IsSatisfied(At(base.Add(time.Duration(i) * time.Minute)))
		c.Reset(At(base), false, r)
	}
	assert.Equal(t, rolled, c.Interval.Every)

	sk := NewRandomizedSkillLevel("Fishing", 60, 70, r)
	assert.True(t, sk.Skill.Randomized)
	assert.GreaterOrEqual(t, sk.Skill.Target, int64(60))
	assert.LessOrEqual(t, sk.Skill.Target, int64(70))
}

func TestRollCoversFullInt64Range(t *testing.T) {
	t.Parallel()
	r := NewLockedRand(3)
	tests := []struct{ lo, hi int64 }{
		{0, math.MaxInt64},
		{math.MinInt64, math.MaxInt64},
		{-1, math.MaxInt64},
		{math.MinInt64, 0},
		{5, 5},
	}
	for _, tt := range tests {
		for i := 0; i < 50; i++ {
			var got int64
			require.NotPanics(t, func() { got = rollInt64(r, tt.lo, tt.hi) })
			assert.GreaterOrEqual(t, got, tt.lo)
			assert.LessOrEqual(t, got, tt.hi)
		}
	}
	got := rollDuration(r, 0, time.Duration(math.MaxInt64))
	assert.GreaterOrEqual(t, got, time.Duration(0))
}

func TestIntervalElapsed(t *testing.T) {
	t.Parallel()
	c := NewInterval(time.Hour, base)
	assert.False(t, c.IsSatisfied(At(base.Add(59*time.Minute+59*time.Second))))
	assert.True(t, c.IsSatisfied(At(base.Add(time.Hour))))
	assert.Equal(t, "Every 1h 0m (next in 00:30:00)", c.Status(At(base.Add(30*time.Minute))))
}

func TestIntervalPauseShiftsReference(t *testing.T) {
	t.Parallel()
	c := NewInterval(10*time.Minute, base)
	c.Pause(base.Add(5 * time.Minute))
	assert.InDelta(t, 50, c.Progress(At(base.Add(20*time.Minute))), 0.001)
	c.Resume(base.Add(20 * time.Minute))
	assert.False(t, c.IsSatisfied(At(base.Add(24*time.Minute))))
	assert.True(t, c.IsSatisfied(At(base.Add(25*time.Minute))))
}

func TestRelativeSkillUsesBaseline(t *testing.T) {
	t.Parallel()
	p := NewStaticPoller()
	p.SetSkill("Woodcutting", SkillStat{Level: 30, XP: 13363})
	c := NewSkillXP("Woodcutting", 1000).Relative()

	snap := Collect(t.Context(), p, base, Require(c))
	assert.False(t, c.IsSatisfied(snap), "no baseline yet")
	c.Reset(snap, false, nil)

	p.SetSkill("Woodcutting", SkillStat{Level: 31, XP: 14363})
	snap = Collect(t.Context(), p, base, Require(c))
	assert.True(t, c.IsSatisfied(snap))
}

func TestPollErrorIsUnsatisfied(t *testing.T) {
	t.Parallel()
	p := NewStaticPoller()
	p.SetSkill("Mining", SkillStat{Level: 99})
	boom := errors.New("client offline")
	p.SetError(SourceSkills, boom)
	c := NewSkillLevel("Mining", 10)

	snap := Collect(t.Context(), p, base, Require(c))
	assert.False(t, c.IsSatisfied(snap))
	errs := c.Errors(snap)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestDayOfWeekLimits(t *testing.T) {
	t.Parallel()
	c := NewDayOfWeek(time.Monday, time.Tuesday).WithLimits(2, 3)
	mon := base
	assert.True(t, c.IsSatisfied(At(mon)))
	assert.False(t, c.IsSatisfied(At(mon.AddDate(0, 0, 2))), "wednesday")

	c.RecordRun(mon)
	c.RecordRun(mon)
	assert.False(t, c.IsSatisfied(At(mon)), "daily cap")
	tue := mon.AddDate(0, 0, 1)
	assert.True(t, c.IsSatisfied(At(tue)))
	c.RecordRun(tue)
	assert.False(t, c.IsSatisfied(At(tue)), "weekly cap")
	assert.True(t, c.IsSatisfied(At(mon.AddDate(0, 0, 7))), "next week")
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(42))
	tree := Or(
		And(NewRandomizedInterval(time.Minute, time.Hour, base, r), NewTimeWindow(Clock(22, 0), Clock(6, 30))),
		Not(NewDayOfWeek(time.Saturday, time.Sunday).WithLimits(1, 0)),
		NewOnce(base.Add(time.Hour), base),
		NewRandomizedSkillXP("Magic", 1000, 5000, r).Relative(),
		AnyItems(KindLootItems, r, ItemTarget{Pattern: "rune", Min: 5, Max: 10}, ItemTarget{Pattern: "^Dragon", Min: 1, Max: 1}),
	)
	require.NoError(t, tree.Validate())

	b, err := json.Marshal(tree)
	require.NoError(t, err)
	var back Condition
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, tree, &back)
}

func TestValidateRejectsMismatchedParameters(t *testing.T) {
	t.Parallel()
	bad := []*Condition{
		{Kind: KindInterval},
		{Kind: KindInterval, Interval: &Interval{Every: time.Minute}, Window: &TimeWindow{}},
		{Kind: KindNot},
		{Kind: KindAnd, Interval: &Interval{}},
		{Kind: "bogus", Window: &TimeWindow{}},
		{Kind: KindInventoryItems, Items: &Items{Pattern: "(", Target: 1}},
	}
	for _, c := range bad {
		assert.ErrorIs(t, c.Validate(), ErrInvalid, "%+v", c)
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{5 * time.Minute, "5m 0s"},
		{61 * time.Minute, "1h 1m"},
		{-time.Second, "0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Fatalf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
