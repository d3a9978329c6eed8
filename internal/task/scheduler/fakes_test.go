package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pewsched/internal/condition"
	"pewsched/internal/eventbus"
	"pewsched/internal/plan"
	"pewsched/internal/runner"
	"pewsched/internal/storage"
	logx "pewsched/pkg/logx"
)

// t0 is a Monday noon.
var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeRegistry struct {
	mu         sync.Mutex
	tasks      map[string]bool
	running    map[string]bool
	ignoreStop map[string]bool
	startErr   map[string]error
	starts     map[string]int
	stops      map[string]int
}

func newFakeRegistry(names ...string) *fakeRegistry {
	r := &fakeRegistry{
		tasks:      map[string]bool{},
		running:    map[string]bool{},
		ignoreStop: map[string]bool{},
		startErr:   map[string]error{},
		starts:     map[string]int{},
		stops:      map[string]int{},
	}
	for _, n := range names {
		r.tasks[n] = true
	}
	return r
}

func (r *fakeRegistry) ListAvailableTasks(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return runner.SortedNames(r.tasks), nil
}

func (r *fakeRegistry) Start(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.tasks[name] {
		return runner.UnknownTask(name)
	}
	if err := r.startErr[name]; err != nil {
		return err
	}
	r.starts[name]++
	r.running[name] = true
	return nil
}

func (r *fakeRegistry) Stop(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.tasks[name] {
		return runner.UnknownTask(name)
	}
	if !r.running[name] {
		return runner.NotRunning(name)
	}
	r.stops[name]++
	if !r.ignoreStop[name] {
		r.running[name] = false
	}
	return nil
}

func (r *fakeRegistry) IsRunning(ctx context.Context, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[name]
}

func (r *fakeRegistry) finish(name string) {
	r.mu.Lock()
	r.running[name] = false
	r.mu.Unlock()
}

func (r *fakeRegistry) count(m map[string]int, name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return m[name]
}

type fakeStore struct {
	mu    sync.Mutex
	saves int
	last  *plan.Document
	runs  []storage.RunRecord
}

func (s *fakeStore) SavePlan(ctx context.Context, doc *plan.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = doc
	return nil
}

func (s *fakeStore) AppendRun(ctx context.Context, r storage.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
	return nil
}

// supervised returns an interval entry whose stop condition never holds
// (the static poller reports no Mining skill).
func supervised(name string) *plan.Entry {
	e := plan.NewEntry(name, plan.Every(time.Hour))
	e.AllowRandomScheduling = false
	e.Stop.Add(condition.NewSkillLevel("Mining", 99), false)
	return e
}

type harness struct {
	s     *Service
	reg   *fakeRegistry
	clock *fakeClock
	poll  *condition.StaticPoller
	store *fakeStore
	bus   eventbus.Bus
}

func newHarness(t *testing.T, cfg Config, entries ...*plan.Entry) *harness {
	t.Helper()
	h := &harness{
		clock: &fakeClock{t: t0},
		poll:  condition.NewStaticPoller(),
		store: &fakeStore{},
		bus:   eventbus.New(),
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	h.reg = newFakeRegistry(names...)
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	h.s = New(cfg, h.reg, h.poll, logx.Nop(),
		WithClock(h.clock.Now),
		WithRand(rand.New(rand.NewSource(1))),
		WithStore(h.store),
		WithBus(h.bus),
	)
	require.NoError(t, h.s.Init(t.Context(), &plan.Document{Version: plan.DocumentVersion, Entries: entries}))
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	return cfg
}

func (h *harness) tick(t *testing.T) View {
	t.Helper()
	h.s.Tick(t.Context())
	return h.s.Snapshot()
}

// do submits cmd, runs one tick and returns the command result.
func (h *harness) do(t *testing.T, cmd Command) error {
	t.Helper()
	ch := h.s.Submit(cmd)
	h.s.Tick(t.Context())
	select {
	case err := <-ch:
		return err
	default:
		t.Fatalf("command %T was not applied by the tick", cmd)
		return nil
	}
}
