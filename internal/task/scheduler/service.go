package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pewsched/internal/condition"
	"pewsched/internal/eventbus"
	"pewsched/internal/plan"
	logx "pewsched/pkg/logx"
)

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRand sets the randomness used for weighted picks, jitter and re-rolls.
func WithRand(r condition.Rand) Option {
	return func(s *Service) {
		if r != nil {
			s.rng = r
		}
	}
}

// WithStore enables plan autosave and run history.
func WithStore(st Store) Option {
	return func(s *Service) { s.store = st }
}

// WithBus publishes lifecycle events.
func WithBus(b eventbus.Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
		}
	}
}

type envelope struct {
	cmd   Command
	reply chan error
}

// Service is the scheduler. All fields below the queue are owned by the
// goroutine calling Tick.
type Service struct {
	log    logx.Logger
	reg    TaskRegistry
	poller condition.Poller
	store  Store
	bus    eventbus.Bus
	now    func() time.Time
	rng    condition.Rand
	report *reporter

	cmds chan envelope

	closeMu sync.RWMutex
	closed  bool

	viewMu sync.RWMutex
	view   View

	// loop-owned
	cfg       Config
	state     State
	entries   []*plan.Entry
	current   *plan.Entry
	paused    bool
	pausedAt  time.Time
	lastErr   error
	ticks     uint64
	dirty     bool
	pending   string
	awaiting  string
	force     string
	evalCache map[*condition.Manager]condition.Evaluation

	manualStop bool
	stopping   bool
	stopReason plan.StopReason
	stopTicks  int
}

// New builds a scheduler in UNINITIALIZED. Call Init before ticking.
func New(cfg Config, reg TaskRegistry, poller condition.Poller, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.normalized()
	s := &Service{
		log:    log.Component("scheduler"),
		reg:    reg,
		poller: poller,
		bus:    eventbus.Nop{},
		now:    time.Now,
		rng:    condition.NewLockedRand(time.Now().UnixNano()),
		cfg:    cfg,
		cmds:   make(chan envelope, cfg.QueueSize),
	}
	for _, o := range opts {
		o(s)
	}
	s.report = newReporter(s.log)
	s.view = View{State: StateUninitialized, Entries: []EntryView{}}
	return s
}

// Apply swaps the loop configuration. It goes through the command queue.
func (s *Service) Apply(cfg Config) <-chan error {
	return s.Submit(applyConfig{cfg: cfg.normalized()})
}

func (s *Service) tickInterval() time.Duration { return s.cfg.Tick }

// clock reads the wall clock in the configured zone. Windows, day-of-week
// leaves and run bookkeeping all see this one reading.
func (s *Service) clock() time.Time { return s.now().In(s.cfg.Location) }

// Init loads doc as the initial plan and moves to READY. An entry persisted
// as running is adopted when the registry still reports its task running;
// otherwise its running flag is cleared.
func (s *Service) Init(ctx context.Context, doc *plan.Document) error {
	if s.state != StateUninitialized {
		return fmt.Errorf("init: already in %s", s.state)
	}
	s.setState(StateInitializing)
	if doc == nil {
		doc = &plan.Document{Version: plan.DocumentVersion}
	}
	if err := s.checkPlan(ctx, doc); err != nil {
		s.lastErr = err
		s.setState(StateError)
		s.publishView(nil)
		return err
	}

	now := s.clock()
	s.entries = doc.Clone().Entries
	for _, e := range s.entries {
		e.Init(now, s.cfg.Location)
		if !e.Running {
			continue
		}
		if s.reg.IsRunning(ctx, e.Name) && s.current == nil {
			s.current = e
			s.log.Info("adopted running entry", logx.String("entry", e.ID), logx.String("task", e.Name))
			continue
		}
		e.Running = false
		s.dirty = true
	}
	if s.current != nil {
		s.setState(StateWaitingForStopCondition)
	} else {
		s.setState(StateReady)
	}
	s.publishView(nil)
	s.log.Info("scheduler initialized", logx.Int("entries", len(s.entries)), logx.String("tz", s.cfg.Location.String()))
	return nil
}

// Run ticks until ctx is done, then shuts down. Commands submitted between
// ticks are applied as they arrive.
func (s *Service) Run(ctx context.Context) error {
	if s.state == StateUninitialized {
		return ErrNotReady
	}
	interval := s.tickInterval()
	t := time.NewTicker(interval)
	defer t.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case env := <-s.cmds:
			s.apply(ctx, env)
			s.publishView(nil)
		case <-t.C:
			s.Tick(ctx)
			if d := s.tickInterval(); d != interval {
				interval = d
				t.Reset(d)
			}
		}
	}
}

// Submit queues cmd and returns the channel its result is delivered on.
// It never blocks.
func (s *Service) Submit(cmd Command) <-chan error {
	reply := make(chan error, 1)
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		reply <- ErrShutdown
		return reply
	}
	select {
	case s.cmds <- envelope{cmd: cmd, reply: reply}:
	default:
		reply <- ErrQueueFull
	}
	return reply
}

// Do submits cmd and waits for its result.
func (s *Service) Do(ctx context.Context, cmd Command) error {
	select {
	case err := <-s.Submit(cmd):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the latest published view.
func (s *Service) Snapshot() View {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

// Plan returns a copy of the live plan. Only valid from the loop goroutine
// or after Run returned.
func (s *Service) Plan() *plan.Document {
	doc := &plan.Document{Version: plan.DocumentVersion, Entries: s.entries}
	return doc.Clone()
}

func (s *Service) drain(ctx context.Context) {
	for {
		select {
		case env := <-s.cmds:
			s.apply(ctx, env)
		default:
			return
		}
	}
}

func (s *Service) apply(ctx context.Context, env envelope) {
	var err error
	switch {
	case s.state == StateShutdown:
		err = ErrShutdown
	case s.state == StateUninitialized || s.state == StateInitializing:
		err = ErrNotReady
	case s.state == StateError && !allowedInError(env.cmd):
		err = ErrInError
	default:
		err = env.cmd.apply(ctx, s)
	}
	if err != nil {
		s.log.Debug("command rejected", logx.String("cmd", fmt.Sprintf("%T", env.cmd)), logx.Err(err))
	}
	env.reply <- err
}

func (s *Service) shutdown() {
	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()
drain:
	for {
		select {
		case env := <-s.cmds:
			env.reply <- ErrShutdown
		default:
			break drain
		}
	}
	// a flush on shutdown must not be cut short by the cancelled run context
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.dirty = s.dirty || s.cfg.Autosave
	s.persist(ctx)
	s.setState(StateShutdown)
	s.publishView(nil)
	s.log.Info("scheduler stopped", logx.Uint64("ticks", s.ticks))
}

func (s *Service) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.log.Debug("state changed", logx.String("from", from.String()), logx.String("to", to.String()))
	s.emit(eventbus.TypeStateChanged, StateEvent{From: from, To: to})
}

func (s *Service) emit(typ string, data any) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock(), Data: data})
}

// fail moves the loop to ERROR.
func (s *Service) fail(err error) {
	if !errors.Is(err, ErrStructural) {
		err = fmt.Errorf("%w: %w", ErrStructural, err)
	}
	s.lastErr = err
	s.log.Error("scheduler error", logx.Err(err))
	s.setState(StateError)
	s.emit(eventbus.TypeSchedulerError, ErrorEvent{Err: err.Error()})
}

func (s *Service) find(id string) (int, *plan.Entry) {
	for i, e := range s.entries {
		if e.ID == id {
			return i, e
		}
	}
	return -1, nil
}
