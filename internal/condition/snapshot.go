package condition

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Container names an item store the poller can count in.
type Container string

const (
	ContainerInventory Container = "inventory"
	ContainerBank      Container = "bank"
	ContainerLoot      Container = "loot"
)

// SkillStat is the polled state of one skill.
type SkillStat struct {
	Level int64 `json:"level"`
	XP    int64 `json:"xp"`
}

// Poller is the read-only source of external state used by leaf conditions.
// Calls are synchronous and expected to be cheap.
type Poller interface {
	Skills(ctx context.Context) (map[string]SkillStat, error)
	Items(ctx context.Context, c Container) (map[string]int, error)
}

// SessionClock is optionally implemented by pollers that know when the
// current session began.
type SessionClock interface {
	SessionStart() time.Time
}

// Source identifies one polled data set inside a Snapshot.
type Source string

const SourceSkills Source = "skills"

func containerSource(c Container) Source { return Source("items." + string(c)) }

// Snapshot is the consistent view of the outside world for one tick.
type Snapshot struct {
	Now          time.Time
	SessionStart time.Time

	Skills     map[string]SkillStat
	Containers map[Container]map[string]int

	// Errs holds the poll failure for each source that could not be read.
	Errs map[Source]error
}

// At returns a snapshot that only carries a clock reading.
func At(now time.Time) *Snapshot {
	return &Snapshot{Now: now}
}

// SessionElapsed is zero when the poller does not report a session start.
func (s *Snapshot) SessionElapsed() time.Duration {
	if s == nil || s.SessionStart.IsZero() {
		return 0
	}
	return s.Now.Sub(s.SessionStart)
}

func (s *Snapshot) skill(name string) (SkillStat, error) {
	if s == nil {
		return SkillStat{}, fmt.Errorf("skills: no snapshot")
	}
	if err := s.Errs[SourceSkills]; err != nil {
		return SkillStat{}, fmt.Errorf("skills: %w", err)
	}
	if st, ok := s.Skills[name]; ok {
		return st, nil
	}
	for k, st := range s.Skills {
		if strings.EqualFold(k, name) {
			return st, nil
		}
	}
	return SkillStat{}, fmt.Errorf("skill %q not reported", name)
}

func (s *Snapshot) itemCount(c Container, pattern string) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("%s: no snapshot", c)
	}
	if err := s.Errs[containerSource(c)]; err != nil {
		return 0, fmt.Errorf("%s: %w", c, err)
	}
	m, err := compilePattern(pattern)
	if err != nil {
		return 0, err
	}
	total := 0
	for name, n := range s.Containers[c] {
		if m.MatchString(name) {
			total += n
		}
	}
	return total, nil
}

// Needs lists which sources a set of condition trees reads.
type Needs struct {
	Skills     bool
	Containers map[Container]bool
}

// Empty reports whether nothing needs polling.
func (n Needs) Empty() bool { return !n.Skills && len(n.Containers) == 0 }

// Require walks the trees and returns the sources they depend on.
func Require(roots ...*Condition) Needs {
	n := Needs{Containers: map[Container]bool{}}
	for _, r := range roots {
		r.Walk(func(c *Condition) {
			switch c.Kind {
			case KindSkillLevel, KindSkillXP:
				n.Skills = true
			default:
				if ct, ok := c.Kind.Container(); ok {
					n.Containers[ct] = true
				}
			}
		})
	}
	return n
}

// Merge adds the sources of o to n.
func (n *Needs) Merge(o Needs) {
	n.Skills = n.Skills || o.Skills
	if n.Containers == nil {
		n.Containers = map[Container]bool{}
	}
	for c := range o.Containers {
		n.Containers[c] = true
	}
}

// Collect reads every needed source from p concurrently and returns the tick
// snapshot. Poll failures are recorded in Snapshot.Errs instead of failing the
// whole snapshot so unrelated conditions keep evaluating.
func Collect(ctx context.Context, p Poller, now time.Time, needs Needs) *Snapshot {
	snap := &Snapshot{
		Now:        now,
		Skills:     map[string]SkillStat{},
		Containers: map[Container]map[string]int{},
		Errs:       map[Source]error{},
	}
	if sc, ok := p.(SessionClock); ok {
		snap.SessionStart = sc.SessionStart()
	}
	if p == nil || needs.Empty() {
		return snap
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if needs.Skills {
		g.Go(func() error {
			skills, err := p.Skills(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				snap.Errs[SourceSkills] = err
				return nil
			}
			for k, v := range skills {
				snap.Skills[k] = v
			}
			return nil
		})
	}
	for c := range needs.Containers {
		g.Go(func() error {
			items, err := p.Items(gctx, c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				snap.Errs[containerSource(c)] = err
				return nil
			}
			snap.Containers[c] = items
			return nil
		})
	}
	_ = g.Wait()
	return snap
}

// StaticPoller serves fixed values. Useful for dry runs and tests.
type StaticPoller struct {
	mu         sync.RWMutex
	skills     map[string]SkillStat
	containers map[Container]map[string]int
	errs       map[Source]error
	start      time.Time
}

func NewStaticPoller() *StaticPoller {
	return &StaticPoller{
		skills:     map[string]SkillStat{},
		containers: map[Container]map[string]int{},
		errs:       map[Source]error{},
	}
}

func (p *StaticPoller) SetSkill(name string, st SkillStat) {
	p.mu.Lock()
	p.skills[name] = st
	p.mu.Unlock()
}

func (p *StaticPoller) SetItem(c Container, name string, count int) {
	p.mu.Lock()
	if p.containers[c] == nil {
		p.containers[c] = map[string]int{}
	}
	p.containers[c][name] = count
	p.mu.Unlock()
}

// SetError makes the given source fail until cleared with a nil error.
func (p *StaticPoller) SetError(src Source, err error) {
	p.mu.Lock()
	if err == nil {
		delete(p.errs, src)
	} else {
		p.errs[src] = err
	}
	p.mu.Unlock()
}

func (p *StaticPoller) SetSessionStart(t time.Time) {
	p.mu.Lock()
	p.start = t
	p.mu.Unlock()
}

func (p *StaticPoller) SessionStart() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.start
}

func (p *StaticPoller) Skills(context.Context) (map[string]SkillStat, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.errs[SourceSkills]; err != nil {
		return nil, err
	}
	out := make(map[string]SkillStat, len(p.skills))
	for k, v := range p.skills {
		out[k] = v
	}
	return out, nil
}

func (p *StaticPoller) Items(_ context.Context, c Container) (map[string]int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.errs[SourceItems(c)]; err != nil {
		return nil, err
	}
	out := make(map[string]int, len(p.containers[c]))
	for k, v := range p.containers[c] {
		out[k] = v
	}
	return out, nil
}

// SourceItems is the Snapshot source key for a container.
func SourceItems(c Container) Source { return containerSource(c) }
