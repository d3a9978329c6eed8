package systemd

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultStateTTL   = 500 * time.Millisecond
	defaultStateMax   = 256
	defaultSweepEvery = 64
)

// UnitName appends ".service" when the name has no unit suffix.
func UnitName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, ".") {
		return s
	}
	return s + ".service"
}

// running reports whether an ActiveState value means the unit is up.
// A deactivating unit has not acknowledged the stop yet.
func running(activeState string) bool {
	switch activeState {
	case "active", "activating", "reloading", "deactivating", "refreshing":
		return true
	}
	return false
}

type stateEntry struct {
	state   string
	expires time.Time
}

// stateCache keeps ActiveState answers for a short time so a tick loop does
// not hit D-Bus for every IsRunning call.
type stateCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	sweep   uint64
	ops     uint64
	entries map[string]stateEntry
}

func newStateCache(ttl time.Duration, max int) *stateCache {
	if ttl == 0 {
		ttl = defaultStateTTL
	}
	if max <= 0 {
		max = defaultStateMax
	}
	return &stateCache{ttl: ttl, max: max, sweep: defaultSweepEvery, entries: map[string]stateEntry{}}
}

func (c *stateCache) get(unit string, now time.Time) (string, bool) {
	if c.ttl < 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[unit]
	if !ok || now.After(ent.expires) {
		return "", false
	}
	return ent.state, true
}

func (c *stateCache) put(unit, state string, now time.Time) {
	if c.ttl < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[unit] = stateEntry{state: state, expires: now.Add(c.ttl)}
	c.ops++
	if c.ops%c.sweep == 0 || len(c.entries) > c.max {
		c.pruneLocked(now)
	}
}

// invalidate forgets unit after a start or stop was issued.
func (c *stateCache) invalidate(unit string) {
	c.mu.Lock()
	delete(c.entries, unit)
	c.mu.Unlock()
}

func (c *stateCache) pruneLocked(now time.Time) {
	for k, ent := range c.entries {
		if now.After(ent.expires) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) <= c.max {
		return
	}
	// still too large: drop the entries expiring first
	type kv struct {
		k string
		e time.Time
	}
	items := make([]kv, 0, len(c.entries))
	for k, ent := range c.entries {
		items = append(items, kv{k: k, e: ent.expires})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].e.Before(items[j].e) })
	for i := 0; i < len(items)-c.max; i++ {
		delete(c.entries, items[i].k)
	}
}
