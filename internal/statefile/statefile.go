// Package statefile implements condition.Poller over a document on disk.
//
// The document is written by whatever observes the host (a game client
// plugin, a cron job, a sidecar). It is JSON, YAML or TOML by extension:
//
//	session_start: 2026-03-02T08:00:00Z
//	skills:
//	  Mining: {level: 57, xp: 220000}
//	inventory: {"Iron ore": 14}
//	bank: {"Coal": 340}
//	loot: {"Uncut sapphire": 2}
package statefile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"pewsched/internal/condition"
	"pewsched/internal/config"
	logx "pewsched/pkg/logx"
)

var ErrNoState = errors.New("state file not available")

// Document is the on-disk shape.
type Document struct {
	SessionStart time.Time                      `json:"session_start,omitzero"`
	Skills       map[string]condition.SkillStat `json:"skills,omitempty"`
	Inventory    map[string]int                 `json:"inventory,omitempty"`
	Bank         map[string]int                 `json:"bank,omitempty"`
	Loot         map[string]int                 `json:"loot,omitempty"`
}

func (d *Document) container(c condition.Container) (map[string]int, bool) {
	switch c {
	case condition.ContainerInventory:
		return d.Inventory, true
	case condition.ContainerBank:
		return d.Bank, true
	case condition.ContainerLoot:
		return d.Loot, true
	}
	return nil, false
}

// Decode parses a state document. path selects the format.
func Decode(path string, b []byte) (*Document, error) {
	jb, format, err := config.ToJSON(path, b)
	if err != nil {
		return nil, err
	}
	var d Document
	if err := config.DecodeStrict(jb, &d); err != nil {
		return nil, fmt.Errorf("invalid %s state: %w", format, err)
	}
	return &d, nil
}

// Poller serves the latest successfully decoded document. A read or decode
// failure is reported by every call until the file is fixed; the previous
// document is not served in the meantime.
type Poller struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	doc      *Document
	err      error
	modTime  time.Time
	size     int64
	watching bool
}

func New(path string, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{path: path, log: log.Component("statefile").With(logx.String("path", path))}
}

func (p *Poller) Path() string { return p.path }

// Reload reads the file now.
func (p *Poller) Reload() error {
	st, err := os.Stat(p.path)
	if err != nil {
		return p.fail(err)
	}
	return p.load(st)
}

func (p *Poller) load(st fs.FileInfo) error {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return p.fail(err)
	}
	doc, err := Decode(p.path, b)
	if err != nil {
		return p.fail(err)
	}
	p.mu.Lock()
	p.doc, p.err = doc, nil
	p.modTime, p.size = st.ModTime(), st.Size()
	p.mu.Unlock()
	return nil
}

func (p *Poller) fail(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		err = fmt.Errorf("%w: %s", ErrNoState, p.path)
	}
	p.mu.Lock()
	changed := p.err == nil || p.err.Error() != err.Error()
	p.doc, p.err = nil, err
	p.mu.Unlock()
	if changed {
		p.log.Warn("state file unreadable", logx.Err(err))
	}
	return err
}

// refresh reloads when the file changed on disk. While Watch runs the
// watcher does this instead.
func (p *Poller) refresh() {
	p.mu.RLock()
	watching, mod, size, loaded := p.watching, p.modTime, p.size, p.doc != nil || p.err != nil
	p.mu.RUnlock()
	if watching && loaded {
		return
	}
	st, err := os.Stat(p.path)
	if err != nil {
		_ = p.fail(err)
		return
	}
	if loaded && st.ModTime().Equal(mod) && st.Size() == size {
		return
	}
	_ = p.load(st)
}

func (p *Poller) current() (*Document, error) {
	p.refresh()
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.doc == nil {
		return nil, ErrNoState
	}
	return p.doc, nil
}

// Skills returns the skill table. The map must not be modified.
func (p *Poller) Skills(ctx context.Context) (map[string]condition.SkillStat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := p.current()
	if err != nil {
		return nil, err
	}
	return doc.Skills, nil
}

// Items returns the item counts of one container. The map must not be modified.
func (p *Poller) Items(ctx context.Context, c condition.Container) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := p.current()
	if err != nil {
		return nil, err
	}
	items, ok := doc.container(c)
	if !ok {
		return nil, fmt.Errorf("unknown container %q", c)
	}
	return items, nil
}

func (p *Poller) SessionStart() time.Time {
	doc, err := p.current()
	if err != nil {
		return time.Time{}
	}
	return doc.SessionStart
}

// Watch reloads on file events until ctx is done.
func (p *Poller) Watch(ctx context.Context) error {
	_ = p.Reload()
	p.mu.Lock()
	p.watching = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.watching = false
		p.mu.Unlock()
	}()
	return config.WatchFile(ctx, p.path, p.log, func() {
		if err := p.Reload(); err == nil {
			p.log.Debug("state reloaded")
		}
	})
}

var (
	_ condition.Poller       = (*Poller)(nil)
	_ condition.SessionClock = (*Poller)(nil)
)
