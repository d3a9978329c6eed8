package config

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "pewsched/pkg/logx"
)

const (
	reloadDebounce     = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// WatchFile calls onChange, debounced, whenever path is written, created,
// renamed or removed. It watches the parent directory so editors that replace
// the file are followed. A broken watcher is recreated with jittered backoff.
// WatchFile blocks until ctx is done and always returns nil then.
func WatchFile(ctx context.Context, path string, log logx.Logger, onChange func()) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	bo := newBackoff()

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		log.Debug("file change detected; scheduling reload", logx.String("path", path))
		timer = time.AfterFunc(reloadDebounce, func() {
			if ctx.Err() == nil {
				onChange()
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			log.Warn("watch init failed", logx.Err(err), logx.String("dir", dir))
			if !bo.sleep(ctx) {
				return nil
			}
			continue
		}

		bo.reset()
		log.Debug("watcher started", logx.String("dir", dir), logx.String("file", file))

		if done := watchLoop(ctx, log, w, file, debounce); done {
			return nil
		}
		wait := bo.peek()
		log.Warn("watcher stopped; restarting",
			logx.String("dir", dir),
			logx.String("file", file),
			logx.Duration("backoff", wait),
		)
		if !bo.sleep(ctx) {
			return nil
		}
	}
}

// watchLoop consumes watcher events until the watcher breaks or ctx is done.
// It closes w and reports whether ctx ended.
func watchLoop(ctx context.Context, log logx.Logger, w *fsnotify.Watcher, file string, onChange func()) bool {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-w.Events:
			if !ok {
				return false
			}
			// Compare by basename (more robust across absolute/relative paths).
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return false
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			switch {
			case strings.Contains(msg, "overflow"):
				// events may have been missed; reload once and keep going
				log.Warn("watch overflow; forcing reload", logx.Err(err))
				onChange()
			case strings.Contains(msg, "closed"):
				return false
			default:
				log.Warn("watch error", logx.Err(err))
			}
		}
	}
}

type backoff struct {
	cur time.Duration
	rng *rand.Rand
}

func newBackoff() *backoff {
	return &backoff{cur: restartBackoffBase, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (b *backoff) reset() { b.cur = restartBackoffBase }

func (b *backoff) peek() time.Duration {
	return b.cur + time.Duration(b.rng.Int63n(int64(b.cur/2)+1))
}

// sleep waits one jittered step, doubles the base and reports false if ctx ended first.
func (b *backoff) sleep(ctx context.Context) bool {
	wait := b.peek()
	b.cur *= 2
	if b.cur > restartBackoffMax {
		b.cur = restartBackoffMax
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}
