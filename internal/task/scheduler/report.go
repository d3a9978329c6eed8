package scheduler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "pewsched/pkg/logx"
)

const transientWarnEvery = 30 * time.Second

// reporter throttles warnings for failures that are retried every tick.
// Suppressed repeats go to debug.
type reporter struct {
	log logx.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	dropped  map[string]int
}

func newReporter(log logx.Logger) *reporter {
	return &reporter{log: log, limiters: map[string]*rate.Limiter{}, dropped: map[string]int{}}
}

func (r *reporter) transient(key, msg string, err error, fields ...logx.Field) {
	if err == nil {
		return
	}
	r.mu.Lock()
	lim, ok := r.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(transientWarnEvery), 1)
		r.limiters[key] = lim
	}
	allow := lim.Allow()
	suppressed := r.dropped[key]
	if allow {
		r.dropped[key] = 0
	} else {
		r.dropped[key]++
	}
	r.mu.Unlock()

	fields = append(fields, logx.Err(err))
	if !allow {
		r.log.Debug(msg, fields...)
		return
	}
	if suppressed > 0 {
		fields = append(fields, logx.Int("suppressed", suppressed))
	}
	r.log.Warn(msg, fields...)
}

// clear forgets key after the operation succeeded.
func (r *reporter) clear(key string) {
	r.mu.Lock()
	delete(r.limiters, key)
	delete(r.dropped, key)
	r.mu.Unlock()
}
