package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// limiterPool governs inbound actions per session and event type. Each
// (session, event) pair gets an independent token bucket sized to the
// configured per-minute ceiling, so a burst of sends cannot starve
// reactions. Exceeding a ceiling rejects the action; it never disconnects
// the session.
type limiterPool struct {
	mu      sync.Mutex
	m       map[string]*entry
	ceiling map[string]int
}

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(cfg config.RateLimitConfig) *limiterPool {
	return &limiterPool{
		m: make(map[string]*entry),
		ceiling: map[string]int{
			models.EvtSend:   cfg.SendPerMin,
			models.EvtEdit:   cfg.EditPerMin,
			models.EvtDelete: cfg.DeletePerMin,
			models.EvtReact:  cfg.ReactPerMin,
		},
	}
}

func (p *limiterPool) get(sessionID, event string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := sessionID + "|" + event
	if e, ok := p.m[key]; ok {
		e.lastSeen = time.Now()
		return e.lim
	}
	perMin := p.ceiling[event]
	if perMin <= 0 {
		perMin = 60
	}
	l := rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)
	p.m[key] = &entry{lim: l, lastSeen: time.Now()}
	return l
}

// allow reports whether the action may proceed. When it may not, the
// returned duration is the retry-after hint.
func (p *limiterPool) allow(sessionID, event string) (time.Duration, bool) {
	res := p.get(sessionID, event).Reserve()
	if d := res.Delay(); d > 0 {
		res.Cancel()
		return d, false
	}
	return 0, true
}

// dropSession releases all counters owned by a disconnecting session.
func (p *limiterPool) dropSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := sessionID + "|"
	for k := range p.m {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(p.m, k)
		}
	}
}

// sweep removes counters idle longer than maxIdle and returns the count.
func (p *limiterPool) sweep(maxIdle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	cutoff := time.Now().Add(-maxIdle)
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
			n++
		}
	}
	return n
}

// runSweeper periodically prunes idle counters on the configured cron
// schedule until ctx is canceled.
func (p *limiterPool) runSweeper(ctx context.Context, cronExpr string) {
	gx := gronx.New()
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			due, err := gx.IsDue(cronExpr, time.Now())
			if err != nil || !due {
				continue
			}
			if n := p.sweep(10 * time.Minute); n > 0 {
				logger.Log.Debug("rate_counters_swept", zap.Int("removed", n))
			}
		}
	}
}
