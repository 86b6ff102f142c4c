package pool

import (
	"context"
	"time"
)

func (p *Pool[R]) startEvictor(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	p.stopEvictor = cancel
	p.evictorDone = make(chan struct{})
	go p.evict(ctx, interval)
}

// evict periodically drops expired, stale and long idle connections until
// the pool is closed.
func (p *Pool[R]) evict(ctx context.Context, interval time.Duration) {
	defer close(p.evictorDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.CloseExpired()
		if p.cfg.MaxIdleTime > 0 {
			p.CloseIdle(p.cfg.MaxIdleTime)
		}
		stats := p.TotalStats()
		p.log.Debug("evictor pass", "leased", stats.Leased, "available", stats.Available, "pending", stats.Pending)
	}
}
