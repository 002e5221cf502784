package validation

import (
	"sync"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"golang.org/x/time/rate"
)

// authorLimiter keeps one token bucket per author.
type authorLimiter struct {
	sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[hh.AgentPubKey]*rate.Limiter
}

func newAuthorLimiter(perSecond float64, burst int) *authorLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &authorLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[hh.AgentPubKey]*rate.Limiter),
	}
}

func (l *authorLimiter) allow(author hh.AgentPubKey) bool {
	if l == nil {
		return true
	}
	l.Lock()
	lim, ok := l.limiters[author]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[author] = lim
	}
	l.Unlock()
	return lim.Allow()
}
