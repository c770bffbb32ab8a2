package receiver

import (
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// SourceLimiter applies an independent token bucket to each source
type SourceLimiter struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSourceLimiter allows perSecond batches per source with the given burst.
// perSecond <= 0 disables limiting.
func NewSourceLimiter(perSecond float64, burst int) *SourceLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &SourceLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether source may send one more batch now
func (l *SourceLimiter) Allow(source string) bool {
	return l.get(source).Allow()
}

// RetryAfterSeconds is the Retry-After hint for a throttled source
func (l *SourceLimiter) RetryAfterSeconds() int {
	if l.limit == rate.Inf {
		return 1
	}
	return retryAfter(float64(l.limit))
}

// Sources returns how many sources have a bucket
func (l *SourceLimiter) Sources() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *SourceLimiter) get(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[source]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[source] = lim
	}
	return lim
}

func retryAfter(limit float64) int {
	if limit <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(1/limit)))
}
