package httpapi

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	limiterCacheSize = 1000
	limiterIdleTTL   = 5 * time.Minute
)

// RepositoryLimiter throttles deliveries per repository. Limiters of
// repositories that stay idle are evicted.
type RepositoryLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewRepositoryLimiter returns nil when perMinute is not positive.
func NewRepositoryLimiter(perMinute int) *RepositoryLimiter {
	if perMinute <= 0 {
		return nil
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RepositoryLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, limiterIdleTTL),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (l *RepositoryLimiter) Allow(repository string) bool {
	if l == nil {
		return true
	}
	key := strings.ToLower(strings.TrimSpace(repository))

	l.mu.Lock()
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(key, limiter)
	}
	l.mu.Unlock()

	return limiter.Allow()
}
