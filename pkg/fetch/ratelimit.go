package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces out calls per host. GitHub applies secondary rate limits
// to bursts of search and list calls even when the hourly quota is left.
type RateLimiter struct {
	mu       sync.Mutex
	last     map[string]time.Time
	fallback time.Duration
	log      *logrus.Entry
}

// NewRateLimiter returns a limiter that uses fallback when callers pass no delay.
func NewRateLimiter(fallback time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		last:     make(map[string]time.Time),
		fallback: fallback,
		log:      log,
	}
}

// ApplyDelay blocks until minDelay (+/- 10% jitter) has passed since the last
// recorded call to host, or until ctx is done. The first call to a host never waits.
func (rl *RateLimiter) ApplyDelay(ctx context.Context, host string, minDelay time.Duration) {
	if minDelay <= 0 {
		minDelay = rl.fallback
	}
	if minDelay <= 0 {
		return
	}

	rl.mu.Lock()
	last, seen := rl.last[host]
	rl.mu.Unlock()
	if !seen {
		return
	}

	elapsed := time.Since(last)
	wait := withJitter(minDelay - elapsed)
	if wait <= 0 {
		return
	}

	rl.log.WithFields(logrus.Fields{"host": host, "wait": wait, "min_delay": minDelay}).Debug("Spacing API call")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// UpdateLastRequestTime records a call to host. Call it after every attempt.
func (rl *RateLimiter) UpdateLastRequestTime(host string) {
	rl.mu.Lock()
	rl.last[host] = time.Now()
	rl.mu.Unlock()
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if span := int64(d) / 5; span > 0 {
		d += time.Duration(rand.Int63n(span)) - d/10
	}
	return max(d, 0)
}
