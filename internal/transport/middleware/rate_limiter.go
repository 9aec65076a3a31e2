// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRetryAfter         = "Retry-After"
)

type rateLimitDecision struct {
	Allowed           bool
	LimitPerMinute    int
	Remaining         int
	RetryAfterSeconds int
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// inMemoryRateLimiter keeps one token bucket per client key. Buckets idle
// long enough to be full again are evicted.
type inMemoryRateLimiter struct {
	mu             sync.Mutex
	limitPerMinute int
	buckets        map[string]*tokenBucket
	lastSweep      time.Time
}

func newInMemoryRateLimiter(limitPerMinute int) *inMemoryRateLimiter {
	if limitPerMinute <= 0 {
		limitPerMinute = 1
	}
	return &inMemoryRateLimiter{
		limitPerMinute: limitPerMinute,
		buckets:        make(map[string]*tokenBucket, 32),
	}
}

func (l *inMemoryRateLimiter) Allow(key string, now time.Time) rateLimitDecision {
	capacity := float64(l.limitPerMinute)
	refillPerSecond := capacity / 60.0

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: capacity, lastRefill: now}
		l.buckets[key] = bucket
	}

	elapsedSeconds := now.Sub(bucket.lastRefill).Seconds()
	if elapsedSeconds > 0 {
		bucket.tokens = math.Min(capacity, bucket.tokens+elapsedSeconds*refillPerSecond)
		bucket.lastRefill = now
	}

	decision := rateLimitDecision{
		LimitPerMinute: l.limitPerMinute,
		Remaining:      int(math.Floor(bucket.tokens)),
	}

	if bucket.tokens >= 1 {
		bucket.tokens -= 1
		decision.Allowed = true
		decision.Remaining = int(math.Floor(bucket.tokens))
		return decision
	}

	waitSeconds := int(math.Ceil((1 - bucket.tokens) / refillPerSecond))
	if waitSeconds < 1 {
		waitSeconds = 1
	}
	decision.RetryAfterSeconds = waitSeconds
	return decision
}

func (l *inMemoryRateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastRefill) >= time.Minute {
			delete(l.buckets, key)
		}
	}
}

// RateLimit throttles requests per client address with a token bucket that
// refills limitPerMinute tokens each minute.
func RateLimit(limitPerMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := newInMemoryRateLimiter(limitPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)
			decision := limiter.Allow(client, time.Now())
			w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				logger.Warn("request rate limited", "path", r.URL.Path, "client", client)
				w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
