package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/saveenergy/linkspeed/internal/config"
)

// RateLimiter enforces a global and a per-IP budget, both expressed in
// requests per minute and refilled continuously.
type RateLimiter struct {
	perIP    int
	global   *bucket
	resolver *ClientIPResolver
	now      func() time.Time

	mu              sync.Mutex
	buckets         map[string]*bucket
	lastCleanup     time.Time
	cleanupInterval time.Duration
	idleTTL         time.Duration
}

type bucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     float64
	lastRefill time.Time
}

func newBucket(capacity int, now time.Time) *bucket {
	return &bucket{capacity: capacity, tokens: float64(capacity), lastRefill: now}
}

func (b *bucket) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.tokens += elapsed.Minutes() * float64(b.capacity)
		if b.tokens > float64(b.capacity) {
			b.tokens = float64(b.capacity)
		}
		b.lastRefill = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (b *bucket) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRefill
}

func NewRateLimiter(cfg *config.Config) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		perIP:           cfg.RateLimitPerIP,
		global:          newBucket(cfg.GlobalRateLimit, now),
		resolver:        NewClientIPResolver(cfg),
		now:             time.Now,
		buckets:         make(map[string]*bucket),
		lastCleanup:     now,
		cleanupInterval: 5 * time.Minute,
		idleTTL:         10 * time.Minute,
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.now()
	if !rl.global.take(now) {
		return false
	}
	return rl.bucketFor(ip, now).take(now)
}

func (rl *RateLimiter) ClientIP(r *http.Request) string {
	return rl.resolver.FromRequest(r)
}

func (rl *RateLimiter) bucketFor(ip string, now time.Time) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastCleanup) >= rl.cleanupInterval {
		for key, b := range rl.buckets {
			if now.Sub(b.idleSince()) >= rl.idleTTL {
				delete(rl.buckets, key)
			}
		}
		rl.lastCleanup = now
	}

	b, ok := rl.buckets[ip]
	if !ok {
		b = newBucket(rl.perIP, now)
		rl.buckets[ip] = b
	}
	return b
}

func (rl *RateLimiter) trackedIPs() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Middleware rejects over-budget requests with 429.
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.ClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			respondJSON(w, map[string]string{"error": "rate limit exceeded"}, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
