package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MrSnakeDoc/relay/internal/utils"
)

// RateLimitConfig configures a per-client token bucket.
type RateLimitConfig struct {
	Burst             int  // bucket capacity, 0 disables the limiter
	RefillPerIPPerMin int  // tokens added per client per minute
	MaxEntries        int  // clients tracked at once, least recently seen dropped first
	TrustProxy        bool // resolve the client from proxy headers
}

type bucket struct {
	mu      sync.Mutex
	tokens  float64
	lastRef time.Time
}

type limiter struct {
	rate     float64
	capacity float64
	mu       sync.Mutex
	buckets  *lru.Cache[string, *bucket]
	now      func() time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.RefillPerIPPerMin < 1 {
		cfg.RefillPerIPPerMin = 1
	}
	if cfg.MaxEntries < 1 {
		cfg.MaxEntries = 10_000
	}
	buckets, err := lru.New[string, *bucket](cfg.MaxEntries)
	if err != nil {
		// only fails for non-positive sizes, excluded above
		panic(err)
	}
	return &limiter{
		rate:     float64(cfg.RefillPerIPPerMin) / 60.0,
		capacity: float64(cfg.Burst),
		buckets:  buckets,
		now:      time.Now,
	}
}

func (l *limiter) getBucket(key string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: l.capacity, lastRef: now}
		l.buckets.Add(key, b)
	}
	return b
}

// allow takes one token for key. When none is left it reports how many
// seconds until the next one.
func (l *limiter) allow(key string) (ok bool, remaining int, retryAfterSec int) {
	now := l.now()
	b := l.getBucket(key, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.lastRef).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.capacity, b.tokens+elapsed*l.rate)
		b.lastRef = now
	}

	if b.tokens >= 1.0 {
		b.tokens--
		return true, int(math.Floor(b.tokens)), 0
	}

	sec := int(math.Ceil((1.0 - b.tokens) / l.rate))
	return false, 0, max(sec, 1)
}

// RateLimit throttles each client to cfg. A zero Burst returns a
// passthrough.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Burst <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(cfg)
	limitStr := strconv.Itoa(cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, remaining, retry := l.allow(utils.ClientIP(r, cfg.TrustProxy))
			w.Header().Set("X-RateLimit-Limit", limitStr)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
