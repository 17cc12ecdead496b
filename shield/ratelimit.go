package shield

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateConfig configures per-client token buckets.
type RateConfig struct {
	// PerMinute is the sustained request rate per client. Default 30.
	PerMinute int
	// Burst is the bucket size. Default 10.
	Burst int
	// IdleTTL drops buckets unused for this long. Default 10m.
	IdleTTL time.Duration
	// Exclude lists path prefixes that bypass limiting.
	Exclude []string
	// Now is the clock. Default time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

func (c *RateConfig) defaults() {
	if c.PerMinute <= 0 {
		c.PerMinute = 30
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP. Its state is owned by
// the value, so every server or test builds its own.
type RateLimiter struct {
	cfg     RateConfig
	limit   rate.Limit
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter creates a limiter. Call StartGC to drop idle buckets.
func NewRateLimiter(cfg RateConfig) *RateLimiter {
	cfg.defaults()
	return &RateLimiter{
		cfg:     cfg,
		limit:   rate.Limit(float64(cfg.PerMinute) / 60),
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token for ip. When the bucket is empty it returns
// false and how long until a token is available.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	now := rl.cfg.Now()
	rl.mu.Lock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.cfg.Burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	if b.lim.AllowN(now, 1) {
		return true, 0
	}
	r := b.lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// GC drops buckets idle for longer than IdleTTL and returns how many.
func (rl *RateLimiter) GC() int {
	cutoff := rl.cfg.Now().Add(-rl.cfg.IdleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
			n++
		}
	}
	return n
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// StartGC runs GC every IdleTTL until done is closed.
func (rl *RateLimiter) StartGC(done <-chan struct{}) {
	tick := time.NewTicker(rl.cfg.IdleTTL)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				if n := rl.GC(); n > 0 {
					rl.cfg.Logger.Debug("ratelimit: idle buckets dropped", "count", n)
				}
			}
		}
	}()
}

// Middleware rejects over-budget clients with 429 and a JSON body.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.cfg.Exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		ip := ExtractIP(r)
		ok, wait := rl.Allow(ip)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "retry_after", wait)

		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "RateLimited",
			"message": "demasiadas solicitudes, intente más tarde",
		})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
