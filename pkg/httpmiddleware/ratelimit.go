package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MessageRateLimited is returned with 429 responses.
const MessageRateLimited = "요청이 너무 많습니다. 잠시 후 다시 시도해주세요."

// RateLimitConfig configures the sliding window limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// Key identifies the caller. Defaults to KeyByHeader("api_key").
	Key func(*http.Request) string
}

// KeyByHeader keys callers by a digest of the given header, falling back to
// the client address when the header is absent.
func KeyByHeader(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		v := r.Header.Get(name)
		if v == "" {
			return "ip:" + clientIP(r)
		}
		sum := sha256.Sum256([]byte(v))
		return "key:" + hex.EncodeToString(sum[:8])
	}
}

// window counts requests in the current and previous fixed window. The
// effective count weights the previous window by its remaining overlap.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// Limiter is a per-key sliding window rate limiter.
type Limiter struct {
	max    int
	period time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

// NewLimiter creates a Limiter allowing max requests per period.
func NewLimiter(max int, period time.Duration) *Limiter {
	return &Limiter{max: max, period: period, windows: map[string]*window{}}
}

// Allow records a request for key at now. It reports the remaining budget,
// when the current window resets, and whether the request may proceed.
func (l *Limiter) Allow(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil {
		w = &window{start: now.Truncate(l.period)}
		l.windows[key] = w
	}
	switch elapsed := now.Sub(w.start); {
	case elapsed >= 2*l.period:
		w.prev, w.curr = 0, 0
		w.start = now.Truncate(l.period)
	case elapsed >= l.period:
		w.prev, w.curr = w.curr, 0
		w.start = w.start.Add(l.period)
	}

	overlap := 1 - now.Sub(w.start).Seconds()/l.period.Seconds()
	effective := w.prev*math.Max(overlap, 0) + w.curr
	reset = w.start.Add(l.period)
	if effective >= float64(l.max) {
		return 0, reset, false
	}
	w.curr++
	return max(l.max-int(math.Ceil(effective+1)), 0), reset, true
}

// Sweep drops keys idle for more than two periods.
func (l *Limiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.windows {
		if now.Sub(w.start) >= 2*l.period {
			delete(l.windows, k)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// RateLimit rejects callers exceeding cfg.Max requests per cfg.Window with
// 429. Every response carries X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return limitWith(NewLimiter(cfg.Max, cfg.Window), cfg)
}

// RateLimitWithCleanup is RateLimit plus a sweeper evicting idle keys until
// ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewLimiter(cfg.Max, cfg.Window)
	go sweep(ctx, l, 2*cfg.Window)
	return limitWith(l, cfg)
}

func limitWith(l *Limiter, cfg RateLimitConfig) Middleware {
	if cfg.Key == nil {
		cfg.Key = KeyByHeader("api_key")
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, reset, ok := l.Allow(cfg.Key(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				wait := max(time.Until(reset), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, MessageRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sweep(ctx context.Context, l *Limiter, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.Sweep(now)
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
