package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimit struct {
	RatePerSecond float64
	Burst         int
	// DefaultTokens is the cost of a request not listed in Tokens.
	DefaultTokens int
	// Tokens maps "METHOD /path" to a per-request token cost.
	Tokens map[string]int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	logger   *slog.Logger
	limits   map[string]RateLimit
	mu       sync.Mutex
	visitors map[string]*rateEntry
	clockNow func() time.Time
	idleTTL  time.Duration
}

func NewRateLimiter(limits map[string]RateLimit, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		logger:   logger,
		limits:   limits,
		visitors: make(map[string]*rateEntry),
		clockNow: time.Now,
		idleTTL:  5 * time.Minute,
	}
}

func (r *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			limit, ok := r.limits[key]
			if !ok {
				next.ServeHTTP(w, req)
				return
			}
			identifier := key + "|" + clientID(req)
			limiter := r.obtainLimiter(identifier, limit)
			if !limiter.AllowN(r.clockNow(), tokenCost(limit, req)) {
				r.logger.Debug("rate limit exceeded", slog.String("route", key), slog.String("client", identifier))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func tokenCost(limit RateLimit, req *http.Request) int {
	if cost, ok := limit.Tokens[req.Method+" "+req.URL.Path]; ok && cost > 0 {
		return cost
	}
	if limit.DefaultTokens > 0 {
		return limit.DefaultTokens
	}
	return 1
}

func (r *RateLimiter) obtainLimiter(id string, cfg RateLimit) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	r.evictIdleLocked(now)
	entry, ok := r.visitors[id]
	if ok {
		entry.lastSeen = now
		return entry.limiter
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	r.visitors[id] = &rateEntry{limiter: limiter, lastSeen: now}
	return limiter
}

func (r *RateLimiter) evictIdleLocked(now time.Time) {
	for id, entry := range r.visitors {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.visitors, id)
		}
	}
}

func clientID(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return "key:" + key
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
