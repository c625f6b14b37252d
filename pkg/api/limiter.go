package api

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RatePolicy is a token bucket: RPS refill, Burst capacity.
type RatePolicy struct {
	RPS   float64
	Burst int
}

// LimiterStore holds token buckets keyed by client.
type LimiterStore interface {
	Allow(ctx context.Context, key string, policy RatePolicy) (bool, error)
}

// MemoryLimiterStore keeps one rate.Limiter per key in process memory.
type MemoryLimiterStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	idleTTL  time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiterStore creates a store that forgets keys idle for idleTTL.
func NewMemoryLimiterStore(idleTTL time.Duration) *MemoryLimiterStore {
	if idleTTL <= 0 {
		idleTTL = 3 * time.Minute
	}
	return &MemoryLimiterStore{visitors: make(map[string]*visitor), idleTTL: idleTTL}
}

func (s *MemoryLimiterStore) Allow(_ context.Context, key string, policy RatePolicy) (bool, error) {
	s.mu.Lock()
	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(policy.RPS), policy.Burst)}
		s.visitors[key] = v
	}
	v.lastSeen = time.Now()
	s.mu.Unlock()
	return v.limiter.Allow(), nil
}

// Sweep drops idle keys; it returns how many were removed.
func (s *MemoryLimiterStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.idleTTL {
			delete(s.visitors, key)
			n++
		}
	}
	return n
}

// RunSweeper calls Sweep every minute until ctx is done.
func (s *MemoryLimiterStore) RunSweeper(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.Sweep(now)
		}
	}
}

// RateLimiter enforces Policy per client IP. A store error fails closed.
type RateLimiter struct {
	Store  LimiterStore
	Policy RatePolicy
	Logger *slog.Logger
	// OnReject is called for every 429, if set.
	OnReject func()
}

// Middleware wraps next with the limiter.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		ok, err := l.Store.Allow(r.Context(), clientIP(r), l.Policy)
		if err != nil {
			logger.ErrorContext(r.Context(), "rate limiter unavailable", "error", err)
			WriteUnavailable(w, r, "Rate limiter unavailable")
			return
		}
		if !ok {
			if l.OnReject != nil {
				l.OnReject()
			}
			WriteTooManyRequests(w, r, retryAfter(l.Policy))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfter(p RatePolicy) int {
	if p.RPS <= 0 || p.RPS >= 1 {
		return 1
	}
	return int(math.Ceil(1 / p.RPS))
}
