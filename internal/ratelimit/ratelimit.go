// Package ratelimit provides an in-memory per-client token bucket for the
// public AI endpoints.
package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Limiter is a per-client token bucket. Clients are keyed by r.RemoteAddr,
// which chi's RealIP middleware rewrites from proxy headers.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     float64 // tokens added per second
	burst   float64 // bucket capacity
	maxKeys int
	now     func() time.Time
	counter prometheus.Counter
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCounter sets a Prometheus counter that is incremented on each 429.
func WithCounter(c prometheus.Counter) Option {
	return func(l *Limiter) { l.counter = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithMaxKeys caps the number of tracked clients.
func WithMaxKeys(n int) Option {
	return func(l *Limiter) { l.maxKeys = n }
}

// New creates a limiter admitting rps requests per second per client with
// bursts up to burst.
func New(rps float64, burst int, opts ...Option) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rps:     rps,
		burst:   float64(burst),
		maxKeys: 100000,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup()
	return l
}

// Middleware rejects clients over their budget with 429 and a JSON body in
// the API's error envelope.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.allow(r.RemoteAddr)
		if !ok {
			if l.counter != nil {
				l.counter.Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"message": "too many requests, slow down",
				"kind":    "rate_limited",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow takes a token for key. When none is left it reports how long until
// the next one.
func (l *Limiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictOldest()
		}
		b = &bucket{tokens: l.burst, lastSeen: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastSeen).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.burst, b.tokens+elapsed*l.rps)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		if l.rps <= 0 {
			return false, time.Second
		}
		return false, time.Duration((1 - b.tokens) / l.rps * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

// evictOldest drops the least recently seen client. Caller holds l.mu.
func (l *Limiter) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		first     = true
	)
	for k, b := range l.buckets {
		if first || b.lastSeen.Before(oldest) {
			oldestKey, oldest, first = k, b.lastSeen, false
		}
	}
	if !first {
		delete(l.buckets, oldestKey)
	}
}

// Stop terminates the background cleanup goroutine. It is safe to call more
// than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-10 * time.Minute)
			for k, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
