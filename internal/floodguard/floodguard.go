// Package floodguard is a per-client token bucket applied in front of every
// route. It is separate from the chat message limiter: that one counts
// messages per day, this one caps request bursts per second.
//
// The state lives in process memory and is not shared between instances.
// It does not stop attacks spread across many addresses, and request bodies
// have already been read by the time a request is rejected.
package floodguard

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
)

// overflowKey is the shared bucket used once the visitor table is full
const overflowKey = "\x00overflow"

type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
	// noted is set on the first rejection and cleared when the entry is evicted
	noted bool
}

// Guard holds one token bucket per client address.
type Guard struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perSecond   rate.Limit
	burst       int
	idleTTL     time.Duration
	maxVisitors int
	now         func() time.Time

	// OnFirstDenied is called once per visitor entry on its first rejection
	OnFirstDenied func(ip string)

	// OnDenied is called on every rejection
	OnDenied func(ip string)

	// OnCapacity is called when a new address arrives while the table is full
	// and is folded into the shared overflow bucket
	OnCapacity func(ip string)
}

type Option func(*Guard)

// WithRate sets the refill rate in requests per second and the bucket size.
func WithRate(perSecond float64, burst int) Option {
	return func(g *Guard) {
		g.perSecond = rate.Limit(perSecond)
		g.burst = burst
	}
}

// WithTTL sets how long an idle address is remembered.
func WithTTL(d time.Duration) Option {
	return func(g *Guard) {
		g.idleTTL = d
	}
}

// WithMaxVisitors bounds the number of tracked addresses. Zero means unbounded.
func WithMaxVisitors(n int) Option {
	return func(g *Guard) {
		g.maxVisitors = n
	}
}

func WithOnFirstDenied(fn func(ip string)) Option {
	return func(g *Guard) {
		g.OnFirstDenied = fn
	}
}

func WithOnDenied(fn func(ip string)) Option {
	return func(g *Guard) {
		g.OnDenied = fn
	}
}

func WithOnCapacity(fn func(ip string)) Option {
	return func(g *Guard) {
		g.OnCapacity = fn
	}
}

// New returns a Guard and starts its eviction loop, which exits with ctx.
func New(ctx context.Context, opts ...Option) *Guard {
	g := &Guard{
		visitors:    make(map[string]*visitor),
		perSecond:   10,
		burst:       30,
		idleTTL:     5 * time.Minute,
		maxVisitors: 100_000,
		now:         time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	go g.evictLoop(ctx)
	return g
}

// lookup returns the visitor for ip, creating it if needed. Caller holds g.mu.
func (g *Guard) lookup(ip string) (v *visitor, overflow bool) {
	if v, ok := g.visitors[ip]; ok {
		return v, false
	}
	key := ip
	if g.maxVisitors > 0 && len(g.visitors) >= g.maxVisitors {
		key, overflow = overflowKey, true
		if v, ok := g.visitors[key]; ok {
			return v, true
		}
	}
	v = &visitor{bucket: rate.NewLimiter(g.perSecond, g.burst)}
	g.visitors[key] = v
	return v, overflow
}

// Allow reports whether a request from ip may proceed.
func (g *Guard) Allow(ip string) bool {
	g.mu.Lock()
	v, overflow := g.lookup(ip)
	v.lastSeen = g.now()
	ok := v.bucket.Allow()
	first := !ok && !v.noted
	if first {
		v.noted = true
	}
	g.mu.Unlock()

	if overflow && g.OnCapacity != nil {
		g.OnCapacity(ip)
	}
	if ok {
		return true
	}
	if first && g.OnFirstDenied != nil {
		g.OnFirstDenied(ip)
	}
	if g.OnDenied != nil {
		g.OnDenied(ip)
	}
	return false
}

// Evict drops every address idle for longer than the TTL as of now.
func (g *Guard) Evict(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for ip, v := range g.visitors {
		if now.Sub(v.lastSeen) > g.idleTTL {
			delete(g.visitors, ip)
			n++
		}
	}
	return n
}

// Len returns the number of tracked entries, including the overflow bucket.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.visitors)
}

func (g *Guard) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(g.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Evict(g.now())
		}
	}
}

// Middleware rejects requests over the per-address budget with 429. The
// address comes from httpmw.ClientIP, so it must run after that middleware.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Allow(httpmw.ClientIPFromContext(r.Context())) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			// no budget details here, unlike the chat limiter
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
