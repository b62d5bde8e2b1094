package floodguard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
)

func newTestGuard(t *testing.T, opts ...Option) *Guard {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	all := append([]Option{WithRate(10, 5), WithTTL(time.Minute)}, opts...)
	return New(ctx, all...)
}

func TestAllow_BurstThenReject(t *testing.T) {
	g := newTestGuard(t, WithRate(1, 4))

	for i := 0; i < 4; i++ {
		if !g.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed within burst", i+1)
		}
	}
	if g.Allow("10.0.0.1") {
		t.Fatal("request past burst should be denied")
	}
}

func TestAllow_AddressesIndependent(t *testing.T) {
	g := newTestGuard(t, WithRate(1, 2))

	g.Allow("10.0.0.1")
	g.Allow("10.0.0.1")
	if g.Allow("10.0.0.1") {
		t.Fatal("10.0.0.1 should be exhausted")
	}
	if !g.Allow("10.0.0.2") {
		t.Fatal("10.0.0.2 has its own bucket")
	}
}

func TestHooks_FirstDeniedOnceDeniedEveryTime(t *testing.T) {
	var first, every atomic.Int32
	g := newTestGuard(t,
		WithRate(1, 1),
		WithOnFirstDenied(func(string) { first.Add(1) }),
		WithOnDenied(func(string) { every.Add(1) }),
	)

	g.Allow("10.0.0.1")
	for i := 0; i < 6; i++ {
		g.Allow("10.0.0.1")
	}

	if got := first.Load(); got != 1 {
		t.Errorf("OnFirstDenied = %d, want 1", got)
	}
	if got := every.Load(); got != 6 {
		t.Errorf("OnDenied = %d, want 6", got)
	}
}

func TestEvict_DropsIdleVisitors(t *testing.T) {
	g := newTestGuard(t, WithTTL(time.Minute))

	g.Allow("10.0.0.1")
	if n := g.Evict(time.Now()); n != 0 {
		t.Fatalf("evicted %d fresh entries", n)
	}
	if n := g.Evict(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if g.Len() != 0 {
		t.Fatalf("Len = %d after eviction", g.Len())
	}
}

func TestEvict_ResetsFirstDenied(t *testing.T) {
	var first atomic.Int32
	g := newTestGuard(t, WithRate(1, 1), WithOnFirstDenied(func(string) { first.Add(1) }))

	g.Allow("10.0.0.1")
	g.Allow("10.0.0.1")
	g.Evict(time.Now().Add(time.Hour))
	g.Allow("10.0.0.1")
	g.Allow("10.0.0.1")

	if got := first.Load(); got != 2 {
		t.Fatalf("OnFirstDenied = %d, want 2 after re-entry", got)
	}
}

func TestMaxVisitors_FoldsIntoOverflow(t *testing.T) {
	var capacity atomic.Int32
	g := newTestGuard(t,
		WithRate(1, 1),
		WithMaxVisitors(2),
		WithOnCapacity(func(string) { capacity.Add(1) }),
	)

	g.Allow("10.0.0.1")
	g.Allow("10.0.0.2")

	// both new addresses share the overflow bucket of size 1
	if !g.Allow("10.0.0.3") {
		t.Fatal("first overflow request should be allowed")
	}
	if g.Allow("10.0.0.4") {
		t.Fatal("overflow bucket should be exhausted")
	}
	if got := capacity.Load(); got != 2 {
		t.Errorf("OnCapacity = %d, want 2", got)
	}
	if g.Len() != 3 {
		t.Errorf("Len = %d, want 3", g.Len())
	}
}

func TestDefaults(t *testing.T) {
	g := New(t.Context())
	if g.perSecond != 10 || g.burst != 30 {
		t.Errorf("rate = %v/%d, want 10/30", g.perSecond, g.burst)
	}
	if g.idleTTL != 5*time.Minute {
		t.Errorf("ttl = %v", g.idleTTL)
	}
}

func serveFrom(h http.Handler, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(httpmw.WithClientIP(r.Context(), ip))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_Returns429(t *testing.T) {
	g := newTestGuard(t, WithRate(1, 1))
	var reached atomic.Int32
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached.Add(1)
	}))

	if w := serveFrom(h, "203.0.113.9"); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w := serveFrom(h, "203.0.113.9")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	if got := w.Body.String(); got != `{"error":"too many requests"}` {
		t.Errorf("body = %q", got)
	}
	if reached.Load() != 1 {
		t.Errorf("handler reached %d times, want 1", reached.Load())
	}
}
