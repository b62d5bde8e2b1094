package ratelimit

import (
	"context"
	"sync"
	"time"
)

// windowEntry is one identity's live window in the server map
type windowEntry struct {
	win Window
	// logged is set on the first denial in this window so the first-denied
	// hook fires once per identity per window, reset on rollover
	logged bool
}

// FixedWindow is the server-side, in-memory fixed window limiter keyed by
// identity. All operations are serialized by a single mutex, which makes
// CheckAndIncrement linearizable for every identity.
type FixedWindow struct {
	mu      sync.Mutex
	windows map[string]*windowEntry

	max    int
	window time.Duration
	sweep  time.Duration
	now    func() time.Time

	// OnFirstDenied is called once per identity per window when it is first rejected
	OnFirstDenied func(identity string)

	// OnDenied is called on every rejection, used for prometheus counters
	OnDenied func(identity string)
}

type Option func(*FixedWindow)

// WithLimit sets the number of requests allowed per window and the window length.
// Non-positive values keep the defaults.
func WithLimit(max int, window time.Duration) Option {
	return func(l *FixedWindow) {
		if max > 0 {
			l.max = max
		}
		if window > 0 {
			l.window = window
		}
	}
}

// WithSweepInterval controls how often expired windows are removed from the map.
func WithSweepInterval(d time.Duration) Option {
	return func(l *FixedWindow) {
		if d > 0 {
			l.sweep = d
		}
	}
}

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindow) {
		if now != nil {
			l.now = now
		}
	}
}

// WithOnFirstDenied sets a callback for the first denial per identity per window, used for logging.
func WithOnFirstDenied(fn func(identity string)) Option {
	return func(l *FixedWindow) {
		l.OnFirstDenied = fn
	}
}

// WithOnDenied sets a callback for every denied request.
func WithOnDenied(fn func(identity string)) Option {
	return func(l *FixedWindow) {
		l.OnDenied = fn
	}
}

// New creates a FixedWindow and starts the background sweep, which stops when ctx is done.
func New(ctx context.Context, opts ...Option) *FixedWindow {
	l := &FixedWindow{
		windows: make(map[string]*windowEntry),
		max:     DefaultMaxRequests,
		window:  DefaultWindow,
		sweep:   time.Hour,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	go l.run(ctx)
	return l
}

// Max returns the configured requests per window.
func (l *FixedWindow) Max() int { return l.max }

// Window returns the configured window length.
func (l *FixedWindow) Window() time.Duration { return l.window }

// current returns the live entry for identity, replacing it with a fresh
// window when absent or expired. Caller holds l.mu.
func (l *FixedWindow) current(identity string, now time.Time) *windowEntry {
	e, ok := l.windows[identity]
	if !ok || e.win.expired(now) {
		e = &windowEntry{win: newWindow(now, l.window)}
		l.windows[identity] = e
	}
	return e
}

// Check reports whether identity may make another request without consuming one.
func (l *FixedWindow) Check(_ context.Context, identity string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current(identity, l.now()).win.decision(l.max)
}

// Increment consumes one request for identity. It does not saturate; a count
// past the maximum just keeps the identity blocked until the window rolls.
func (l *FixedWindow) Increment(_ context.Context, identity string) {
	l.mu.Lock()
	l.current(identity, l.now()).win.Count++
	l.mu.Unlock()
}

// CheckAndIncrement consumes a request if one is available. Remaining on an
// allowed decision is the count left after this request.
func (l *FixedWindow) CheckAndIncrement(_ context.Context, identity string) Decision {
	l.mu.Lock()
	e := l.current(identity, l.now())
	if e.win.Count < l.max {
		e.win.Count++
		d := e.win.decision(l.max)
		l.mu.Unlock()
		d.Allowed = true
		return d
	}

	d := e.win.decision(l.max)
	first := !e.logged
	e.logged = true
	// hooks may log or touch metrics, keep them outside the lock
	l.mu.Unlock()

	if first && l.OnFirstDenied != nil {
		l.OnFirstDenied(identity)
	}
	if l.OnDenied != nil {
		l.OnDenied(identity)
	}
	return d
}

// Sweep removes every window that has expired at now and returns how many were removed.
func (l *FixedWindow) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, e := range l.windows {
		if e.win.expired(now) {
			delete(l.windows, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked identities.
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// run sweeps on a coarse interval. Check and CheckAndIncrement already treat
// expired windows as fresh, this only bounds memory.
func (l *FixedWindow) run(ctx context.Context) {
	ticker := time.NewTicker(l.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(l.now())
		}
	}
}

var _ Limiter = (*FixedWindow)(nil)
