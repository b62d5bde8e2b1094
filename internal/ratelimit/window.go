package ratelimit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// Defaults match the public chat widget: 10 messages per visitor per day.
const (
	DefaultMaxRequests = 10
	DefaultWindow      = 24 * time.Hour
)

// Limiter is the contract the chat handlers depend on. Denial is a normal
// result, never an error.
type Limiter interface {
	Check(ctx context.Context, identity string) Decision
	Increment(ctx context.Context, identity string)
	CheckAndIncrement(ctx context.Context, identity string) Decision
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// ResetAtMillis returns ResetAt as epoch milliseconds, the unit used on the wire.
func (d Decision) ResetAtMillis() int64 { return d.ResetAt.UnixMilli() }

// Window is one identity's counter. The JSON form is the persisted layout
// shared with clients: {"count":<int>,"resetAt":<epoch-ms>}.
type Window struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"resetAt"`
}

func newWindow(now time.Time, d time.Duration) Window {
	return Window{ResetAt: now.Add(d).UnixMilli()}
}

// expired reports whether the window has rolled over at now
func (w Window) expired(now time.Time) bool {
	return now.UnixMilli() >= w.ResetAt
}

func (w Window) decision(max int) Decision {
	return Decision{
		Allowed:   w.Count < max,
		Remaining: remaining(max, w.Count),
		ResetAt:   time.UnixMilli(w.ResetAt),
	}
}

func remaining(max, count int) int {
	if count >= max {
		return 0
	}
	return max - count
}

// DecodeWindow parses a persisted window. Anything that is not a
// well-formed window is an error; callers decide whether to fail open.
func DecodeWindow(raw string) (Window, error) {
	var w Window
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Window{}, xerrors.Wrap(err, "decode rate limit window")
	}
	if w.Count < 0 {
		return Window{}, xerrors.Newf("decode rate limit window: negative count %d", w.Count)
	}
	if w.ResetAt <= 0 {
		return Window{}, xerrors.Newf("decode rate limit window: invalid resetAt %d", w.ResetAt)
	}
	return w, nil
}

// Encode returns the persisted JSON form of w.
func (w Window) Encode() string {
	b, _ := json.Marshal(w)
	return string(b)
}
