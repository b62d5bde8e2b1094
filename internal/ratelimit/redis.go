package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkAndIncrScript atomically reads the counter and increments it only when
// it is under the limit. Returns {allowed, count, pttl}.
var checkAndIncrScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local ttl = redis.call('PTTL', KEYS[1])
if count >= tonumber(ARGV[1]) then
  return {0, count, ttl}
end
count = redis.call('INCR', KEYS[1])
if count == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {1, count, ttl}
`)

// incrScript increments unconditionally, starting a window on the first hit. Returns {count, pttl}.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisWindow is a fixed window limiter shared across instances through
// Redis. A window is a counter key whose expiry is the reset time; Redis
// drops it when the window ends, so no sweep is needed.
type RedisWindow struct {
	client redis.UniversalClient
	scope  string
	max    int
	window time.Duration
	now    func() time.Time

	// OnBackendError is called when Redis fails; the limiter then fails open
	OnBackendError func(err error)

	// OnDenied is called on every rejection
	OnDenied func(identity string)
}

// RedisOptions configures a RedisWindow.
type RedisOptions struct {
	// Scope namespaces keys so separate limiters can share a database, e.g. "public-chat"
	Scope          string
	Max            int
	Window         time.Duration
	Now            func() time.Time
	OnBackendError func(err error)
	OnDenied       func(identity string)
}

// NewRedis returns a RedisWindow using client, typically a *redis.Client.
func NewRedis(client redis.UniversalClient, o RedisOptions) *RedisWindow {
	r := &RedisWindow{
		client:         client,
		scope:          o.Scope,
		max:            o.Max,
		window:         o.Window,
		now:            o.Now,
		OnBackendError: o.OnBackendError,
		OnDenied:       o.OnDenied,
	}
	if r.scope == "" {
		r.scope = "default"
	}
	if r.max <= 0 {
		r.max = DefaultMaxRequests
	}
	if r.window <= 0 {
		r.window = DefaultWindow
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Max returns the configured requests per window.
func (r *RedisWindow) Max() int { return r.max }

// Window returns the configured window length.
func (r *RedisWindow) Window() time.Duration { return r.window }

func (r *RedisWindow) key(identity string) string {
	return "ratelimit:" + r.scope + ":" + identity
}

// resetAt converts a key ttl into an absolute reset time. A missing key
// (ttl < 0) means a fresh window starting now.
func (r *RedisWindow) resetAt(now time.Time, pttl int64) time.Time {
	if pttl < 0 {
		return now.Add(r.window)
	}
	return now.Add(time.Duration(pttl) * time.Millisecond)
}

// failOpen is the decision served when Redis is unavailable
func (r *RedisWindow) failOpen(err error) Decision {
	if r.OnBackendError != nil {
		r.OnBackendError(err)
	}
	return Decision{Allowed: true, Remaining: r.max, ResetAt: r.now().Add(r.window)}
}

// Check reads the identity's window without consuming a request.
func (r *RedisWindow) Check(ctx context.Context, identity string) Decision {
	now := r.now()
	key := r.key(identity)

	count, err := r.client.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return r.failOpen(err)
	}
	pttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return r.failOpen(err)
	}
	ms := int64(-1)
	if pttl > 0 {
		ms = pttl.Milliseconds()
	}
	return Decision{
		Allowed:   count < r.max,
		Remaining: remaining(r.max, count),
		ResetAt:   r.resetAt(now, ms),
	}
}

// Increment consumes one request for identity.
func (r *RedisWindow) Increment(ctx context.Context, identity string) {
	if err := incrScript.Run(ctx, r.client, []string{r.key(identity)}, r.window.Milliseconds()).Err(); err != nil {
		if r.OnBackendError != nil {
			r.OnBackendError(err)
		}
	}
}

// CheckAndIncrement consumes a request if one is available, atomically on the Redis side.
func (r *RedisWindow) CheckAndIncrement(ctx context.Context, identity string) Decision {
	now := r.now()
	vals, err := checkAndIncrScript.Run(ctx, r.client, []string{r.key(identity)}, r.max, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return r.failOpen(err)
	}
	d, ok := r.decisionFromScript(now, vals)
	if !ok {
		return r.failOpen(errUnexpectedReply)
	}
	if !d.Allowed && r.OnDenied != nil {
		r.OnDenied(identity)
	}
	return d
}

func (r *RedisWindow) decisionFromScript(now time.Time, vals []int64) (Decision, bool) {
	if len(vals) != 3 {
		return Decision{}, false
	}
	allowed, count, pttl := vals[0] == 1, int(vals[1]), vals[2]
	d := Decision{
		Allowed:   allowed,
		Remaining: remaining(r.max, count),
		ResetAt:   r.resetAt(now, pttl),
	}
	if !allowed {
		d.Remaining = 0
	}
	return d, true
}

var errUnexpectedReply = errors.New("ratelimit: unexpected reply from redis script")

var _ Limiter = (*RedisWindow)(nil)
