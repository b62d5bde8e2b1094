package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// forwardedHeaders are only honoured from trusted proxies and are removed
// from the request otherwise, so nothing downstream reads a spoofed value.
var forwardedHeaders = []string{"X-Forwarded-For", "X-Forwarded-Proto", "X-Real-Ip"}

// ClientIPOptions configures client address extraction.
type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies in front of the server.
	// 0 ignores X-Forwarded-For, 1 takes its last entry (single load
	// balancer), 2 the second from last (CDN then load balancer), and so on.
	TrustedHops int
}

// ClientIP stores the client address in the context, trusting no proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func stripForwarded(r *http.Request) {
	for _, h := range forwardedHeaders {
		r.Header.Del(h)
	}
}

// resolveClientAddr returns the client address. Forwarded headers are only
// believed when the direct peer is a private address and proxies are
// configured; in every other case they are stripped and the peer address wins.
// When they are believed, X-Forwarded-For is trimmed to start at the
// resolved entry.
func resolveClientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		stripForwarded(r)
		return "0.0.0.0"
	}

	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		stripForwarded(r)
		return r.RemoteAddr
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		stripForwarded(r)
		return "0.0.0.0"
	}

	if !ip.IsPrivate() || trustedHops <= 0 {
		stripForwarded(r)
		return peer
	}

	xf := r.Header.Get("X-Forwarded-For")
	if xf == "" {
		// nothing forwarded, so any X-Real-Ip came from the visitor
		r.Header.Del("X-Real-Ip")
		return peer
	}
	parts := strings.Split(xf, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer hops than configured proxies, fail closed
		stripForwarded(r)
		return peer
	}
	candidate := strings.TrimSpace(parts[idx])
	if net.ParseIP(candidate) == nil {
		stripForwarded(r)
		return peer
	}
	// entries left of the resolved one were written by the visitor; drop
	// them so readers of the first entry see the trusted address
	kept := parts[idx:]
	for i := range kept {
		kept[i] = strings.TrimSpace(kept[i])
	}
	r.Header.Set("X-Forwarded-For", strings.Join(kept, ", "))
	r.Header.Set("X-Real-Ip", candidate)
	return candidate
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
