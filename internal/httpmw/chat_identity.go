package httpmw

import (
	"net"
	"net/http"
	"strings"
)

// UnknownIdentity is used when a request carries no usable address.
const UnknownIdentity = "unknown"

// ChatIdentity returns the key the chat limiter counts a request under:
// the first X-Forwarded-For entry, then X-Real-Ip, then the resolved client
// address, then the peer address. Forwarded headers only reach this point
// when ClientIP accepted them from a trusted proxy.
func ChatIdentity(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		if v := strings.TrimSpace(first); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-Ip")); v != "" {
		return v
	}
	if v := ClientIPFromContext(r.Context()); v != "" {
		return v
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return UnknownIdentity
}
