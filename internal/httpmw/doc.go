// Package httpmw provides HTTP middleware for the public-facing server.
//
// httpserver.NewHandler composes the global chain, outermost first:
// security headers, panic recovery, request ID, client IP resolution, the
// per-address burst guard, OTel tracing, trace id response headers, metrics
// and the request-scoped logger. Inside the chi router each request then
// gets route annotation, an access log line and a body size limit, and the
// admin group adds AdminToken.
//
// ChatIdentity derives the key the daily chat limiter counts against. It
// reads forwarded headers, so it is only meaningful behind ClientIP, which
// strips them from untrusted peers.
//
// User-supplied data (query params, user-agent, headers, the Host header)
// is never logged.
package httpmw
