// Package ratelimit provides the request limiters used by the server and
// the chat client.
//
//   - [FixedWindow] counts chat requests per identity in a fixed window
//     (10 per 24h by default). It is the authoritative limiter, held in
//     process memory and reset on restart.
//   - [RedisWindow] is the same contract backed by Redis for deployments
//     with more than one instance.
//   - [Advisory] is the caller-side copy of the fixed window, persisted in a
//     small key/value store so a client can skip requests that would be
//     rejected anyway.
//
// None of these protect against distributed attacks. Identities are
// opaque strings; rotating identities gets more allowance, which is
// accepted.
package ratelimit
