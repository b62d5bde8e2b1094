package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/health"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
)

// DefaultMaxBodyBytes fits a chat prompt plus ten turns of history and the
// largest admin profile document with room to spare.
const DefaultMaxBodyBytes = 64 << 10

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // called for each recovered panic, wired to the panics counter
	MetricsMW    func(http.Handler) http.Handler
	// RateLimitMW is the per-address burst guard, it runs after client IP resolution
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe
	// APIRoutes mounts the application routes (chat, portfolio, admin)
	APIRoutes    func(chi.Router)
	MaxBodyBytes int64
}
