package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// AllowPublic skips the private-network check, for local development only
	AllowPublic  bool
	UseRecoverMW bool
	OnPanic      func() // called for each recovered panic, wired to the panics counter
}
