// Package webassets embeds the demo portfolio served when the in-memory
// store is started without a seed file.
package webassets

import (
	_ "embed"
)

//go:embed seed/portfolio.json
var defaultSeed []byte

// SeedName labels the embedded seed in logs and errors.
const SeedName = "embedded:seed/portfolio.json"

// DefaultSeed returns a copy of the embedded documents, shaped
// {"collection": {"id": {...}}}.
func DefaultSeed() []byte {
	return append([]byte(nil), defaultSeed...)
}
