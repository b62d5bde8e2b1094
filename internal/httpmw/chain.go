package httpmw

import (
	"net/http"
	"slices"
)

// Chain wraps h so the first middleware listed sees the request first. Nil
// entries stand for optional middleware that is switched off, such as a
// disabled flood guard, and are skipped.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for _, mw := range slices.Backward(mws) {
		if mw != nil {
			h = mw(h)
		}
	}
	return h
}
