package httpmw

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
)

// AdminToken guards the admin routes with a shared bearer token sent as
// "Authorization: Bearer <token>". An empty configured token rejects
// everything.
func AdminToken(token string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			// compare fixed-size digests so timing does not leak the token length
			gotSum := sha256.Sum256([]byte(got))
			if token == "" || !ok || subtle.ConstantTimeCompare(gotSum[:], want[:]) != 1 {
				ctx := r.Context()
				log.FromContext(ctx).Warn(ctx, "admin request rejected", "token_present", ok)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"success":false,"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
