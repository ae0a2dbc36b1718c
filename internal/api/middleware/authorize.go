package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gamecloud/gateway/internal/auth"
	"github.com/gamecloud/gateway/internal/routing"
	pkgmw "github.com/gamecloud/gateway/pkg/middleware"
)

// TokenVerifier validates a raw bearer token. Implemented by
// *auth.Verifier; tests substitute fakes.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*auth.Identity, error)
}

// Authorize gates a route on the effective scope of its target. When
// the computed (ms, resource, action) is public the request passes
// through untouched; otherwise the bearer token must validate against
// the identity provider, and the flattened identity lands in the
// context.
//
// action is the implicit CRUD name for the fixed routes, or empty for
// custom-action routes, where the name comes from the URL instead.
func Authorize(table *routing.Table, verifier TokenVerifier, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ms := chi.URLParam(r, "ms")
			resource := chi.URLParam(r, "resource")
			act := action
			if act == "" {
				act = chi.URLParam(r, "action")
			}

			if table.IsPublic(ms, resource, act) {
				next.ServeHTTP(w, r)
				return
			}

			raw := bearerToken(r)
			if raw == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gamecloud"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			identity, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				log.Debug().
					Err(err).
					Str("ms", ms).
					Str("resource", resource).
					Str("trace_id", GetTraceID(r.Context())).
					Msg("Token rejected")
				w.Header().Set("WWW-Authenticate", `Bearer realm="gamecloud", error="invalid_token"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(pkgmw.SetIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
