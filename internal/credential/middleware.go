package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	authz "github.com/swasthyasetu/platform/internal/auth"
	"github.com/swasthyasetu/platform/internal/shared/errors"
)

type contextKey string

const authContextKey contextKey = "credential"

// Header names for institution callers
const (
	HeaderRole        = "X-User-Role"
	HeaderInstitution = "X-Institution-ID"
)

// Middleware validates the presented credential for every request and stores
// the AuthContext in the request context.
func Middleware(v *Validator, allowed ...authz.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := v.Validate(r.Context(), presentedFrom(r), allowed)
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
		})
	}
}

// presentedFrom reads the Authorization, X-User-Role and X-Institution-ID
// headers. A header that is not a bearer token yields an empty key.
func presentedFrom(r *http.Request) Presented {
	p := Presented{
		Role:          r.Header.Get(HeaderRole),
		InstitutionID: r.Header.Get(HeaderInstitution),
	}
	scheme, key, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "bearer") {
		p.BearerKey = key
	}
	return p
}

// FromContext returns the AuthContext stored by Middleware
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey).(*AuthContext)
	return ac, ok && ac != nil
}

// WithAuthContext returns a context carrying ac
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

func writeError(w http.ResponseWriter, err error) {
	status, code, message, details := errors.Public(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error":   message,
		"code":    code,
		"details": details,
	})
}
