package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	authz "github.com/swasthyasetu/platform/internal/auth"
	"github.com/swasthyasetu/platform/internal/shared/config"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// User represents a session holder from JWT claims: a patient or a platform admin.
type User struct {
	ID        types.ID   `json:"sub"`
	Role      authz.Role `json:"role"`
	SessionID string     `json:"session_id"`
}

// Claims extends JWT claims with platform-specific data
type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
}

// Middleware creates JWT authentication middleware for session endpoints.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, errors.Unauthenticated("missing authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
				writeError(w, errors.Unauthenticated("invalid authorization header format"))
				return
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || !token.Valid {
				writeError(w, errors.Unauthenticated("invalid token"))
				return
			}

			role, ok := authz.ParseRole(claims.Role)
			if !ok || claims.Subject == "" {
				writeError(w, errors.Unauthenticated("invalid token claims"))
				return
			}

			user := &User{
				ID:        types.ID(claims.Subject),
				Role:      role,
				SessionID: claims.SessionID,
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser extracts the user from request context
func GetUser(ctx context.Context) *User {
	user, ok := ctx.Value(UserContextKey).(*User)
	if !ok {
		return nil
	}
	return user
}

// WithUser returns a context carrying user. Used by tests and internal callers.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// RequireRoles creates middleware that requires one of the given roles
func RequireRoles(roles ...authz.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				writeError(w, errors.Unauthenticated("authentication required"))
				return
			}

			if !authz.HasAnyRole(user.Role, roles...) {
				writeError(w, errors.Forbidden("insufficient permissions"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePatientSelf allows a patient session only for its own patient id,
// taken from the named URL parameter.
func RequirePatientSelf(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				writeError(w, errors.Unauthenticated("authentication required"))
				return
			}

			if user.Role != authz.RolePatient || string(user.ID) != chi.URLParam(r, param) {
				writeError(w, errors.Forbidden("patients may only access their own data"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IssueToken signs a session token for subject acting as role.
func IssueToken(cfg config.AuthConfig, session authz.SessionConfig, subject types.ID, role authz.Role, now time.Time) (string, time.Time, error) {
	if _, ok := authz.ParseRole(string(role)); !ok {
		return "", time.Time{}, fmt.Errorf("unknown role %q", role)
	}
	if role != authz.RolePatient && role != authz.RolePlatformAdmin {
		return "", time.Time{}, fmt.Errorf("role %q does not use session tokens", role)
	}

	ttl := session.TTLFor(role)
	if cfg.TokenTTL > 0 && role == authz.RolePatient {
		ttl = cfg.TokenTTL
	}
	expiresAt := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:      string(role),
		SessionID: uuid.New().String(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func writeError(w http.ResponseWriter, err error) {
	status, code, message, _ := errors.Public(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
