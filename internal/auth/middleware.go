package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey string

const UserContextKey contextKey = "user"

type FailureObserver interface {
	IncAuthFailures(reason string)
}

// Middleware rejects requests without a valid bearer token and stores the
// claims on the request context.
func Middleware(validator *JWTValidator, observer FailureObserver, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				reject(w, r, observer, logger, "missing_token", "Unauthorized: missing token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				reason := "invalid_token"
				if errors.Is(err, ErrExpiredToken) {
					reason = "expired_token"
				}
				reject(w, r, observer, logger, reason, "Unauthorized: "+err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole wraps next so only callers with at least min role reach it.
// It must run behind Middleware.
func RequireRole(min int, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetUserFromContext(r.Context())
		if claims == nil || !claims.HasRole(min) {
			http.Error(w, "Forbidden: "+ErrForbidden.Error(), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func reject(w http.ResponseWriter, r *http.Request, observer FailureObserver, logger zerolog.Logger, reason, message string) {
	if observer != nil {
		observer.IncAuthFailures(reason)
	}
	logger.Debug().Str("path", r.URL.Path).Str("reason", reason).Msg("Rejected request")
	http.Error(w, message, http.StatusUnauthorized)
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return strings.TrimSpace(parts[1])
		}
	}

	return ""
}

func GetUserFromContext(ctx context.Context) *Claims {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}
