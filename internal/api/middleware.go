/**
 * @description
 * Authentication middleware. Funders authenticate with an HS256 bearer token
 * whose subject is their account id. Executor callbacks and other
 * server-to-server calls present the shared internal API key.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token parsing and validation.
 */

package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// FunderIDContextKey is a custom type for the context key to avoid collisions.
type FunderIDContextKey string

const funderIDKey FunderIDContextKey = "funderID"

// FunderAuthMiddleware validates bearer tokens signed with secret and puts
// the subject claim on the request context.
func FunderAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}
			if secret == "" {
				http.Error(w, "Authentication is not configured", http.StatusServiceUnavailable)
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			funderID, err := claims.GetSubject()
			if err != nil || strings.TrimSpace(funderID) == "" {
				http.Error(w, "Subject not found in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), funderIDKey, strings.TrimSpace(funderID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetFunderID retrieves the authenticated funder account from the context.
func GetFunderID(ctx context.Context) (string, bool) {
	funderID, ok := ctx.Value(funderIDKey).(string)
	return funderID, ok
}

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
