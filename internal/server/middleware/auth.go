// Package middleware provides HTTP middleware for authentication.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

// operatorKey is the context key for the authenticated operator.
const operatorKey ContextKey = "operator"

// TokenValidator validates bearer tokens.
// This allows the middleware to work with any token service implementation.
type TokenValidator interface {
	ValidateToken(tokenString string) (OperatorGetter, error)
}

// OperatorGetter extracts the operator name from token claims.
type OperatorGetter interface {
	GetOperator() string
}

// AuthMiddleware rejects requests without a valid bearer token and adds the operator to the request context.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Handle case-insensitive "Bearer" prefix
			parts := strings.Fields(r.Header.Get("Authorization"))
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, claims.GetOperator())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Operator returns the authenticated operator, or "" for unauthenticated requests.
func Operator(r *http.Request) string {
	op, _ := r.Context().Value(operatorKey).(string)
	return op
}
