package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// testTokenValidator accepts a fixed set of tokens.
type testTokenValidator map[string]string

func (v testTokenValidator) ValidateToken(tokenString string) (OperatorGetter, error) {
	op, ok := v[tokenString]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return testClaims(op), nil
}

type testClaims string

func (c testClaims) GetOperator() string { return string(c) }

func TestAuthMiddleware(t *testing.T) {
	validator := testTokenValidator{"valid-token": "ops"}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantOp     string
	}{
		{"valid token", "Bearer valid-token", http.StatusOK, "ops"},
		{"lowercase scheme", "bearer valid-token", http.StatusOK, "ops"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic valid-token", http.StatusUnauthorized, ""},
		{"no token", "Bearer", http.StatusUnauthorized, ""},
		{"extra parts", "Bearer valid-token extra", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer other", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotOp string
			called := false
			handler := AuthMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				gotOp = Operator(r)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/runs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, called)
			assert.Equal(t, tt.wantOp, gotOp)
		})
	}
}

func TestOperator_Unauthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, Operator(req))
}
