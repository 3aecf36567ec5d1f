// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers header parsing, token validation and context propagation

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveWithAuth(t *testing.T, v TokenVerifier, header string) (*httptest.ResponseRecorder, *AuthContext) {
	t.Helper()
	var got *AuthContext
	handler := HTTPAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/health/sweep", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, got
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Generate("alice", time.Hour)
	require.NoError(t, err)

	rec, got := serveWithAuth(t, v, "Bearer "+token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Subject)
}

func TestHTTPAuthMiddleware_Rejects(t *testing.T) {
	v := newVerifier(t)
	expired, err := v.Generate("alice", -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		msg    string
	}{
		{"missing header", "", "missing authorization header"},
		{"basic auth", "Basic YWxpY2U6cGFzcw==", "invalid authorization header format"},
		{"empty bearer", "Bearer ", "empty token"},
		{"garbage", "Bearer nope", "invalid token"},
		{"expired", "Bearer " + expired, "token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, got := serveWithAuth(t, v, tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Nil(t, got, "handler must not run")
			assert.JSONEq(t, `{"error":"`+tt.msg+`"}`, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestFromContext_Missing(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	ctx := WithAuth(context.Background(), &AuthContext{Subject: "bob"})
	assert.Equal(t, "bob", FromContext(ctx).Subject)
}
