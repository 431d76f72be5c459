package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_AcceptsValidBearerToken(t *testing.T) {
	key, pub := generateTestKeyPair(t)
	v, err := NewVerifier(pub, "https://idp.example")
	require.NoError(t, err)

	var gotUserID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = AuthenticatedUserID(r)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/whatever", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "https://idp.example", "user-42", time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()

	Middleware(v, logr.Discard())(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, DeriveUserID("https://idp.example", "user-42"), gotUserID)
}

func TestMiddleware_RejectsMissingAuthorizationHeader(t *testing.T) {
	_, pub := generateTestKeyPair(t)
	v, err := NewVerifier(pub, "https://idp.example")
	require.NoError(t, err)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/v1/whatever", nil)
	rec := httptest.NewRecorder()

	Middleware(v, logr.Discard())(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, called)
}

func TestMiddleware_RejectsMalformedAuthorizationHeader(t *testing.T) {
	_, pub := generateTestKeyPair(t)
	v, err := NewVerifier(pub, "https://idp.example")
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/v1/whatever", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()

	Middleware(v, logr.Discard())(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RejectsExpiredToken(t *testing.T) {
	key, pub := generateTestKeyPair(t)
	v, err := NewVerifier(pub, "https://idp.example")
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/v1/whatever", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "https://idp.example", "user-42", time.Now().Add(-time.Minute)))
	rec := httptest.NewRecorder()

	Middleware(v, logr.Discard())(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatedUserID_ReturnsEmptyStringWhenUnauthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/whatever", nil)
	require.Equal(t, "", AuthenticatedUserID(req))
}

func TestWithIdentity_OverridesPreviouslyStoredIdentity(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserID: "derived-hash"})
	ctx = WithIdentity(ctx, Identity{UserID: "canonical-id"})

	id, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "canonical-id", id.UserID)
}
