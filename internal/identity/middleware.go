/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
)

type contextKey int

const identityContextKey contextKey = 0

// Middleware authenticates every request's Authorization header and,
// on success, injects the caller's Identity into the request context
// before calling next. A missing or invalid token never reaches next:
// it is refused here with 401, and no verification detail is echoed
// back to the caller.
func Middleware(verifier *Verifier, log logr.Logger) func(http.Handler) http.Handler {
	log = log.WithName("identity")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				log.V(1).Info("request missing bearer token")
				writeUnauthorized(w)
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				log.V(1).Info("bearer token rejected")
				writeUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrMissingBearerToken
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrMissingBearerToken
	}
	return token, nil
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

// FromContext returns the authenticated Identity stored by Middleware,
// or false if the request never passed through it.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

// WithIdentity returns a context carrying id, overriding whatever
// Middleware had previously stored. Used by the user-resolution step
// that replaces the token-derived id with this repo's canonical user
// row id once it has been provisioned.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// AuthenticatedUserID adapts FromContext to
// internal/ratelimit.AuthenticatedUserID's func(*http.Request) string
// shape.
func AuthenticatedUserID(r *http.Request) string {
	id, ok := FromContext(r.Context())
	if !ok {
		return ""
	}
	return id.UserID
}
