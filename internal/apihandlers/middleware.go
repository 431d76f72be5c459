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

package apihandlers

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/altairalabs/assistant-core/internal/identity"
)

// UserProvisioner resolves the stable, token-derived identity produced
// by identity.Middleware into this repo's canonical user row,
// provisioning one on first sight. Satisfied by *internal/users.Store.
type UserProvisioner interface {
	GetOrCreate(ctx context.Context, externalSubject string) (string, error)
}

// ResolveUser must run after identity.Middleware. It replaces the
// derived identity in the request context with one carrying the
// canonical user id, so every downstream handler and store call sees
// the same id that owns connectors, sessions, automations, and jobs.
func ResolveUser(users UserProvisioner, log logr.Logger) func(http.Handler) http.Handler {
	log = log.WithName("user-provisioner")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identity.FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			canonicalID, err := users.GetOrCreate(r.Context(), id.UserID)
			if err != nil {
				log.Error(err, "failed to resolve user")
				writeError(w, http.StatusInternalServerError, "internal_error")
				return
			}
			id.UserID = canonicalID

			ctx := identity.WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
