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

// Package apihandlers wires the host API's HTTP routes to the service
// layer: the assistant passthrough, the connector lifecycle, user
// preferences, paginated audit, privacy deletion, and automation rule
// CRUD. Every handler here trusts identity.Middleware and
// ratelimit.Middleware to have already run; none of them re-derive
// the caller's user id or re-check a rate limit themselves.
package apihandlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/altairalabs/assistant-core/internal/enclaverpc"
	"github.com/altairalabs/assistant-core/internal/identity"
)

const headerContentType = "Content-Type"
const contentTypeJSON = "application/json"

// errorResponse is the JSON body written for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// writeEnclaveError classifies an error returned from an
// enclaverpc.Client.Do call per the host-boundary policy: a
// transport/internal failure on the enclave side is a 502 bad_gateway,
// never a leak of the underlying message.
func writeEnclaveError(w http.ResponseWriter, err error) {
	var rpcErr *enclaverpc.Error
	if errors.As(err, &rpcErr) {
		writeError(w, http.StatusBadGateway, "bad_gateway")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error")
}

// requestUserID extracts the caller's resolved user id from the
// request context. It panics if called on a request that never passed
// through identity.Middleware followed by the user-resolution step —
// a programming error, not a client-facing condition.
func requestUserID(r *http.Request) string {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		panic("apihandlers: requestUserID called without an authenticated identity in context")
	}
	return id.UserID
}
