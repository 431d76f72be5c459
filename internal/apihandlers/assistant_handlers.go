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
	"encoding/json"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Enclave RPC paths the assistant handler forwards to. These never
// appear in a URL the client sees; they are host-to-enclave only.
const (
	pathEnclaveAttestedKey    = "/v1/attested-key"
	pathEnclaveAssistantQuery = "/v1/assistant-query"
)

// AssistantRPC is the host-side signed transport to the enclave
// runtime, satisfied by *enclaverpc.Client. Declared as an interface
// so tests can substitute a fake.
type AssistantRPC interface {
	Do(ctx context.Context, method, path string, requestBody, out any, expectedRequestID string) error
}

// AssistantHandler forwards the attested-key and encrypted-query
// endpoints to the enclave runtime untouched: the host never decodes
// the request or response payload, only the envelope around it.
type AssistantHandler struct {
	rpc AssistantRPC
	log logr.Logger
}

// NewAssistantHandler constructs an AssistantHandler.
func NewAssistantHandler(rpc AssistantRPC, log logr.Logger) *AssistantHandler {
	return &AssistantHandler{rpc: rpc, log: log.WithName("assistant-handler")}
}

// RegisterRoutes registers the assistant passthrough routes on mux.
func (h *AssistantHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/assistant/attested-key", h.handleAttestedKey)
	mux.HandleFunc("POST /v1/assistant/query", h.handleQuery)
}

func (h *AssistantHandler) handleAttestedKey(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, pathEnclaveAttestedKey)
}

func (h *AssistantHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, pathEnclaveAssistantQuery)
}

// forward decodes the request body only as far as opaque JSON — never
// into a typed struct — and relays it to the enclave over the signed
// RPC transport, so the host process never has a chance to inspect
// plaintext query or reply content.
func (h *AssistantHandler) forward(w http.ResponseWriter, r *http.Request, enclavePath string) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requestID := uuid.NewString()
	var out json.RawMessage
	if err := h.rpc.Do(r.Context(), http.MethodPost, enclavePath, body, &out, requestID); err != nil {
		h.log.Error(err, "enclave rpc failed", "path", enclavePath)
		writeEnclaveError(w, err)
		return
	}

	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
