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

package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/altairalabs/assistant-core/internal/assistant"
	"github.com/altairalabs/assistant-core/internal/attestation"
	"github.com/altairalabs/assistant-core/internal/connector"
	"github.com/altairalabs/assistant-core/internal/enclaverpc"
	"github.com/altairalabs/assistant-core/internal/envelope"
	"github.com/altairalabs/assistant-core/internal/kmsbroker"
)

// enclaveHandlers is the trusted-side half of every signed RPC path:
// token exchange/revoke, the attested-key bootstrap, sealed
// assistant-query processing, morning-brief/urgent-email/automation
// composition, and the attestation challenge itself.
type enclaveHandlers struct {
	keyring    envelope.Keyring
	selfSigner *selfAttester
	connector  *connector.EnclaveHandler
	broker     *kmsbroker.Broker
	composer   *assistant.Composer
	processor  assistant.QueryProcessor
	log        logr.Logger
}

// registerRoutes wires every enclave RPC path. The caller wraps the
// returned mux in enclaverpc.VerifyMiddleware, so every handler here
// already runs behind signature and replay verification.
func (h *enclaveHandlers) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+connector.PathTokenExchange, h.handleTokenExchange)
	mux.HandleFunc("POST "+connector.PathTokenRevoke, h.handleTokenRevoke)
	mux.HandleFunc("POST "+enclaverpc.PathAttestedKey, h.handleAttestedKey)
	mux.HandleFunc("POST "+enclaverpc.PathAssistantQuery, h.handleAssistantQuery)
	mux.HandleFunc("POST "+enclaverpc.PathBriefCompose, h.handleComposeBrief)
	mux.HandleFunc("POST "+enclaverpc.PathUrgentEmailCompose, h.handleComposeUrgentEmail)
	mux.HandleFunc("POST "+enclaverpc.PathAutomationExecute, h.handleComposeAutomation)
	mux.HandleFunc("POST "+enclaverpc.PathAttestationChallenge, h.handleAttestationChallenge)
}

func (h *enclaveHandlers) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	var req connector.ExchangeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.connector.Exchange(r.Context(), req)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeRPCResponse(w, r, result)
}

func (h *enclaveHandlers) handleTokenRevoke(w http.ResponseWriter, r *http.Request) {
	var req connector.RevokeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.connector.Revoke(r.Context(), h.broker, req)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeRPCResponse(w, r, result)
}

// handleAttestedKey hands back the active ingress X25519 public key so
// a client can seal its first request. The key material itself never
// leaves this process; only its public half and expiry do.
func (h *enclaveHandlers) handleAttestedKey(w http.ResponseWriter, r *http.Request) {
	writeRPCResponse(w, r, struct {
		KeyID        string `json:"key_id"`
		PublicKey    string `json:"public_key"`
		ExpiresAtUTC string `json:"expires_at"`
	}{
		KeyID:        h.keyring.Active.KeyID,
		PublicKey:    h.keyring.Active.PublicKeyB64,
		ExpiresAtUTC: h.keyring.Active.ExpiresAt.UTC().Format(rfc3339),
	})
}

// handleAssistantQuery decrypts a sealed query envelope, runs it
// through the configured QueryProcessor, and reseals the reply to the
// same client ephemeral key. Plaintext never crosses the RPC boundary.
func (h *enclaveHandlers) handleAssistantQuery(w http.ResponseWriter, r *http.Request) {
	var env envelope.RequestEnvelope
	if !decodeRequest(w, r, &env) {
		return
	}

	payload, key, err := envelope.DecryptRequest[assistant.QueryPayload](h.keyring, env)
	if err != nil {
		writeRPCError(w, err)
		return
	}

	result, err := h.processor.Process(r.Context(), payload.SessionID, payload)
	if err != nil {
		writeRPCError(w, err)
		return
	}

	resp, err := envelope.EncryptResponse(key, env.RequestID, env.ClientEphemeralPublicKey, result)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeRPCResponse(w, r, resp)
}

func (h *enclaveHandlers) handleComposeBrief(w http.ResponseWriter, r *http.Request) {
	var req assistant.BriefRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.composer.ComposeBrief(r.Context(), req.UserID)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeRPCResponse(w, r, result)
}

func (h *enclaveHandlers) handleComposeUrgentEmail(w http.ResponseWriter, r *http.Request) {
	var req assistant.UrgentEmailRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.composer.ComposeUrgentEmail(r.Context(), req.UserID)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeRPCResponse(w, r, result)
}

func (h *enclaveHandlers) handleComposeAutomation(w http.ResponseWriter, r *http.Request) {
	var req assistant.AutomationExecuteRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.composer.ComposeAutomation(r.Context(), req)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeRPCResponse(w, r, result)
}

// handleAttestationChallenge answers a host-issued challenge with this
// runtime's own signed evidence, letting the host verify enclave
// identity before trusting the ingress key returned by attested-key.
func (h *enclaveHandlers) handleAttestationChallenge(w http.ResponseWriter, r *http.Request) {
	var challenge attestation.Challenge
	if !decodeRequest(w, r, &challenge) {
		return
	}
	writeRPCResponse(w, r, h.selfSigner.sign(challenge))
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":"invalid_request_body"}`))
		return false
	}
	return true
}

// writeRPCResponse wraps payload in the {request_id, payload} envelope
// enclaverpc.Client.Do expects, echoing the nonce the caller signed as
// the response's request_id.
func writeRPCResponse(w http.ResponseWriter, r *http.Request, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(enclaverpc.HeaderContractVersion, enclaverpc.ContractVersion)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		RequestID string `json:"request_id"`
		Payload   any    `json:"payload"`
	}{
		RequestID: r.Header.Get(enclaverpc.HeaderAuthNonce),
		Payload:   payload,
	})
}

// writeRPCError maps a handler failure to an RPC-shaped error body.
// Every error here is non-retryable from the host's perspective: a
// decrypt failure, policy denial, or processor error will not succeed
// on retry without a different request.
func writeRPCError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(enclaverpc.HeaderContractVersion, enclaverpc.ContractVersion)
	w.WriteHeader(http.StatusBadRequest)
	code := "enclave_handler_error"
	switch e := err.(type) {
	case *kmsbroker.Error:
		code = e.Code
	case *attestation.Error:
		code = e.Code
	}
	_, _ = w.Write([]byte(`{"error_code":"` + code + `","message":"` + jsonEscape(err.Error()) + `"}`))
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}
