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

package connector

import (
	"context"
	"fmt"

	"github.com/altairalabs/assistant-core/internal/kmsbroker"
)

// Sealer wraps a freshly exchanged refresh token for durable storage
// on the untrusted host. Implemented by *kmsbroker.AWSUnwrapper and
// *kmsbroker.GCPUnwrapper.
type Sealer interface {
	Wrap(ctx context.Context, plaintext []byte) ([]byte, error)
	KeyID() string
}

// EnclaveHandler is the enclave-side business logic behind the
// token-exchange and token-revoke RPC paths: it is the only place a
// refresh token exists in plaintext, and only for the duration of one
// exchange or revoke call.
type EnclaveHandler struct {
	providers  map[string]ProviderConfig
	exchanger  *Exchanger
	sealer     Sealer
	keyVersion int
}

// NewEnclaveHandler constructs an EnclaveHandler. keyVersion is the
// broker policy's currently active KMS key version: every token this
// handler seals is bound to it.
func NewEnclaveHandler(providers map[string]ProviderConfig, exchanger *Exchanger, sealer Sealer, keyVersion int) *EnclaveHandler {
	return &EnclaveHandler{providers: providers, exchanger: exchanger, sealer: sealer, keyVersion: keyVersion}
}

// ExchangeRequest is the token-exchange RPC's request payload.
type ExchangeRequest struct {
	Provider    string `json:"provider"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// ExchangeResult is the token-exchange RPC's response payload: the
// sealed ciphertext and the KMS binding it was sealed under, plus the
// scopes the provider actually granted.
type ExchangeResult struct {
	SealedRefreshToken []byte   `json:"sealed_refresh_token"`
	KMSKeyID           string   `json:"kms_key_id"`
	KMSKeyVersion      int      `json:"kms_key_version"`
	GrantedScopes      []string `json:"granted_scopes"`
}

// Exchange trades an authorization code for a refresh token, seals it,
// and returns the ciphertext. The plaintext token never leaves this
// call frame.
func (h *EnclaveHandler) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	cfg, ok := h.providers[req.Provider]
	if !ok {
		return nil, fmt.Errorf("connector: unknown provider %q", req.Provider)
	}

	token, err := h.exchanger.Exchange(ctx, cfg, req.Code)
	if err != nil {
		return nil, err
	}

	grantedScopes := scopesFromToken(token, cfg.OAuth2.Scopes)
	if !GrantedScopesAllowed(grantedScopes, cfg.OAuth2.Scopes) {
		return nil, ErrScopeNotAllowed
	}

	sealed, err := h.sealer.Wrap(ctx, []byte(token.RefreshToken))
	if err != nil {
		return nil, fmt.Errorf("connector: sealing refresh token: %w", err)
	}

	return &ExchangeResult{
		SealedRefreshToken: sealed,
		KMSKeyID:           h.sealer.KeyID(),
		KMSKeyVersion:      h.keyVersion,
		GrantedScopes:      grantedScopes,
	}, nil
}

// RevokeRequest is the token-revoke RPC's request payload. UserID and
// ConnectorID scope the KMS-gated unwrap the enclave must perform
// before it can call the provider's revoke endpoint; KeyID/KeyVersion
// are the binding the sealed token was wrapped under, checked against
// the broker's pinned policy before any attestation round trip.
type RevokeRequest struct {
	Provider           string `json:"provider"`
	UserID             string `json:"user_id"`
	ConnectorID        string `json:"connector_id"`
	SealedRefreshToken []byte `json:"sealed_refresh_token"`
	KeyID              string `json:"kms_key_id"`
	KeyVersion         int    `json:"kms_key_version"`
}

// RevokeResult is the token-revoke RPC's response payload.
type RevokeResult struct {
	AlreadyRevoked bool `json:"already_revoked"`
}

// revokeUnwrapper is the subset of kmsbroker.Broker this handler
// needs, scoped to a single method so tests can substitute a fake
// without standing up the full attestation chain.
type revokeUnwrapper interface {
	Decrypt(ctx context.Context, userID, connectorID string, binding kmsbroker.KeyBinding, ciphertext []byte) ([]byte, error)
}

// Revoke unwraps req.SealedRefreshToken through the KMS broker — which
// gates the unwrap on the key binding pin plus a fresh attestation —
// then calls the provider's revoke endpoint with the recovered
// plaintext. The plaintext never leaves this call frame.
func (h *EnclaveHandler) Revoke(ctx context.Context, broker revokeUnwrapper, req RevokeRequest) (*RevokeResult, error) {
	cfg, ok := h.providers[req.Provider]
	if !ok {
		return nil, fmt.Errorf("connector: unknown provider %q", req.Provider)
	}

	binding := kmsbroker.KeyBinding{KeyID: req.KeyID, KeyVersion: req.KeyVersion}
	plaintext, err := broker.Decrypt(ctx, req.UserID, req.ConnectorID, binding, req.SealedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("connector: unwrapping refresh token: %w", err)
	}

	alreadyRevoked, err := h.exchanger.Revoke(ctx, cfg, string(plaintext))
	if err != nil {
		return nil, err
	}
	return &RevokeResult{AlreadyRevoked: alreadyRevoked}, nil
}

func scopesFromToken(token interface{ Extra(string) any }, requested []string) []string {
	if raw, ok := token.Extra("scope").(string); ok && raw != "" {
		return splitScope(raw)
	}
	return requested
}

func splitScope(raw string) []string {
	var scopes []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ' ' {
			if i > start {
				scopes = append(scopes, raw[start:i])
			}
			start = i + 1
		}
	}
	return scopes
}
