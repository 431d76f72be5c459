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
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// RPCClient is the host-side signed transport to the enclave runtime,
// satisfied by *enclaverpc.Client. It is declared here rather than
// imported as a concrete type so unit tests can substitute a fake.
type RPCClient interface {
	Do(ctx context.Context, method, path string, requestBody, out any, expectedRequestID string) error
}

// RPC paths this service calls on the enclave.
const (
	PathTokenExchange = "/v1/token/exchange"
	PathTokenRevoke   = "/v1/token/revoke"
)

// Service is the host-side connector lifecycle: starting and finishing
// an OAuth grant, and revoking it. It never sees a plaintext refresh
// token; every provider interaction is delegated to the enclave over
// RPC.
type Service struct {
	store     Store
	rpc       RPCClient
	providers map[string]ProviderConfig
	log       logr.Logger
}

// NewService constructs a Service.
func NewService(store Store, rpc RPCClient, providers map[string]ProviderConfig, log logr.Logger) *Service {
	return &Service{store: store, rpc: rpc, providers: providers, log: log.WithName("connector")}
}

// Start begins an OAuth grant for userID against provider, returning
// the URL the client should redirect to.
func (s *Service) Start(ctx context.Context, userID, provider string) (string, error) {
	cfg, ok := s.providers[provider]
	if !ok {
		return "", fmt.Errorf("connector: unknown provider %q", provider)
	}

	raw, err := NewStateToken()
	if err != nil {
		return "", err
	}

	if err := s.store.CreateState(ctx, HashStateToken(raw), userID, provider, time.Now().Add(StateTTL)); err != nil {
		return "", err
	}

	return cfg.AuthCodeURL(raw), nil
}

// Callback finishes an OAuth grant: the state token is consumed
// exactly once, the code is exchanged through the enclave, and the
// resulting sealed token is persisted.
func (s *Service) Callback(ctx context.Context, rawState, code string) (*Connector, error) {
	userID, provider, err := s.store.ConsumeState(ctx, HashStateToken(rawState))
	if err != nil {
		return nil, err
	}

	cfg, ok := s.providers[provider]
	if !ok {
		return nil, fmt.Errorf("connector: unknown provider %q", provider)
	}

	requestID := uuid.NewString()
	req := ExchangeRequest{Provider: provider, Code: code, RedirectURI: cfg.OAuth2.RedirectURL}
	var result ExchangeResult
	if err := s.rpc.Do(ctx, "POST", PathTokenExchange, req, &result, requestID); err != nil {
		return nil, fmt.Errorf("connector: enclave_rpc_failed: %w", err)
	}

	c := &Connector{
		UserID:        userID,
		Provider:      provider,
		Scopes:        result.GrantedScopes,
		Status:        StatusActive,
		SealedToken:   result.SealedRefreshToken,
		KMSKeyID:      result.KMSKeyID,
		KMSKeyVersion: result.KMSKeyVersion,
	}
	if err := s.store.CreateConnector(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Revoke revokes a single connector owned by userID: the enclave
// revokes it at the provider first, then the row is marked revoked.
func (s *Service) Revoke(ctx context.Context, userID, connectorID string) error {
	c, err := s.store.GetOwnedConnector(ctx, connectorID, userID)
	if err != nil {
		return err
	}
	if c.Status == StatusRevoked {
		return nil
	}

	requestID := uuid.NewString()
	req := RevokeRequest{
		Provider:           c.Provider,
		UserID:             c.UserID,
		ConnectorID:        c.ID,
		SealedRefreshToken: c.SealedToken,
		KeyID:              c.KMSKeyID,
		KeyVersion:         c.KMSKeyVersion,
	}
	var result RevokeResult
	if err := s.rpc.Do(ctx, "POST", PathTokenRevoke, req, &result, requestID); err != nil {
		return fmt.Errorf("connector: enclave_rpc_failed: %w", err)
	}

	return s.store.MarkRevoked(ctx, c.ID)
}

// RevokeAllForUser implements internal/privacy.ConnectorRevoker: every
// active connector belonging to userID is revoked through the enclave.
// A per-connector failure is collected and the loop continues, so one
// unreachable provider never blocks the rest of the deletion.
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) (int, []string) {
	connectors, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return 0, []string{err.Error()}
	}

	var revoked int
	var errs []string
	for _, c := range connectors {
		if c.Status == StatusRevoked {
			revoked++
			continue
		}
		if err := s.Revoke(ctx, userID, c.ID); err != nil {
			s.log.Error(err, "failed to revoke connector", "connector_id", c.ID, "provider", c.Provider)
			errs = append(errs, fmt.Sprintf("%s: %v", c.Provider, err))
			continue
		}
		revoked++
	}
	return revoked, errs
}
