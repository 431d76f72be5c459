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
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// FailureClass distinguishes a retryable provider failure from one
// that will never succeed on retry.
type FailureClass string

const (
	Transient FailureClass = "transient"
	Permanent FailureClass = "permanent"
)

// ProviderError is a classified provider-interaction failure carrying
// the stable code the host boundary and the job fabric branch on.
type ProviderError struct {
	Code  string
	Class FailureClass
	Err   error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// transientStatuses are the HTTP statuses spec'd as retryable provider
// failures; everything else is permanent.
var transientStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooEarly:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// permanentOAuthErrorCodes are RFC 6749 error bodies that promote a
// nominally-400 failure to a permanent, user-visible code rather than
// a generic client error.
var permanentOAuthErrorCodes = map[string]bool{
	"invalid_grant":  true,
	"invalid_token":  true,
	"access_denied":  true,
}

// ClassifyHTTPStatus classifies a raw provider HTTP status per spec:
// 408/425/429/500/502/503/504 are transient, everything else permanent.
func ClassifyHTTPStatus(status int) FailureClass {
	if transientStatuses[status] {
		return Transient
	}
	return Permanent
}

// ClassifyOAuthError inspects a retrieve-error's embedded error body
// (when the provider returned one) and promotes invalid_grant,
// invalid_token, and access_denied to permanent regardless of the
// surrounding HTTP status.
func ClassifyOAuthError(err error) *ProviderError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode != "" && permanentOAuthErrorCodes[retrieveErr.ErrorCode] {
			return &ProviderError{Code: retrieveErr.ErrorCode, Class: Permanent, Err: err}
		}
		if retrieveErr.Response != nil {
			return &ProviderError{Code: "oauth_exchange_failed", Class: ClassifyHTTPStatus(retrieveErr.Response.StatusCode), Err: err}
		}
	}
	return &ProviderError{Code: "oauth_exchange_failed", Class: Permanent, Err: err}
}

// Exchanger performs the actual provider token exchange and revoke
// calls. It never persists anything; the caller is responsible for
// sealing the returned refresh token through the KMS broker before it
// touches durable storage.
type Exchanger struct {
	httpClient *http.Client
}

// NewExchanger constructs an Exchanger. A nil client gets a bounded
// default timeout so a stalled provider can never hang a token
// exchange indefinitely.
func NewExchanger(httpClient *http.Client) *Exchanger {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Exchanger{httpClient: httpClient}
}

// Exchange trades an authorization code for a token under cfg.
func (e *Exchanger) Exchange(ctx context.Context, cfg ProviderConfig, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	token, err := cfg.OAuth2.Exchange(ctx, code)
	if err != nil {
		return nil, ClassifyOAuthError(err)
	}
	return token, nil
}

// GrantedScopesAllowed reports whether every scope the provider
// actually granted is a subset of allowed.
func GrantedScopesAllowed(granted []string, allowed []string) bool {
	allowedSet := make(map[string]bool, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = true
	}
	for _, s := range granted {
		if !allowedSet[s] {
			return false
		}
	}
	return true
}

// revokedAlready404Or400 classifies a revoke-call HTTP response: the
// original source treats a 404, or a 400 carrying invalid_token or
// invalid_grant, as meaning the token is already revoked rather than a
// failure this call should report.
func revokedAlready404Or400(status int, body []byte) bool {
	if status == http.StatusNotFound {
		return true
	}
	if status == http.StatusBadRequest {
		text := strings.ToLower(string(body))
		return strings.Contains(text, "invalid_token") || strings.Contains(text, "invalid_grant")
	}
	return false
}

// Revoke calls cfg's provider revoke endpoint for refreshToken.
// AlreadyRevoked is true when the provider reports the token is no
// longer valid — that outcome counts as a successful revoke, not an
// error, so a retried or duplicate delete-all never fails on it.
func (e *Exchanger) Revoke(ctx context.Context, cfg ProviderConfig, refreshToken string) (alreadyRevoked bool, err error) {
	form := url.Values{}
	form.Set("token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("connector: build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, &ProviderError{Code: "revoke_request_failed", Class: Transient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return false, nil
	}

	body, _ := io.ReadAll(resp.Body)
	if revokedAlready404Or400(resp.StatusCode, body) {
		return true, nil
	}

	return false, &ProviderError{
		Code:  "revoke_failed",
		Class: ClassifyHTTPStatus(resp.StatusCode),
		Err:   fmt.Errorf("provider revoke returned %d: %s", resp.StatusCode, string(body)),
	}
}
