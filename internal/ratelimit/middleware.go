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

package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"
)

// EndpointClassifier maps an incoming request to a sensitive endpoint
// name, or returns ("", false) for requests the limiter should not
// touch.
type EndpointClassifier func(r *http.Request) (endpoint string, ok bool)

// AuthenticatedUserID extracts the caller's user id from a request
// already processed by the identity middleware, or "" if anonymous.
type AuthenticatedUserID func(r *http.Request) string

// Middleware wraps next with sensitive-endpoint rate limiting: requests
// that classify returns no endpoint for pass through untouched.
func Middleware(limiter *Limiter, classify EndpointClassifier, authUserID AuthenticatedUserID, trustedProxyIPs map[string]struct{}, log logr.Logger) func(http.Handler) http.Handler {
	log = log.WithName("ratelimit")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint, ok := classify(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			subject := Subject(r, authUserID(r), trustedProxyIPs)
			decision := limiter.Check(endpoint, subject)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			log.Info("request denied by endpoint rate limit", "endpoint", endpoint, "retryAfterSeconds", decision.RetryAfterSeconds)
			writeTooManyRequests(w, decision.RetryAfterSeconds)
		})
	}
}

type tooManyRequestsBody struct {
	Error             string `json:"error"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds"`
}

func writeTooManyRequests(w http.ResponseWriter, retryAfterSeconds int64) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds, 10))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(tooManyRequestsBody{
		Error:             "rate limit exceeded",
		RetryAfterSeconds: retryAfterSeconds,
	})
}

// ClassifyHostAPIEndpoint implements EndpointClassifier for the host
// API's sensitive routes.
func ClassifyHostAPIEndpoint(r *http.Request) (string, bool) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/connectors/google/start":
		return EndpointConnectorStart, true
	case r.Method == http.MethodPost && r.URL.Path == "/v1/connectors/google/callback":
		return EndpointConnectorCallback, true
	case r.Method == http.MethodDelete && hasPrefix(r.URL.Path, "/v1/connectors/"):
		return EndpointConnectorRevoke, true
	case r.Method == http.MethodPost && r.URL.Path == "/v1/privacy/delete-all":
		return EndpointPrivacyDeleteAll, true
	case r.Method == http.MethodPost && r.URL.Path == "/v1/automations":
		return EndpointAutomationCreate, true
	case r.Method == http.MethodPatch && hasPrefix(r.URL.Path, "/v1/automations/"):
		return EndpointAutomationUpdate, true
	case r.Method == http.MethodDelete && hasPrefix(r.URL.Path, "/v1/automations/"):
		return EndpointAutomationDelete, true
	default:
		return "", false
	}
}

func hasPrefix(path, prefix string) bool {
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}
