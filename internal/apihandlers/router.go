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
	"net/http"

	"github.com/go-logr/logr"

	"github.com/altairalabs/assistant-core/internal/identity"
	"github.com/altairalabs/assistant-core/internal/ratelimit"
)

// RouterConfig collects everything needed to build the host API's
// top-level mux. Each field is the service-layer dependency a single
// per-concern handler wraps.
type RouterConfig struct {
	Verifier       *identity.Verifier
	Users          UserProvisioner
	RateLimiter    *ratelimit.Limiter
	TrustedProxies map[string]struct{}

	AssistantRPC AssistantRPC
	Connectors   ConnectorService
	Preferences  PreferencesStore
	AuditQuery   AuditQuerier
	Privacy      PrivacyService
	Automations  AutomationStore
	Devices      DeviceStore

	Log logr.Logger
}

// NewRouter builds the host API's HTTP handler: one ServeMux carrying
// every route from every per-concern handler, wrapped by identity
// verification, user resolution, and sensitive-endpoint rate limiting.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	NewAssistantHandler(cfg.AssistantRPC, cfg.Log).RegisterRoutes(mux)
	NewConnectorHandler(cfg.Connectors, cfg.Log).RegisterRoutes(mux)
	NewPreferencesHandler(cfg.Preferences, cfg.Log).RegisterRoutes(mux)
	NewAuditHandler(cfg.AuditQuery, cfg.Log).RegisterRoutes(mux)
	NewPrivacyHandler(cfg.Privacy, cfg.Log).RegisterRoutes(mux)
	NewAutomationHandler(cfg.Automations, cfg.Log).RegisterRoutes(mux)
	NewDeviceHandler(cfg.Devices, cfg.Log).RegisterRoutes(mux)

	authUserID := func(r *http.Request) string {
		id, ok := identity.FromContext(r.Context())
		if !ok {
			return ""
		}
		return id.UserID
	}

	var handler http.Handler = mux
	handler = ratelimit.Middleware(cfg.RateLimiter, ratelimit.ClassifyHostAPIEndpoint, authUserID, cfg.TrustedProxies, cfg.Log)(handler)
	handler = ResolveUser(cfg.Users, cfg.Log)(handler)
	handler = identity.Middleware(cfg.Verifier, cfg.Log)(handler)

	return handler
}
