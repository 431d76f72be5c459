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

import "time"

// Sensitive endpoint names, used as the Limiter's policy-table keys
// and as the bucket key's endpoint component.
const (
	EndpointConnectorStart    = "connector_start"
	EndpointConnectorCallback = "connector_callback"
	EndpointConnectorRevoke   = "revoke_connector"
	EndpointPrivacyDeleteAll  = "privacy_delete_all"
	EndpointAutomationCreate  = "automation_create"
	EndpointAutomationUpdate  = "automation_update"
	EndpointAutomationDelete  = "automation_delete"
)

// DefaultPolicies returns the host API's sensitive-endpoint caps.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		EndpointConnectorStart:    {MaxRequests: 20, Window: time.Minute},
		EndpointConnectorCallback: {MaxRequests: 20, Window: time.Minute},
		EndpointConnectorRevoke:   {MaxRequests: 10, Window: time.Minute},
		EndpointPrivacyDeleteAll:  {MaxRequests: 3, Window: time.Hour},
		EndpointAutomationCreate:  {MaxRequests: 20, Window: time.Minute},
		EndpointAutomationUpdate:  {MaxRequests: 30, Window: time.Minute},
		EndpointAutomationDelete:  {MaxRequests: 20, Window: time.Minute},
	}
}
