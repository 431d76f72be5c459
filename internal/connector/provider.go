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
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CalendarMailScopes are the only scopes this repo ever requests: a
// provider granting more is rejected in the callback handler.
var CalendarMailScopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/gmail.readonly",
}

// ProviderConfig holds a provider's OAuth2 config plus its revoke
// endpoint, which golang.org/x/oauth2 has no notion of.
type ProviderConfig struct {
	OAuth2    *oauth2.Config
	RevokeURL string
}

// NewGoogleConfig builds the Google OAuth2 config for the calendar+mail
// connector. redirectBase is the host API's externally reachable
// origin; the callback path is fixed per provider.
func NewGoogleConfig(clientID, clientSecret, redirectBase string) ProviderConfig {
	return ProviderConfig{
		OAuth2: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectBase + "/v1/connectors/google/callback",
			Scopes:       CalendarMailScopes,
			Endpoint:     google.Endpoint,
		},
		RevokeURL: "https://oauth2.googleapis.com/revoke",
	}
}

// AuthCodeURL builds the provider's consent-screen URL for state.
func (p ProviderConfig) AuthCodeURL(state string) string {
	return p.OAuth2.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}
