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

// Package connector implements the OAuth connector lifecycle: starting
// and finishing an authorization grant against a calendar+mail
// provider, and revoking it. The host side never sees a plaintext
// refresh token; it only persists the sealed ciphertext and KMS
// binding the enclave returns from the token-exchange RPC.
package connector

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a connector.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Provider names this repo speaks to. The data model is generic across
// providers; only the OAuth endpoint configuration differs.
const (
	ProviderGoogle = "google"
)

// Connector is a user's authorization grant to a provider. The
// refresh token is never held in plaintext on the host: SealedToken is
// the ciphertext the enclave's token-exchange RPC returned, valid only
// under (KMSKeyID, KMSKeyVersion).
type Connector struct {
	ID            string
	UserID        string
	Provider      string
	Scopes        []string
	Status        Status
	SealedToken   []byte
	KMSKeyID      string
	KMSKeyVersion int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var (
	// ErrNotFound is returned for a connector id with no matching row,
	// or one that does not belong to the caller's user.
	ErrNotFound = errors.New("connector: not found")
	// ErrInvalidState is returned for an OAuth state parameter that was
	// never issued, already consumed, or has expired.
	ErrInvalidState = errors.New("connector: invalid oauth state")
	// ErrScopeNotAllowed is returned when a provider grants scopes
	// outside the set this repo requested.
	ErrScopeNotAllowed = errors.New("connector: scope not allowed")
)
