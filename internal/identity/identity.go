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

// Package identity verifies the identity provider's bearer tokens at
// the host API boundary and derives the stable user id the rest of
// this repo keys everything on.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID  string
	Issuer  string
	Subject string
}

var (
	// ErrMissingBearerToken is returned when a request carries no
	// Authorization header, or one not in "Bearer <token>" form.
	ErrMissingBearerToken = errors.New("identity: missing bearer token")
	// ErrInvalidToken is returned for a token that fails signature,
	// issuer, or expiry verification.
	ErrInvalidToken = errors.New("identity: invalid token")
)

// DeriveUserID computes the stable user id for an (issuer, subject)
// pair: a deterministic hash, so repeated logins by the same identity
// provider principal always resolve to the same user row rather than
// multiplying them.
func DeriveUserID(issuer, subject string) string {
	sum := sha256.Sum256([]byte(issuer + "|" + subject))
	return hex.EncodeToString(sum[:])
}
