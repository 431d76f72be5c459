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
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// StateTTL bounds how long an issued OAuth state parameter remains
// single-use consumable.
const StateTTL = 10 * time.Minute

// NewStateToken generates a fresh, unguessable state parameter. The
// raw token is handed to the client; only its hash is persisted, so a
// leaked row never discloses a usable state value.
func NewStateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("connector: generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashStateToken returns the stored lookup key for a raw state token.
func HashStateToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
