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

// Package session stores the sealed, server-opaque session-memory
// envelope the enclave produces for multi-turn assistant
// conversations. The host never sees plaintext content here: Blob is
// ciphertext the enclave alone can open, and this package's job is
// durability and expiry, not interpretation.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a lookup finds no unexpired
// envelope for the given (user_id, session_id).
var ErrSessionNotFound = errors.New("session: not found")

// Envelope is the opaque sealed session-memory blob the enclave hands
// back on every turn and the host stores verbatim.
type Envelope struct {
	UserID    string
	SessionID string
	Blob      []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Store persists sealed session envelopes keyed by (user_id,
// session_id). Implementations must treat Blob as opaque bytes.
type Store interface {
	// Put upserts env, replacing any existing envelope for the same
	// (UserID, SessionID).
	Put(ctx context.Context, env *Envelope) error
	// Get returns the envelope for (userID, sessionID), or
	// ErrSessionNotFound if none exists or it has expired.
	Get(ctx context.Context, userID, sessionID string) (*Envelope, error)
	// DeleteAllForUser removes every envelope belonging to userID and
	// reports how many rows were removed.
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
}
