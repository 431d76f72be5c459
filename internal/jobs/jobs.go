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

// Package jobs implements the durable job fabric: idempotent enqueue,
// lease-based claim with a per-user fairness cap, exponential-backoff
// retry, dead-lettering, and outbound-action idempotency records.
package jobs

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"time"
)

// State is the lifecycle state of a Job row.
type State string

const (
	StatePending State = "PENDING"
	StateRunning State = "RUNNING"
	StateFailed  State = "FAILED"
)

// Job is one unit of durable work: an assistant query, a morning-brief
// or urgent-email composition, or an automation-rule execution.
type Job struct {
	ID                 string
	UserID             string
	Type               string
	State              State
	DueAt              time.Time
	Attempts           int
	MaxAttempts        int
	LeaseOwner         string
	LeaseExpiresAt     *time.Time
	LastRunAt          *time.Time
	IdempotencyKey     string
	PayloadCiphertext  []byte
	Payload            []byte // decrypted, populated only on claim
}

// MaxBackoffExponent caps the exponential-backoff exponent so the
// computed delay never overflows and never grows unreasonably long.
const MaxBackoffExponent = 20

// RetryDelay computes the exponential-backoff delay before the given
// (1-indexed) next attempt: base * 2^min(nextAttempt-1, MaxBackoffExponent).
// The first retry (nextAttempt=1) waits exactly base.
func RetryDelay(base time.Duration, nextAttempt int) time.Duration {
	exp := nextAttempt - 1
	if exp < 0 {
		exp = 0
	}
	if exp > MaxBackoffExponent {
		exp = MaxBackoffExponent
	}
	return base << uint(exp)
}

// DefaultIdempotencyKey derives a stable idempotency key from the
// job's identity fields when the caller does not supply one
// explicitly. It hashes user_id, job type, the microsecond due_at
// timestamp, and the optional payload, in that exact field order and
// separator byte, so the same logical enqueue always produces the
// same key regardless of process.
func DefaultIdempotencyKey(userID, jobType string, dueAt time.Time, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0x1f})
	h.Write([]byte(jobType))
	h.Write([]byte{0x1f})

	var microBuf [8]byte
	binary.BigEndian.PutUint64(microBuf[:], uint64(dueAt.UnixMicro()))
	h.Write(microBuf[:])
	h.Write([]byte{0x1f})

	if len(payload) > 0 {
		h.Write(payload)
	}

	suffix := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return jobType + ":" + suffix
}
