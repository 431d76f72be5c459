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

// Package attestation validates the attested-key handshake shared by
// the sealed channel bootstrap and the KMS-gated secret broker: it
// checks challenge-window consistency, runtime and measurement
// allow-listing, the Ed25519 evidence signature, and nonce replay.
package attestation

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Policy configures how strictly a TEE attestation response is checked.
type Policy struct {
	Required                  bool
	ExpectedRuntime           string
	AllowedMeasurements       []string
	PublicKeyB64              string
	MaxAttestationAge         time.Duration
	AllowInsecureDevMode      bool
}

// Challenge is the request the host sends to the enclave's
// /v1/attestation/challenge endpoint.
type Challenge struct {
	ChallengeNonce   string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	OperationPurpose string
	RequestID        string
}

// Response is the enclave's answer to a Challenge.
type Response struct {
	ChallengeNonce   string
	RequestID        string
	OperationPurpose string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	EvidenceIssuedAt time.Time
	Runtime          string
	Measurement      string
	Signature        string // base64, optional when AllowInsecureDevMode
}

// Identity is what the caller learns once a Response has verified.
type Identity struct {
	Runtime     string
	Measurement string
}

// Error is a stable, machine-classifiable attestation failure. Every
// failure path returns a distinct Code so operators can distinguish a
// runtime/measurement drift incident from an expired- or replayed-
// challenge incident.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newErr(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error codes. These are part of the operational contract: dashboards
// and alert routing key off them, so they must stay stable.
const (
	CodeInvalidDocument             = "invalid_attestation_document"
	CodeRuntimeMismatch             = "runtime_mismatch"
	CodeMeasurementNotAllowed       = "measurement_not_allowed"
	CodeStaleAttestation            = "stale_attestation"
	CodeMissingPublicKey            = "missing_attestation_public_key"
	CodeMissingSignature            = "missing_attestation_signature"
	CodeInvalidPublicKey            = "invalid_attestation_public_key"
	CodeInvalidSignature            = "invalid_attestation_signature"
	CodeNonceMismatch               = "challenge_nonce_mismatch"
	CodeRequestIDMismatch           = "challenge_request_id_mismatch"
	CodePurposeMismatch             = "challenge_purpose_mismatch"
	CodeInvalidWindow               = "invalid_challenge_window"
	CodeExpired                     = "challenge_expired"
	CodeEvidenceOutsideWindow       = "evidence_not_bound_to_challenge_window"
	CodeReplayDetected              = "challenge_replay_detected"
)

// Verifier checks attestation Responses against a Policy and a shared
// ReplayGuard.
type Verifier struct {
	policy Policy
	guard  *ReplayGuard
}

// NewVerifier constructs a Verifier. guard may be shared across
// multiple Verifier instances (e.g. one for ingress attestation, one
// for KMS-decrypt attestation) since ReplayGuard is itself
// goroutine-safe.
func NewVerifier(policy Policy, guard *ReplayGuard) *Verifier {
	return &Verifier{policy: policy, guard: guard}
}

// BuildChallenge constructs a fresh challenge for the given operation
// purpose. Callers supply nonce/requestID generation (typically
// uuid.New) so this package stays free of a hard uuid dependency in
// its core verification path.
func BuildChallenge(nonce, requestID, operationPurpose string, now time.Time, maxAge time.Duration) Challenge {
	return Challenge{
		ChallengeNonce:   nonce,
		IssuedAt:         now,
		ExpiresAt:        now.Add(maxAge),
		OperationPurpose: operationPurpose,
		RequestID:        requestID,
	}
}

// Verify checks resp against challenge and the configured Policy,
// returning the attested Identity on success.
func (v *Verifier) Verify(challenge Challenge, resp Response, now time.Time) (Identity, error) {
	if resp.ChallengeNonce != challenge.ChallengeNonce {
		return Identity{}, newErr(CodeNonceMismatch, "attestation challenge nonce mismatch: expected=%s actual=%s", challenge.ChallengeNonce, resp.ChallengeNonce)
	}
	if resp.RequestID != challenge.RequestID {
		return Identity{}, newErr(CodeRequestIDMismatch, "attestation challenge request_id mismatch: expected=%s actual=%s", challenge.RequestID, resp.RequestID)
	}
	if resp.OperationPurpose != challenge.OperationPurpose {
		return Identity{}, newErr(CodePurposeMismatch, "attestation challenge purpose mismatch: expected=%s actual=%s", challenge.OperationPurpose, resp.OperationPurpose)
	}
	if !resp.IssuedAt.Equal(challenge.IssuedAt) || !resp.ExpiresAt.Equal(challenge.ExpiresAt) {
		return Identity{}, newErr(CodeInvalidWindow, "attestation challenge window echoed incorrectly")
	}
	if !resp.ExpiresAt.After(resp.IssuedAt) {
		return Identity{}, newErr(CodeInvalidWindow, "attestation challenge window is invalid: issued_at=%s expires_at=%s", resp.IssuedAt, resp.ExpiresAt)
	}
	if now.Before(resp.IssuedAt) || now.After(resp.ExpiresAt) {
		return Identity{}, newErr(CodeExpired, "attestation challenge expired: issued_at=%s expires_at=%s now=%s", resp.IssuedAt, resp.ExpiresAt, now)
	}
	if resp.EvidenceIssuedAt.Before(resp.IssuedAt) || resp.EvidenceIssuedAt.After(resp.ExpiresAt) {
		return Identity{}, newErr(CodeEvidenceOutsideWindow, "attestation evidence timestamp is outside challenge window")
	}
	if resp.EvidenceIssuedAt.Before(now.Add(-v.policy.MaxAttestationAge)) || resp.EvidenceIssuedAt.After(now.Add(v.policy.MaxAttestationAge)) {
		return Identity{}, newErr(CodeStaleAttestation, "attestation evidence is stale: evidence_issued_at=%s now=%s", resp.EvidenceIssuedAt, now)
	}
	if !strings.EqualFold(resp.Runtime, v.policy.ExpectedRuntime) {
		return Identity{}, newErr(CodeRuntimeMismatch, "runtime mismatch: expected=%s actual=%s", v.policy.ExpectedRuntime, resp.Runtime)
	}
	if !measurementAllowed(v.policy.AllowedMeasurements, resp.Measurement) {
		return Identity{}, newErr(CodeMeasurementNotAllowed, "attestation measurement is not allowed: %s", resp.Measurement)
	}

	if !v.policy.AllowInsecureDevMode {
		if v.policy.PublicKeyB64 == "" {
			return Identity{}, newErr(CodeMissingPublicKey, "attestation public key is required when insecure mode is disabled")
		}
		if resp.Signature == "" {
			return Identity{}, newErr(CodeMissingSignature, "attestation signature is required when insecure mode is disabled")
		}
		if err := verifySignature(v.policy.PublicKeyB64, resp.Signature, resp); err != nil {
			return Identity{}, err
		}
	}

	if v.guard != nil {
		if !v.guard.VerifyAndRecord(resp.ChallengeNonce, resp.ExpiresAt, now) {
			return Identity{}, newErr(CodeReplayDetected, "attestation challenge replay detected for nonce=%s", resp.ChallengeNonce)
		}
	}

	return Identity{Runtime: resp.Runtime, Measurement: resp.Measurement}, nil
}

// SigningPayload builds the canonical byte string the enclave signs
// and the host re-derives to verify: a pipe-joined concatenation of
// runtime, measurement, and the timing/identity fields, in that order.
func SigningPayload(resp Response) []byte {
	fields := []string{
		resp.Runtime,
		resp.Measurement,
		fmt.Sprintf("%d", resp.IssuedAt.Unix()),
		fmt.Sprintf("%d", resp.ExpiresAt.Unix()),
		resp.ChallengeNonce,
		resp.RequestID,
	}
	return []byte(strings.Join(fields, "|") + "|" + fmt.Sprintf("%d", resp.EvidenceIssuedAt.Unix()))
}

func verifySignature(publicKeyB64, signatureB64 string, resp Response) error {
	pubBytes, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return newErr(CodeInvalidPublicKey, "attestation public key is invalid")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return newErr(CodeInvalidSignature, "attestation signature is invalid")
	}
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), SigningPayload(resp), sigBytes) {
		return newErr(CodeInvalidSignature, "attestation signature is invalid")
	}
	return nil
}

func measurementAllowed(allowed []string, measurement string) bool {
	for _, m := range allowed {
		if m == measurement {
			return true
		}
	}
	return false
}
