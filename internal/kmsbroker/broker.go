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

// Package kmsbroker implements the KMS-gated secret broker: every
// refresh-token decrypt is gated on an exact key-version pin plus a
// fresh challenge-bound attestation. There is no caching — each
// decrypt performs its own attestation round trip.
package kmsbroker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/altairalabs/assistant-core/internal/attestation"
)

// legacyKeyIDSentinel marks the one key id that a connector's stored
// binding is allowed to carry from before the broker enforced a
// specific pinned key. Adopting any other stale key_id would silently
// paper over a genuine key-drift incident, so the match is exact
// rather than "key_id != current".
const legacyKeyIDSentinel = "legacy-unpinned"

// KeyBinding is the (key_id, key_version) a connector's sealed
// refresh token was encrypted under.
type KeyBinding struct {
	KeyID      string
	KeyVersion int
}

// Policy pins the broker to one KMS key generation and restricts which
// attested measurements may request a decrypt.
type Policy struct {
	KeyID               string
	KeyVersion          int
	AllowedMeasurements []string
}

// Unwrapper performs the enclave-side unwrap of a sealed refresh token
// once the broker has authorized the request. It's the only place the
// actual KMS SDK call happens, so the broker itself stays provider-
// agnostic (AWS, GCP, ... see internal/kmsbroker/aws.go).
type Unwrapper interface {
	Unwrap(ctx context.Context, userID, connectorID string, ciphertext []byte) ([]byte, error)
}

// Broker gates Unwrapper calls on key-version pinning and attestation.
type Broker struct {
	policy    Policy
	verifier  *attestation.Verifier
	unwrapper Unwrapper
	log       logr.Logger

	newChallengeNonce func() string
	newRequestID      func() string
	now               func() time.Time
	maxAge            time.Duration
	challenger        ChallengeTransport
}

// ChallengeTransport posts an attestation.Challenge to the enclave and
// returns its attestation.Response.
type ChallengeTransport interface {
	RequestChallenge(ctx context.Context, challenge attestation.Challenge) (attestation.Response, error)
}

// Error is a stable, machine-classifiable broker failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

const (
	CodeKeyMismatch      = "kms_key_mismatch"
	CodeVersionMismatch  = "kms_version_mismatch"
	CodePolicyDenied     = "kms_policy_denied"
	CodeChallengeFailed  = "attestation_challenge_failed"
	CodeAttestationFailed = "attestation_failed"
)

// NewBroker constructs a Broker. newChallengeNonce/newRequestID are
// injected (rather than calling uuid.New directly) so tests can assert
// on exact challenge contents; production callers should pass
// uuid.NewString.
func NewBroker(policy Policy, verifier *attestation.Verifier, unwrapper Unwrapper, challenger ChallengeTransport, log logr.Logger, newChallengeNonce, newRequestID func() string, now func() time.Time, maxAge time.Duration) *Broker {
	return &Broker{
		policy:            policy,
		verifier:          verifier,
		unwrapper:         unwrapper,
		challenger:        challenger,
		log:               log.WithName("kmsbroker"),
		newChallengeNonce: newChallengeNonce,
		newRequestID:      newRequestID,
		now:               now,
		maxAge:            maxAge,
	}
}

// ValidateKeyBinding enforces the exact key_id/key_version pin. A
// binding carrying the legacy sentinel key id is accepted regardless of
// its key version, for connectors sealed before this broker existed;
// every other mismatch is refused. The broker does not rewrite the
// stored binding, so a sentinel binding is accepted on every call.
func (b *Broker) ValidateKeyBinding(binding KeyBinding) error {
	if binding.KeyID == legacyKeyIDSentinel {
		return nil
	}
	if binding.KeyID != b.policy.KeyID {
		return &Error{Code: CodeKeyMismatch, Message: fmt.Sprintf("kms key mismatch: expected=%s actual=%s", b.policy.KeyID, binding.KeyID)}
	}
	if binding.KeyVersion != b.policy.KeyVersion {
		return &Error{Code: CodeVersionMismatch, Message: fmt.Sprintf("kms key version mismatch: expected=%d actual=%d", b.policy.KeyVersion, binding.KeyVersion)}
	}
	return nil
}

// AuthorizeDecrypt validates the key binding and then always performs
// a fresh challenge/response round trip before
// checking the attested measurement against the KMS policy's
// allow-list (which may differ from the ingress allow-list).
func (b *Broker) AuthorizeDecrypt(ctx context.Context, binding KeyBinding) (attestation.Identity, error) {
	if err := b.ValidateKeyBinding(binding); err != nil {
		return attestation.Identity{}, err
	}

	now := b.now()
	challenge := attestation.BuildChallenge(b.newChallengeNonce(), b.newRequestID(), "decrypt", now, b.maxAge)

	resp, err := b.challenger.RequestChallenge(ctx, challenge)
	if err != nil {
		return attestation.Identity{}, &Error{Code: CodeChallengeFailed, Message: fmt.Sprintf("requesting attestation challenge: %v", err)}
	}

	identity, err := b.verifier.Verify(challenge, resp, now)
	if err != nil {
		return attestation.Identity{}, &Error{Code: CodeAttestationFailed, Message: err.Error()}
	}

	if !measurementAllowed(b.policy.AllowedMeasurements, identity.Measurement) {
		return attestation.Identity{}, &Error{Code: CodePolicyDenied, Message: fmt.Sprintf("kms policy denied decrypt for measurement=%s", identity.Measurement)}
	}

	return identity, nil
}

// Decrypt authorizes then unwraps the sealed refresh token for
// (userID, connectorID). No caching: every call repeats the full
// authorization flow.
func (b *Broker) Decrypt(ctx context.Context, userID, connectorID string, binding KeyBinding, ciphertext []byte) ([]byte, error) {
	identity, err := b.AuthorizeDecrypt(ctx, binding)
	if err != nil {
		b.log.Info("kms decrypt denied", "user_id", userID, "connector_id", connectorID, "error", err.Error())
		return nil, err
	}

	plaintext, err := b.unwrapper.Unwrap(ctx, userID, connectorID, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("kmsbroker: unwrap failed: %w", err)
	}

	b.log.V(1).Info("kms decrypt authorized", "user_id", userID, "connector_id", connectorID, "runtime", identity.Runtime)
	return plaintext, nil
}

func measurementAllowed(allowed []string, measurement string) bool {
	for _, m := range allowed {
		if m == measurement {
			return true
		}
	}
	return false
}
