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

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"github.com/altairalabs/assistant-core/internal/attestation"
)

// selfAttester answers an attestation.Challenge with this process's
// own signed evidence. It satisfies kmsbroker.ChallengeTransport and
// also backs the /v1/attestation/challenge RPC path the host uses to
// verify enclave identity before trusting the ingress key: both
// consumers are the same runtime attesting itself, so there is no
// separate network hop to make.
type selfAttester struct {
	runtime     string
	measurement string
	signingKey  ed25519.PrivateKey
	insecure    bool
	now         func() time.Time
}

func newSelfAttester(runtime, measurement string, signingKey ed25519.PrivateKey, insecure bool, now func() time.Time) *selfAttester {
	return &selfAttester{runtime: runtime, measurement: measurement, signingKey: signingKey, insecure: insecure, now: now}
}

// RequestChallenge implements kmsbroker.ChallengeTransport.
func (s *selfAttester) RequestChallenge(_ context.Context, challenge attestation.Challenge) (attestation.Response, error) {
	return s.sign(challenge), nil
}

func (s *selfAttester) sign(challenge attestation.Challenge) attestation.Response {
	resp := attestation.Response{
		ChallengeNonce:   challenge.ChallengeNonce,
		RequestID:        challenge.RequestID,
		OperationPurpose: challenge.OperationPurpose,
		IssuedAt:         challenge.IssuedAt,
		ExpiresAt:        challenge.ExpiresAt,
		EvidenceIssuedAt: s.now(),
		Runtime:          s.runtime,
		Measurement:      s.measurement,
	}
	if !s.insecure {
		resp.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(s.signingKey, attestation.SigningPayload(resp)))
	}
	return resp
}

func newUUIDString() string { return uuid.NewString() }
