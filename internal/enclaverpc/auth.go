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

// Package enclaverpc implements the signed HTTP transport used for all
// host<->enclave traffic: a fixed contract-version header and an HMAC
// authentication triad (timestamp, nonce, signature) over the request,
// plus the stable, machine-classifiable error-code taxonomy both sides
// use to decide whether a failure is retryable.
package enclaverpc

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ContractVersion is the only accepted value of the
// X-Enclave-Rpc-Contract-Version header.
const ContractVersion = "v1"

// Header names for the signed-RPC authentication triad.
const (
	HeaderContractVersion = "X-Enclave-Rpc-Contract-Version"
	HeaderAuthTimestamp   = "X-Enclave-Rpc-Auth-Timestamp"
	HeaderAuthNonce       = "X-Enclave-Rpc-Auth-Nonce"
	HeaderAuthSignature   = "X-Enclave-Rpc-Auth-Signature"
)

// Error is a stable, machine-classifiable RPC failure. Retryable
// distinguishes authentication and contract failures (never retryable
// at the RPC layer — retrying with the same nonce would replay) from
// transport errors and enclave 5xx responses, which a caller may retry.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string { return e.Message }

// Error codes forming the RPC error-code taxonomy. Every code below is
// never retryable; Client.Do's transport_error and
// enclave_internal_error results are.
const (
	CodeInvalidRequestSignature = "invalid_request_signature"
	CodeRequestReplayDetected   = "request_replay_detected"
	CodeContractVersionMismatch = "contract_version_mismatch"
	CodeClockSkewExceeded       = "clock_skew_exceeded"
	CodeResponseRequestIDMismatch = "response_request_id_mismatch"
	CodeDecryptNotAuthorized    = "decrypt_not_authorized"
)

func newNonRetryableErr(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Retryable: false}
}

// Signer computes and verifies the HMAC-SHA256 signature over a
// canonical request representation.
type Signer struct {
	sharedSecret []byte
}

// NewSigner constructs a Signer from the host<->enclave shared secret.
func NewSigner(sharedSecret []byte) *Signer {
	return &Signer{sharedSecret: sharedSecret}
}

// CanonicalPayload builds method || "\n" || path || "\n" || timestamp
// || "\n" || nonce || "\n" || body, the exact bytes that get HMAC'd.
func CanonicalPayload(method, path string, timestamp int64, nonce string, body []byte) []byte {
	parts := []string{method, path, strconv.FormatInt(timestamp, 10), nonce}
	buf := []byte(strings.Join(parts, "\n") + "\n")
	return append(buf, body...)
}

// Sign returns the base16 HMAC-SHA256 signature for the given request.
func (s *Signer) Sign(method, path string, timestamp int64, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, s.sharedSecret)
	mac.Write(CanonicalPayload(method, path, timestamp, nonce, body))
	return fmt.Sprintf("%x", mac.Sum(nil))
}

// Verify reports whether signature matches the expected HMAC for the
// given request, using a constant-time comparison.
func (s *Signer) Verify(method, path string, timestamp int64, nonce string, body []byte, signature string) bool {
	expected := s.Sign(method, path, timestamp, nonce, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// ReplayGuard is the RPC-nonce counterpart of attestation.ReplayGuard:
// a nonce is accepted at most once within the configured clock-skew
// window, pruned opportunistically on access.
type ReplayGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewReplayGuard constructs an empty ReplayGuard.
func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{entries: make(map[string]time.Time)}
}

// VerifyAndRecord reports whether nonce is fresh; if so, it is
// recorded with an expiry of now+window.
func (g *ReplayGuard) VerifyAndRecord(nonce string, now time.Time, window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for n, expiresAt := range g.entries {
		if !expiresAt.After(now) {
			delete(g.entries, n)
		}
	}

	if expiresAt, seen := g.entries[nonce]; seen && expiresAt.After(now) {
		return false
	}
	g.entries[nonce] = now.Add(window)
	return true
}

// AuthenticateRequest implements the server-side acceptance predicate:
// contract version matches, |now - timestamp| <= maxSkew, nonce is
// non-empty and unseen within the replay window (equal to maxSkew),
// and the signature matches.
func AuthenticateRequest(signer *Signer, guard *ReplayGuard, method, path string, timestamp int64, nonce, signature string, body []byte, contractVersion string, now time.Time, maxSkew time.Duration) error {
	if contractVersion != ContractVersion {
		return newNonRetryableErr(CodeContractVersionMismatch, "rpc contract version mismatch: expected=%s actual=%s", ContractVersion, contractVersion)
	}

	reqTime := time.Unix(timestamp, 0)
	skew := now.Sub(reqTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return newNonRetryableErr(CodeClockSkewExceeded, "rpc clock skew exceeded: now=%s timestamp=%s max=%s", now, reqTime, maxSkew)
	}

	if strings.TrimSpace(nonce) == "" {
		return newNonRetryableErr(CodeInvalidRequestSignature, "rpc nonce is required")
	}

	if !signer.Verify(method, path, timestamp, nonce, body, signature) {
		return newNonRetryableErr(CodeInvalidRequestSignature, "rpc signature verification failed")
	}

	if !guard.VerifyAndRecord(nonce, now, maxSkew) {
		return newNonRetryableErr(CodeRequestReplayDetected, "rpc nonce replay detected: %s", nonce)
	}

	return nil
}
