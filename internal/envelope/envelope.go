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

// Package envelope implements the sealed channel between the mobile
// client and the enclave runtime: X25519 key agreement, directional
// key derivation, and ChaCha20-Poly1305 encryption/decryption of the
// request and response envelopes.
package envelope

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	// VersionV1 is the only envelope wire version this build accepts.
	VersionV1 = "v1"
	// AlgorithmX25519ChaCha20Poly1305 is the only algorithm identifier
	// this build accepts.
	AlgorithmX25519ChaCha20Poly1305 = "x25519-chacha20poly1305"

	directionRequest  = "request"
	directionResponse = "response"

	nonceSize = chacha20poly1305.NonceSize
)

// Sentinel errors mirroring the envelope validation failure taxonomy.
var (
	ErrUnsupportedVersion      = errors.New("envelope: unsupported version")
	ErrUnsupportedAlgorithm    = errors.New("envelope: unsupported algorithm")
	ErrMissingRequestID        = errors.New("envelope: request_id is required")
	ErrUnknownKeyID            = errors.New("envelope: key_id is not recognized")
	ErrExpiredKeyID            = errors.New("envelope: key_id has expired")
	ErrInvalidNonceLength      = errors.New("envelope: nonce must be exactly 12 bytes")
	ErrInvalidPublicKey        = errors.New("envelope: client ephemeral public key is invalid")
	ErrDecryptFailed           = errors.New("envelope: ciphertext failed authentication")
	ErrEncryptFailed           = errors.New("envelope: response encryption failed")
	ErrInvalidPlaintextPayload = errors.New("envelope: plaintext payload is invalid")
)

// InvalidBase64FieldError names the specific envelope field that failed
// to base64-decode.
type InvalidBase64FieldError struct {
	Field string
}

func (e *InvalidBase64FieldError) Error() string {
	return fmt.Sprintf("envelope: field %q is invalid base64", e.Field)
}

// KeyMaterial is one generation of the enclave's ingress X25519 key pair.
type KeyMaterial struct {
	KeyID        string
	PrivateKey   [32]byte
	PublicKeyB64 string
	ExpiresAt    time.Time
}

// Keyring holds the active ingress key and, during a rotation window,
// the previous generation so in-flight client handshakes still decrypt.
type Keyring struct {
	Active   KeyMaterial
	Previous *KeyMaterial
}

// KeyForID returns the key matching keyID, preferring the active key.
func (k Keyring) KeyForID(keyID string) (KeyMaterial, bool) {
	if k.Active.KeyID == keyID {
		return k.Active, true
	}
	if k.Previous != nil && k.Previous.KeyID == keyID {
		return *k.Previous, true
	}
	return KeyMaterial{}, false
}

// RequestEnvelope is the wire shape of a sealed client->enclave request.
type RequestEnvelope struct {
	Version                   string `json:"version"`
	Algorithm                 string `json:"algorithm"`
	KeyID                     string `json:"key_id"`
	RequestID                 string `json:"request_id"`
	ClientEphemeralPublicKey  string `json:"client_ephemeral_public_key"`
	Nonce                     string `json:"nonce"`
	Ciphertext                string `json:"ciphertext"`
}

// ResponseEnvelope is the wire shape of a sealed enclave->client response.
type ResponseEnvelope struct {
	Version    string `json:"version"`
	Algorithm  string `json:"algorithm"`
	KeyID      string `json:"key_id"`
	RequestID  string `json:"request_id"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// DerivePublicKeyB64 computes the base64-standard-encoded X25519 public
// key for a given private scalar.
func DerivePublicKeyB64(privateKey [32]byte) (string, error) {
	pub, err := curve25519.X25519(privateKey[:], curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("envelope: derive public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

// DecryptRequest validates and decrypts a sealed request envelope,
// returning the JSON plaintext unmarshaled into T and the key
// generation used.
func DecryptRequest[T any](keyring Keyring, env RequestEnvelope) (T, KeyMaterial, error) {
	var zero T

	if err := validateCommonFields(env.Version, env.Algorithm, env.RequestID); err != nil {
		return zero, KeyMaterial{}, err
	}

	key, ok := keyring.KeyForID(env.KeyID)
	if !ok {
		return zero, KeyMaterial{}, ErrUnknownKeyID
	}
	isActive := key.KeyID == keyring.Active.KeyID
	if !isActive && key.ExpiresAt.Before(time.Now()) {
		return zero, KeyMaterial{}, ErrExpiredKeyID
	}

	clientPub, err := decodeBase64Field(env.ClientEphemeralPublicKey, "client_ephemeral_public_key")
	if err != nil {
		return zero, KeyMaterial{}, err
	}
	if len(clientPub) != 32 {
		return zero, KeyMaterial{}, ErrInvalidPublicKey
	}

	nonceBytes, err := decodeBase64Field(env.Nonce, "nonce")
	if err != nil {
		return zero, KeyMaterial{}, err
	}
	if len(nonceBytes) != nonceSize {
		return zero, KeyMaterial{}, ErrInvalidNonceLength
	}

	ciphertext, err := decodeBase64Field(env.Ciphertext, "ciphertext")
	if err != nil {
		return zero, KeyMaterial{}, err
	}

	decryptKey, err := deriveDirectionalKey(key.PrivateKey, clientPub, env.RequestID, directionRequest)
	if err != nil {
		return zero, KeyMaterial{}, err
	}

	aead, err := chacha20poly1305.New(decryptKey[:])
	if err != nil {
		return zero, KeyMaterial{}, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	plaintext, err := aead.Open(nil, nonceBytes, ciphertext, []byte(env.RequestID))
	if err != nil {
		return zero, KeyMaterial{}, ErrDecryptFailed
	}

	var parsed T
	if err := json.Unmarshal(plaintext, &parsed); err != nil {
		return zero, KeyMaterial{}, fmt.Errorf("%w: %v", ErrInvalidPlaintextPayload, err)
	}

	return parsed, key, nil
}

// EncryptResponse seals response into a ResponseEnvelope addressed to the
// client ephemeral public key that originated the request.
func EncryptResponse(key KeyMaterial, requestID, clientEphemeralPublicKeyB64 string, response any) (ResponseEnvelope, error) {
	if err := validateCommonFields(VersionV1, AlgorithmX25519ChaCha20Poly1305, requestID); err != nil {
		return ResponseEnvelope{}, err
	}

	clientPub, err := decodeBase64Field(clientEphemeralPublicKeyB64, "client_ephemeral_public_key")
	if err != nil {
		return ResponseEnvelope{}, err
	}
	if len(clientPub) != 32 {
		return ResponseEnvelope{}, ErrInvalidPublicKey
	}

	encryptKey, err := deriveDirectionalKey(key.PrivateKey, clientPub, requestID, directionResponse)
	if err != nil {
		return ResponseEnvelope{}, err
	}

	aead, err := chacha20poly1305.New(encryptKey[:])
	if err != nil {
		return ResponseEnvelope{}, fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}

	plaintext, err := json.Marshal(response)
	if err != nil {
		return ResponseEnvelope{}, fmt.Errorf("%w: %v", ErrInvalidPlaintextPayload, err)
	}

	nonceBytes := buildNonceBytes()
	ciphertext := aead.Seal(nil, nonceBytes[:], plaintext, []byte(requestID))

	return ResponseEnvelope{
		Version:    VersionV1,
		Algorithm:  AlgorithmX25519ChaCha20Poly1305,
		KeyID:      key.KeyID,
		RequestID:  requestID,
		Nonce:      base64.StdEncoding.EncodeToString(nonceBytes[:]),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func decodeBase64Field(value, field string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, &InvalidBase64FieldError{Field: field}
	}
	return decoded, nil
}

func validateCommonFields(version, algorithm, requestID string) error {
	if version != VersionV1 {
		return ErrUnsupportedVersion
	}
	if algorithm != AlgorithmX25519ChaCha20Poly1305 {
		return ErrUnsupportedAlgorithm
	}
	if strings.TrimSpace(requestID) == "" {
		return ErrMissingRequestID
	}
	return nil
}

// deriveDirectionalKey derives a ChaCha20-Poly1305 key scoped to one
// request_id and one traffic direction, so the request and response
// keys for the same handshake can never be swapped or reused.
func deriveDirectionalKey(serverPrivateKey [32]byte, clientPublicKey []byte, requestID, direction string) ([32]byte, error) {
	var out [32]byte
	sharedSecret, err := curve25519.X25519(serverPrivateKey[:], clientPublicKey)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	h := sha256.New()
	h.Write(sharedSecret)
	h.Write([]byte("|"))
	h.Write([]byte(requestID))
	h.Write([]byte("|"))
	h.Write([]byte(direction))
	copy(out[:], h.Sum(nil))
	return out, nil
}

func buildNonceBytes() [nonceSize]byte {
	var nonce [nonceSize]byte
	id := uuid.New()
	copy(nonce[:], id[:nonceSize])
	return nonce
}

// constantTimeEqual compares attacker-influenced tokens without
// leaking timing. It is unexported and has no caller in this package.
func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
