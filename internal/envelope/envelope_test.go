package envelope

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

type testRequest struct {
	Query     string    `json:"query"`
	SessionID uuid.UUID `json:"session_id"`
}

type testResponse struct {
	DisplayText string `json:"display_text"`
}

func TestDecryptRequestAndEncryptResponse_RoundTrip(t *testing.T) {
	serverPrivate := fill32(9)
	clientPrivate := fill32(5)
	requestID := "req-123"

	reqEnv := encryptRequestForTest(t, serverPrivate, clientPrivate, "assistant-ingress-v1", requestID, testRequest{Query: "meetings today"})

	pub, err := DerivePublicKeyB64(serverPrivate)
	require.NoError(t, err)
	keyring := Keyring{Active: KeyMaterial{
		KeyID:        "assistant-ingress-v1",
		PrivateKey:   serverPrivate,
		PublicKeyB64: pub,
		ExpiresAt:    time.Now().Add(time.Hour),
	}}

	decrypted, selected, err := DecryptRequest[testRequest](keyring, reqEnv)
	require.NoError(t, err)
	require.Equal(t, "meetings today", decrypted.Query)
	require.Equal(t, "assistant-ingress-v1", selected.KeyID)

	respEnv, err := EncryptResponse(keyring.Active, requestID, reqEnv.ClientEphemeralPublicKey, testResponse{DisplayText: "encrypted ingress accepted"})
	require.NoError(t, err)

	decryptedResp := decryptResponseForTest(t, clientPrivate, serverPrivate, requestID, respEnv)
	require.Equal(t, "encrypted ingress accepted", decryptedResp.DisplayText)
}

func TestDecryptRequest_RejectsUnknownKeyID(t *testing.T) {
	serverPrivate := fill32(9)
	pub, err := DerivePublicKeyB64(serverPrivate)
	require.NoError(t, err)
	keyring := Keyring{Active: KeyMaterial{
		KeyID:        "assistant-ingress-v1",
		PrivateKey:   serverPrivate,
		PublicKeyB64: pub,
		ExpiresAt:    time.Now().Add(time.Hour),
	}}

	env := RequestEnvelope{
		Version:                  VersionV1,
		Algorithm:                AlgorithmX25519ChaCha20Poly1305,
		KeyID:                    "missing-key",
		RequestID:                "req-1",
		ClientEphemeralPublicKey: base64.StdEncoding.EncodeToString(bytesOf(1, 32)),
		Nonce:                    base64.StdEncoding.EncodeToString(bytesOf(1, 12)),
		Ciphertext:               base64.StdEncoding.EncodeToString(bytesOf(1, 16)),
	}

	_, _, err = DecryptRequest[testRequest](keyring, env)
	require.ErrorIs(t, err, ErrUnknownKeyID)
}

func TestDecryptRequest_RejectsExpiredPreviousKey(t *testing.T) {
	serverPrivate := fill32(9)
	previousPrivate := fill32(6)
	clientPrivate := fill32(5)

	reqEnv := encryptRequestForTest(t, previousPrivate, clientPrivate, "assistant-ingress-v0", "req-expired", testRequest{Query: "meetings today"})

	activePub, err := DerivePublicKeyB64(serverPrivate)
	require.NoError(t, err)
	previousPub, err := DerivePublicKeyB64(previousPrivate)
	require.NoError(t, err)

	keyring := Keyring{
		Active: KeyMaterial{
			KeyID:        "assistant-ingress-v1",
			PrivateKey:   serverPrivate,
			PublicKeyB64: activePub,
			ExpiresAt:    time.Now().Add(time.Hour),
		},
		Previous: &KeyMaterial{
			KeyID:        "assistant-ingress-v0",
			PrivateKey:   previousPrivate,
			PublicKeyB64: previousPub,
			ExpiresAt:    time.Now().Add(-time.Second),
		},
	}

	_, _, err = DecryptRequest[testRequest](keyring, reqEnv)
	require.ErrorIs(t, err, ErrExpiredKeyID)
}

func TestDecryptRequest_AcceptsActiveKeyEvenWhenExpired(t *testing.T) {
	serverPrivate := fill32(9)
	clientPrivate := fill32(5)
	reqEnv := encryptRequestForTest(t, serverPrivate, clientPrivate, "assistant-ingress-v1", "req-active", testRequest{Query: "meetings today"})

	pub, err := DerivePublicKeyB64(serverPrivate)
	require.NoError(t, err)
	keyring := Keyring{Active: KeyMaterial{
		KeyID:        "assistant-ingress-v1",
		PrivateKey:   serverPrivate,
		PublicKeyB64: pub,
		ExpiresAt:    time.Now().Add(-time.Second),
	}}

	_, _, err = DecryptRequest[testRequest](keyring, reqEnv)
	require.NoError(t, err, "active key should remain usable even past its bootstrap expiry")
}

func fill32(b byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func encryptRequestForTest(t *testing.T, serverPrivate, clientPrivate [32]byte, keyID, requestID string, req testRequest) RequestEnvelope {
	t.Helper()

	serverPub, err := curve25519.X25519(serverPrivate[:], curve25519.Basepoint)
	require.NoError(t, err)
	sharedSecret, err := curve25519.X25519(clientPrivate[:], serverPub)
	require.NoError(t, err)

	derivedKey := hashDirectional(sharedSecret, requestID, directionRequest)

	aead, err := chacha20poly1305.New(derivedKey[:])
	require.NoError(t, err)
	nonce := bytesOf(3, chacha20poly1305.NonceSize)
	plaintext, err := json.Marshal(req)
	require.NoError(t, err)
	ciphertext := aead.Seal(nil, nonce, plaintext, []byte(requestID))

	clientPub, err := curve25519.X25519(clientPrivate[:], curve25519.Basepoint)
	require.NoError(t, err)

	return RequestEnvelope{
		Version:                  VersionV1,
		Algorithm:                AlgorithmX25519ChaCha20Poly1305,
		KeyID:                    keyID,
		RequestID:                requestID,
		ClientEphemeralPublicKey: base64.StdEncoding.EncodeToString(clientPub),
		Nonce:                    base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:               base64.StdEncoding.EncodeToString(ciphertext),
	}
}

func decryptResponseForTest(t *testing.T, clientPrivate, serverPrivate [32]byte, requestID string, env ResponseEnvelope) testResponse {
	t.Helper()

	serverPub, err := curve25519.X25519(serverPrivate[:], curve25519.Basepoint)
	require.NoError(t, err)
	sharedSecret, err := curve25519.X25519(clientPrivate[:], serverPub)
	require.NoError(t, err)

	derivedKey := hashDirectional(sharedSecret, requestID, directionResponse)
	aead, err := chacha20poly1305.New(derivedKey[:])
	require.NoError(t, err)

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	require.NoError(t, err)
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	require.NoError(t, err)

	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(requestID))
	require.NoError(t, err)

	var resp testResponse
	require.NoError(t, json.Unmarshal(plaintext, &resp))
	return resp
}

func hashDirectional(sharedSecret []byte, requestID, direction string) [32]byte {
	h := sha256.New()
	h.Write(sharedSecret)
	h.Write([]byte("|"))
	h.Write([]byte(requestID))
	h.Write([]byte("|"))
	h.Write([]byte(direction))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
