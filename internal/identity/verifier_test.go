package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return key, pemBytes
}

func signToken(t *testing.T, key *rsa.PrivateKey, issuer, subject string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(expiresAt.Add(-time.Hour)),
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestVerifier_Verify_AcceptsValidToken(t *testing.T) {
	key, pub := generateTestKeyPair(t)
	v, err := NewVerifier(pub, "https://idp.example")
	require.NoError(t, err)

	token := signToken(t, key, "https://idp.example", "user-42", time.Now().Add(time.Hour))

	id, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "https://idp.example", id.Issuer)
	require.Equal(t, "user-42", id.Subject)
	require.Equal(t, DeriveUserID("https://idp.example", "user-42"), id.UserID)
}

func TestVerifier_Verify_SameSubjectIsStableAcrossLogins(t *testing.T) {
	key, pub := generateTestKeyPair(t)
	v, err := NewVerifier(pub, "https://idp.example")
	require.NoError(t, err)

	first, err := v.Verify(signToken(t, key, "https://idp.example", "user-42", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	second, err := v.Verify(signToken(t, key, "https://idp.example", "user-42", time.Now().Add(2*time.Hour)))
	require.NoError(t, err)

	require.Equal(t, first.UserID, second.UserID)
}

func TestVerifier_Verify_RejectsExpiredToken(t *testing.T) {
	key, pub := generateTestKeyPair(t)
	v, err := NewVerifier(pub, "https://idp.example")
	require.NoError(t, err)

	token := signToken(t, key, "https://idp.example", "user-42", time.Now().Add(-time.Minute))

	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_Verify_RejectsWrongIssuer(t *testing.T) {
	key, pub := generateTestKeyPair(t)
	v, err := NewVerifier(pub, "https://idp.example")
	require.NoError(t, err)

	token := signToken(t, key, "https://attacker.example", "user-42", time.Now().Add(time.Hour))

	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_Verify_RejectsWrongSigningKey(t *testing.T) {
	_, pub := generateTestKeyPair(t)
	other, _ := generateTestKeyPair(t)
	v, err := NewVerifier(pub, "https://idp.example")
	require.NoError(t, err)

	token := signToken(t, other, "https://idp.example", "user-42", time.Now().Add(time.Hour))

	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_Verify_RejectsMalformedToken(t *testing.T) {
	_, pub := generateTestKeyPair(t)
	v, err := NewVerifier(pub, "https://idp.example")
	require.NoError(t, err)

	_, err = v.Verify("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_Verify_RejectsMissingExpiry(t *testing.T) {
	key, pub := generateTestKeyPair(t)
	v, err := NewVerifier(pub, "https://idp.example")
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:  "https://idp.example",
		Subject: "user-42",
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewVerifier_RejectsMalformedPublicKey(t *testing.T) {
	_, err := NewVerifier([]byte("not pem"), "https://idp.example")
	require.Error(t, err)
}

func TestNewVerifier_RejectsEmptyIssuer(t *testing.T) {
	_, pub := generateTestKeyPair(t)
	_, err := NewVerifier(pub, "")
	require.Error(t, err)
}
