package enclaverpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSigner_SignAndVerifyRoundTrip(t *testing.T) {
	signer := NewSigner([]byte("shared-secret"))
	sig := signer.Sign("POST", "/v1/token/exchange", 1700000000, "nonce-1", []byte(`{"a":1}`))
	require.True(t, signer.Verify("POST", "/v1/token/exchange", 1700000000, "nonce-1", []byte(`{"a":1}`), sig))
}

func TestSigner_RejectsTamperedBody(t *testing.T) {
	signer := NewSigner([]byte("shared-secret"))
	sig := signer.Sign("POST", "/v1/token/exchange", 1700000000, "nonce-1", []byte(`{"a":1}`))
	require.False(t, signer.Verify("POST", "/v1/token/exchange", 1700000000, "nonce-1", []byte(`{"a":2}`), sig))
}

func TestAuthenticateRequest_RejectsContractVersionMismatch(t *testing.T) {
	signer := NewSigner([]byte("secret"))
	guard := NewReplayGuard()
	now := time.Unix(1700000000, 0)
	err := AuthenticateRequest(signer, guard, "POST", "/p", now.Unix(), "n1", signer.Sign("POST", "/p", now.Unix(), "n1", nil), nil, "v2", now, 30*time.Second)
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, CodeContractVersionMismatch, rpcErr.Code)
}

func TestAuthenticateRequest_RejectsClockSkew(t *testing.T) {
	signer := NewSigner([]byte("secret"))
	guard := NewReplayGuard()
	reqTime := time.Unix(1700000000, 0)
	now := reqTime.Add(time.Minute)
	err := AuthenticateRequest(signer, guard, "POST", "/p", reqTime.Unix(), "n1", signer.Sign("POST", "/p", reqTime.Unix(), "n1", nil), nil, ContractVersion, now, 30*time.Second)
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, CodeClockSkewExceeded, rpcErr.Code)
}

func TestAuthenticateRequest_RejectsReplayedNonce(t *testing.T) {
	signer := NewSigner([]byte("secret"))
	guard := NewReplayGuard()
	now := time.Unix(1700000000, 0)
	sig := signer.Sign("POST", "/p", now.Unix(), "n1", nil)

	require.NoError(t, AuthenticateRequest(signer, guard, "POST", "/p", now.Unix(), "n1", sig, nil, ContractVersion, now, 30*time.Second))

	err := AuthenticateRequest(signer, guard, "POST", "/p", now.Unix(), "n1", sig, nil, ContractVersion, now, 30*time.Second)
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, CodeRequestReplayDetected, rpcErr.Code)
}

func TestAuthenticateRequest_RejectsBadSignature(t *testing.T) {
	signer := NewSigner([]byte("secret"))
	guard := NewReplayGuard()
	now := time.Unix(1700000000, 0)
	err := AuthenticateRequest(signer, guard, "POST", "/p", now.Unix(), "n1", "deadbeef", nil, ContractVersion, now, 30*time.Second)
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, CodeInvalidRequestSignature, rpcErr.Code)
}
