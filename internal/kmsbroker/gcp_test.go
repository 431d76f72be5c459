package kmsbroker

import (
	"context"
	"fmt"
	"testing"

	"cloud.google.com/go/kms/apiv1/kmspb"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/require"
)

type fakeGCPKMSClient struct {
	dataKeyPlaintext []byte
	wrappedDEK       []byte
	encryptErr       error
	decryptErr       error
}

func (f *fakeGCPKMSClient) Encrypt(_ context.Context, req *kmspb.EncryptRequest, _ ...gax.CallOption) (*kmspb.EncryptResponse, error) {
	if f.encryptErr != nil {
		return nil, f.encryptErr
	}
	f.dataKeyPlaintext = req.Plaintext
	return &kmspb.EncryptResponse{Ciphertext: f.wrappedDEK}, nil
}

func (f *fakeGCPKMSClient) Decrypt(_ context.Context, _ *kmspb.DecryptRequest, _ ...gax.CallOption) (*kmspb.DecryptResponse, error) {
	if f.decryptErr != nil {
		return nil, f.decryptErr
	}
	return &kmspb.DecryptResponse{Plaintext: f.dataKeyPlaintext}, nil
}

func (f *fakeGCPKMSClient) Close() error { return nil }

func TestGCPUnwrapper_WrapAndUnwrapRoundTrip(t *testing.T) {
	client := &fakeGCPKMSClient{wrappedDEK: []byte("wrapped-dek-blob")}
	u := &GCPUnwrapper{client: client, keyID: "projects/p/locations/global/keyRings/r/cryptoKeys/k"}

	ciphertext, err := u.Wrap(context.Background(), []byte("refresh-token-value"))
	require.NoError(t, err)

	plaintext, err := u.Unwrap(context.Background(), "user-1", "connector-1", ciphertext)
	require.NoError(t, err)
	require.Equal(t, "refresh-token-value", string(plaintext))
}

func TestGCPUnwrapper_WrapPropagatesKMSError(t *testing.T) {
	client := &fakeGCPKMSClient{encryptErr: fmt.Errorf("kms unavailable")}
	u := &GCPUnwrapper{client: client, keyID: "key-1"}

	_, err := u.Wrap(context.Background(), []byte("refresh-token-value"))
	require.Error(t, err)
}

func TestGCPUnwrapper_UnwrapRejectsMalformedEnvelope(t *testing.T) {
	u := &GCPUnwrapper{client: &fakeGCPKMSClient{}, keyID: "key-1"}

	_, err := u.Unwrap(context.Background(), "user-1", "connector-1", []byte("not an envelope"))
	require.Error(t, err)
}
