package kmsbroker

import (
	"context"
	"crypto/rand"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
)

// gcpKeyManagementClient is the subset of *kms.KeyManagementClient this
// package calls, so tests can substitute a fake without a live GCP
// project.
type gcpKeyManagementClient interface {
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error)
	Close() error
}

// GCPUnwrapper implements Unwrapper via Google Cloud KMS envelope
// encryption, the data-key size and local AES-GCM wrap mirroring
// AWSUnwrapper exactly: GCP KMS wraps a locally generated AES-256 data
// key rather than issuing one itself, since Cloud KMS has no
// GenerateDataKey equivalent.
type GCPUnwrapper struct {
	client gcpKeyManagementClient
	keyID  string
}

// NewGCPUnwrapper dials Cloud KMS. keyID is the full resource name
// (projects/*/locations/*/keyRings/*/cryptoKeys/*). credentialsJSON may
// be empty, in which case the client falls back to application default
// credentials.
func NewGCPUnwrapper(ctx context.Context, keyID, credentialsJSON string) (*GCPUnwrapper, error) {
	if keyID == "" {
		return nil, fmt.Errorf("kmsbroker: gcp key id is required")
	}

	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}

	client, err := kms.NewKeyManagementClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("kmsbroker: creating gcp kms client: %w", err)
	}

	return &GCPUnwrapper{client: client, keyID: keyID}, nil
}

// KeyID returns the KMS key resource name this unwrapper wraps and
// unwraps under.
func (u *GCPUnwrapper) KeyID() string { return u.keyID }

// Wrap seals plaintext with a freshly generated local data key, then
// asks Cloud KMS to wrap that data key. Same envelope shape as
// AWSUnwrapper.Wrap so Unwrap doesn't need to know which backend
// produced a given ciphertext.
func (u *GCPUnwrapper) Wrap(ctx context.Context, plaintext []byte) ([]byte, error) {
	dek := make([]byte, 32)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("kmsbroker: generating data key: %w", err)
	}

	wrapResp, err := u.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:      u.keyID,
		Plaintext: dek,
	})
	if err != nil {
		return nil, fmt.Errorf("kmsbroker: KMS Encrypt (wrap DEK) failed: %w", err)
	}

	nonce, ciphertext, err := aesGCMSeal(dek, plaintext)
	if err != nil {
		return nil, err
	}

	return sealEnvelope(wrapResp.Ciphertext, nonce, ciphertext), nil
}

// Unwrap implements Unwrapper.
func (u *GCPUnwrapper) Unwrap(ctx context.Context, userID, connectorID string, ciphertext []byte) ([]byte, error) {
	env, err := parseEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}

	decryptResp, err := u.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:       u.keyID,
		Ciphertext: env.wrappedDEK,
	})
	if err != nil {
		return nil, fmt.Errorf("kmsbroker: KMS Decrypt failed: %w", err)
	}

	return aesGCMOpen(decryptResp.Plaintext, env.nonce, env.ciphertext)
}

// Close releases the underlying Cloud KMS client connection.
func (u *GCPUnwrapper) Close() error {
	return u.client.Close()
}
