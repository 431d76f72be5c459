package kmsbroker

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// kmsClient abstracts the AWS KMS operations the broker needs, so
// tests can substitute a fake without a live AWS account.
type kmsClient interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSUnwrapper implements Unwrapper via AWS KMS envelope encryption:
// the refresh token is wrapped as AES-256-GCM under a per-record data
// key, and the data key itself is wrapped by KMS. Decrypt asks KMS to
// unwrap the data key, then performs the local AES-GCM open.
type AWSUnwrapper struct {
	client kmsClient
	keyID  string
}

// NewAWSUnwrapper loads AWS credentials the same way the broker's
// teacher encryption provider does: static credentials if both an
// access key and secret are supplied, the default provider chain
// otherwise.
func NewAWSUnwrapper(ctx context.Context, keyID, region, accessKeyID, secretAccessKey string) (*AWSUnwrapper, error) {
	if keyID == "" {
		return nil, fmt.Errorf("kmsbroker: aws key id is required")
	}
	if region == "" {
		return nil, fmt.Errorf("kmsbroker: aws region is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("kmsbroker: loading aws config: %w", err)
	}

	return &AWSUnwrapper{client: kms.NewFromConfig(awsCfg), keyID: keyID}, nil
}

// KeyID returns the KMS key id this unwrapper wraps and unwraps under.
func (u *AWSUnwrapper) KeyID() string { return u.keyID }

// Wrap seals plaintext with a freshly generated data key, returning
// the envelope shape Unwrap expects. Called at connector-link time by
// internal/connector, once per freshly exchanged refresh token.
func (u *AWSUnwrapper) Wrap(ctx context.Context, plaintext []byte) ([]byte, error) {
	genResp, err := u.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(u.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("kmsbroker: KMS GenerateDataKey failed: %w", err)
	}

	nonce, ciphertext, err := aesGCMSeal(genResp.Plaintext, plaintext)
	if err != nil {
		return nil, err
	}

	return sealEnvelope(genResp.CiphertextBlob, nonce, ciphertext), nil
}

// Unwrap implements Unwrapper.
func (u *AWSUnwrapper) Unwrap(ctx context.Context, userID, connectorID string, ciphertext []byte) ([]byte, error) {
	env, err := parseEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}

	decryptResp, err := u.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: env.wrappedDEK,
		KeyId:          aws.String(u.keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("kmsbroker: KMS Decrypt failed: %w", err)
	}

	return aesGCMOpen(decryptResp.Plaintext, env.nonce, env.ciphertext)
}

type envelope struct {
	wrappedDEK []byte
	nonce      []byte
	ciphertext []byte
}

// sealEnvelope/parseEnvelope use a minimal length-prefixed wire shape:
// 4-byte big-endian lengths for the wrapped DEK and the nonce, then
// the remaining bytes are ciphertext.
func sealEnvelope(wrappedDEK, nonce, ciphertext []byte) []byte {
	out := make([]byte, 0, 8+len(wrappedDEK)+len(nonce)+len(ciphertext))
	out = appendLenPrefixed(out, wrappedDEK)
	out = appendLenPrefixed(out, nonce)
	out = append(out, ciphertext...)
	return out
}

func parseEnvelope(data []byte) (envelope, error) {
	wrappedDEK, rest, err := readLenPrefixed(data)
	if err != nil {
		return envelope{}, fmt.Errorf("kmsbroker: malformed envelope: %w", err)
	}
	nonce, rest, err := readLenPrefixed(rest)
	if err != nil {
		return envelope{}, fmt.Errorf("kmsbroker: malformed envelope: %w", err)
	}
	return envelope{wrappedDEK: wrappedDEK, nonce: nonce, ciphertext: rest}, nil
}

func appendLenPrefixed(out, data []byte) []byte {
	var lenBytes [4]byte
	n := len(data)
	lenBytes[0] = byte(n >> 24)
	lenBytes[1] = byte(n >> 16)
	lenBytes[2] = byte(n >> 8)
	lenBytes[3] = byte(n)
	out = append(out, lenBytes[:]...)
	return append(out, data...)
}

func readLenPrefixed(data []byte) (value, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if len(data) < 4+n {
		return nil, nil, fmt.Errorf("truncated field")
	}
	return data[4 : 4+n], data[4+n:], nil
}

func aesGCMSeal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("kmsbroker: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("kmsbroker: gcm: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("kmsbroker: generating nonce: %w", err)
	}
	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}

func aesGCMOpen(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kmsbroker: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kmsbroker: gcm: %w", err)
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}
