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

package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates the identity provider's RS256-signed bearer
// tokens against its published public key.
type Verifier struct {
	publicKey      *rsa.PublicKey
	expectedIssuer string
}

// NewVerifier parses a PEM-encoded RSA public key and binds the
// verifier to expectedIssuer: any token whose iss claim does not match
// exactly is rejected, since this repo has exactly one identity
// provider per deployment.
func NewVerifier(publicKeyPEM []byte, expectedIssuer string) (*Verifier, error) {
	key, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	if expectedIssuer == "" {
		return nil, fmt.Errorf("identity: expected issuer is required")
	}
	return &Verifier{publicKey: key, expectedIssuer: expectedIssuer}, nil
}

type claims struct {
	jwt.RegisteredClaims
}

// Verify validates tokenString's signature, issuer, and expiry, and
// returns the caller's derived identity. Unlike a bearer-verification
// stub, this performs a genuine RS256 signature check against the
// configured public key — there is no "trust the claims" path.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	}, jwt.WithIssuer(v.expectedIssuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	parsed, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	subject, err := parsed.GetSubject()
	if err != nil || subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{
		UserID:  DeriveUserID(v.expectedIssuer, subject),
		Issuer:  v.expectedIssuer,
		Subject: subject,
	}, nil
}

func parsePublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("identity: failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parsing public key: %w", err)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity: not an RSA public key")
	}
	return rsaKey, nil
}
