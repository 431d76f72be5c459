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

package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persistence boundary Service needs: connector rows plus
// single-use OAuth state tokens.
type Store interface {
	CreateState(ctx context.Context, hashedState, userID, provider string, expiresAt time.Time) error
	ConsumeState(ctx context.Context, hashedState string) (userID, provider string, err error)

	CreateConnector(ctx context.Context, c *Connector) error
	GetOwnedConnector(ctx context.Context, id, userID string) (*Connector, error)
	ListForUser(ctx context.Context, userID string) ([]*Connector, error)
	MarkRevoked(ctx context.Context, id string) error
}

// PostgresStore is the Postgres-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// CreateState persists a single-use OAuth state row.
func (s *PostgresStore) CreateState(ctx context.Context, hashedState, userID, provider string, expiresAt time.Time) error {
	const query = `
INSERT INTO oauth_states (hashed_state, user_id, provider, expires_at)
VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, query, hashedState, userID, provider, expiresAt)
	if err != nil {
		return fmt.Errorf("connector: creating oauth state: %w", err)
	}
	return nil
}

// ConsumeState atomically deletes and returns the state row for
// hashedState, so a second consume of the same value observes no row
// at all — single-use is enforced by the delete, not by a flag.
func (s *PostgresStore) ConsumeState(ctx context.Context, hashedState string) (string, string, error) {
	const query = `
DELETE FROM oauth_states
WHERE hashed_state = $1 AND expires_at > $2
RETURNING user_id, provider`

	var userID, provider string
	err := s.pool.QueryRow(ctx, query, hashedState, time.Now()).Scan(&userID, &provider)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrInvalidState
	}
	if err != nil {
		return "", "", fmt.Errorf("connector: consuming oauth state: %w", err)
	}
	return userID, provider, nil
}

// CreateConnector inserts c, upserting on the (user_id, provider)
// unique constraint so re-authorizing the same provider replaces the
// prior binding instead of erroring.
func (s *PostgresStore) CreateConnector(ctx context.Context, c *Connector) error {
	const query = `
INSERT INTO connectors (user_id, provider, sealed_refresh_token, kms_key_id, kms_key_version, scopes, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, provider) DO UPDATE SET
    sealed_refresh_token = EXCLUDED.sealed_refresh_token,
    kms_key_id = EXCLUDED.kms_key_id,
    kms_key_version = EXCLUDED.kms_key_version,
    scopes = EXCLUDED.scopes,
    status = EXCLUDED.status,
    updated_at = now()
RETURNING id, created_at, updated_at`

	return s.pool.QueryRow(ctx, query, c.UserID, c.Provider, c.SealedToken, c.KMSKeyID, c.KMSKeyVersion, c.Scopes, string(c.Status)).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// GetOwnedConnector returns the connector row for id, scoped to
// userID; cross-user lookups return ErrNotFound rather than leaking
// whether the id exists under a different owner.
func (s *PostgresStore) GetOwnedConnector(ctx context.Context, id, userID string) (*Connector, error) {
	const query = `
SELECT id, user_id, provider, sealed_refresh_token, kms_key_id, kms_key_version, scopes, status, created_at, updated_at
FROM connectors
WHERE id = $1 AND user_id = $2`

	row := s.pool.QueryRow(ctx, query, id, userID)
	c, err := scanConnector(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListForUser returns every connector belonging to userID.
func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]*Connector, error) {
	const query = `
SELECT id, user_id, provider, sealed_refresh_token, kms_key_id, kms_key_version, scopes, status, created_at, updated_at
FROM connectors
WHERE user_id = $1
ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("connector: listing for user: %w", err)
	}
	defer rows.Close()

	var connectors []*Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, fmt.Errorf("connector: scanning: %w", err)
		}
		connectors = append(connectors, c)
	}
	return connectors, rows.Err()
}

// MarkRevoked flips id's status to revoked.
func (s *PostgresStore) MarkRevoked(ctx context.Context, id string) error {
	const query = `UPDATE connectors SET status = 'revoked', updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("connector: marking revoked: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnector(row rowScanner) (*Connector, error) {
	var c Connector
	var status string
	if err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.SealedToken, &c.KMSKeyID, &c.KMSKeyVersion,
		&c.Scopes, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	return &c, nil
}
