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

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the Postgres-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Put(ctx context.Context, env *Envelope) error {
	const query = `
INSERT INTO assistant_encrypted_sessions (user_id, session_id, blob, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, session_id) DO UPDATE
SET blob = EXCLUDED.blob, expires_at = EXCLUDED.expires_at`

	_, err := s.pool.Exec(ctx, query, env.UserID, env.SessionID, env.Blob, env.ExpiresAt)
	if err != nil {
		return fmt.Errorf("session: upserting envelope: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, sessionID string) (*Envelope, error) {
	const query = `
SELECT user_id, session_id, blob, expires_at, created_at
FROM assistant_encrypted_sessions
WHERE user_id = $1 AND session_id = $2 AND expires_at > now()`

	row := s.pool.QueryRow(ctx, query, userID, sessionID)
	env, err := scanEnvelope(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: reading envelope: %w", err)
	}
	return env, nil
}

func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM assistant_encrypted_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("session: deleting envelopes for user: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (*Envelope, error) {
	var env Envelope
	if err := row.Scan(&env.UserID, &env.SessionID, &env.Blob, &env.ExpiresAt, &env.CreatedAt); err != nil {
		return nil, err
	}
	return &env, nil
}

// PruneExpired deletes every envelope whose expiry has already passed
// and reports how many rows it removed. Callers run this on a
// schedule; expired rows are also invisible to Get, so this is a
// housekeeping pass rather than a correctness requirement.
func (s *PostgresStore) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM assistant_encrypted_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("session: pruning expired envelopes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
