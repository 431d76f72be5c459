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

// Package users resolves the stable, externally-derived identity a
// bearer token carries into this repo's canonical user row, and
// tracks the terminal "deleted" status a privacy delete-all request
// drives the user to.
package users

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StatusActive and StatusDeleted are the two user lifecycle states.
// There is no soft-delete-then-purge step beyond this: the row itself
// is never removed, anchoring audit lineage to a stable id.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// ErrNotFound is returned for an external subject with no provisioned user row.
var ErrNotFound = errors.New("users: not found")

// Store provisions and looks up user rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetOrCreate resolves externalSubject (identity.DeriveUserID's
// output) to this repo's canonical user id, provisioning a new row on
// first sight. Concurrent first-sight calls for the same subject race
// safely: the loser's insert is ignored by ON CONFLICT DO NOTHING and
// it falls through to the select.
func (s *Store) GetOrCreate(ctx context.Context, externalSubject string) (string, error) {
	const insert = `
INSERT INTO users (external_subject)
VALUES ($1)
ON CONFLICT (external_subject) DO NOTHING
RETURNING id`

	var id string
	err := s.pool.QueryRow(ctx, insert, externalSubject).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	const selectQuery = `SELECT id FROM users WHERE external_subject = $1`
	if err := s.pool.QueryRow(ctx, selectQuery, externalSubject).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// MarkUserDeleted implements internal/privacy.UserStatusSetter.
func (s *Store) MarkUserDeleted(ctx context.Context, userID string) error {
	const query = `UPDATE users SET status = $2, deleted_at = $3 WHERE id = $1`
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, query, userID, StatusDeleted, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsActive reports whether userID resolves to a row with an active status.
func (s *Store) IsActive(ctx context.Context, userID string) (bool, error) {
	const query = `SELECT status FROM users WHERE id = $1`
	var status string
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return status == StatusActive, nil
}
