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

package privacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/altairalabs/assistant-core/internal/pgutil"
)

// PostgresStore is the Postgres-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const nonTerminalStates = `('queued', 'running')`

func (s *PostgresStore) FindNonTerminalByUser(ctx context.Context, userID string) (*DeleteRequest, error) {
	query := fmt.Sprintf(`
SELECT id, user_id, status, sla_due_at, lease_owner, lease_expires_at, connectors_revoked,
       sessions_purged, errors, created_at, started_at, completed_at
FROM privacy_delete_requests
WHERE user_id = $1 AND status IN %s
ORDER BY created_at
LIMIT 1`, nonTerminalStates)

	row := s.pool.QueryRow(ctx, query, userID)
	req, err := scanDeleteRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *DeleteRequest) error {
	errsJSON, err := json.Marshal(req.Errors)
	if err != nil {
		return fmt.Errorf("privacy: marshaling errors: %w", err)
	}

	const query = `
INSERT INTO privacy_delete_requests (user_id, status, sla_due_at, errors, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

	return s.pool.QueryRow(ctx, query, req.UserID, string(req.Status), req.SLADueAt, errsJSON, req.CreatedAt).Scan(&req.ID)
}

func (s *PostgresStore) GetOwnedRequest(ctx context.Context, id, userID string) (*DeleteRequest, error) {
	const query = `
SELECT id, user_id, status, sla_due_at, lease_owner, lease_expires_at, connectors_revoked,
       sessions_purged, errors, created_at, started_at, completed_at
FROM privacy_delete_requests
WHERE id = $1 AND user_id = $2`

	row := s.pool.QueryRow(ctx, query, id, userID)
	req, err := scanDeleteRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *PostgresStore) ClaimDueRequests(ctx context.Context, now time.Time, leaseOwner string, leaseSeconds, maxRequests int) ([]*DeleteRequest, error) {
	query := fmt.Sprintf(`
UPDATE privacy_delete_requests
SET status = 'running', lease_owner = $1, lease_expires_at = $2,
    started_at = COALESCE(started_at, $3)
WHERE id IN (
	SELECT id FROM privacy_delete_requests
	WHERE status IN %s AND (lease_expires_at IS NULL OR lease_expires_at <= $3)
	ORDER BY created_at
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)
RETURNING id, user_id, status, sla_due_at, lease_owner, lease_expires_at, connectors_revoked,
          sessions_purged, errors, created_at, started_at, completed_at`, nonTerminalStates)

	leaseExpiresAt := now.Add(time.Duration(leaseSeconds) * time.Second)
	rows, err := s.pool.Query(ctx, query, leaseOwner, leaseExpiresAt, now, maxRequests)
	if err != nil {
		return nil, fmt.Errorf("privacy: claiming due requests: %w", err)
	}
	defer rows.Close()

	var claimed []*DeleteRequest
	for rows.Next() {
		req, err := scanDeleteRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("privacy: scanning claimed request: %w", err)
		}
		claimed = append(claimed, req)
	}
	return claimed, rows.Err()
}

func (s *PostgresStore) UpdateRequest(ctx context.Context, req *DeleteRequest) error {
	errsJSON, err := json.Marshal(req.Errors)
	if err != nil {
		return fmt.Errorf("privacy: marshaling errors: %w", err)
	}

	const query = `
UPDATE privacy_delete_requests
SET status = $2, lease_owner = $3, lease_expires_at = $4, connectors_revoked = $5,
    sessions_purged = $6, errors = $7, started_at = $8, completed_at = $9
WHERE id = $1`

	_, err = s.pool.Exec(ctx, query, req.ID, string(req.Status), pgutil.NullString(req.LeaseOwner), req.LeaseExpiresAt,
		req.ConnectorsRevoked, req.SessionsPurged, errsJSON, req.StartedAt, req.CompletedAt)
	if err != nil {
		return fmt.Errorf("privacy: updating request: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM privacy_delete_requests WHERE status IN %s AND sla_due_at <= $1`, nonTerminalStates)
	var n int
	if err := s.pool.QueryRow(ctx, query, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("privacy: counting overdue requests: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query).
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeleteRequest(row rowScanner) (*DeleteRequest, error) {
	var req DeleteRequest
	var status string
	var leaseOwner *string
	var errsJSON []byte
	if err := row.Scan(&req.ID, &req.UserID, &status, &req.SLADueAt, &leaseOwner, &req.LeaseExpiresAt,
		&req.ConnectorsRevoked, &req.SessionsPurged, &errsJSON, &req.CreatedAt, &req.StartedAt, &req.CompletedAt); err != nil {
		return nil, err
	}
	req.Status = Status(status)
	if leaseOwner != nil {
		req.LeaseOwner = *leaseOwner
	}
	if len(errsJSON) > 0 {
		if err := json.Unmarshal(errsJSON, &req.Errors); err != nil {
			return nil, fmt.Errorf("privacy: unmarshaling errors: %w", err)
		}
	}
	return &req, nil
}
