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

package preferences

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed preferences store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get returns userID's preferences, or the zero-valued Preferences if
// the user has never written any — a preferences row is not created
// until the first Put.
func (s *Store) Get(ctx context.Context, userID string) (Preferences, error) {
	const query = `
SELECT opted_out_agents, quiet_hours_start_minutes, quiet_hours_end_minutes, quiet_hours_timezone, updated_at
FROM user_preferences
WHERE user_id = $1`

	var p Preferences
	p.UserID = userID
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&p.OptedOutAgents, &p.QuietHoursStart, &p.QuietHoursEnd, &p.QuietHoursTimeZone, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Preferences{UserID: userID}, nil
	}
	if err != nil {
		return Preferences{}, err
	}
	return p, nil
}

// Put upserts userID's preferences. Callers must validate quiet hours
// with ValidateQuietHours before calling Put.
func (s *Store) Put(ctx context.Context, p Preferences) error {
	const query = `
INSERT INTO user_preferences (user_id, opted_out_agents, quiet_hours_start_minutes, quiet_hours_end_minutes, quiet_hours_timezone, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id) DO UPDATE SET
    opted_out_agents = EXCLUDED.opted_out_agents,
    quiet_hours_start_minutes = EXCLUDED.quiet_hours_start_minutes,
    quiet_hours_end_minutes = EXCLUDED.quiet_hours_end_minutes,
    quiet_hours_timezone = EXCLUDED.quiet_hours_timezone,
    updated_at = EXCLUDED.updated_at`

	agents := p.OptedOutAgents
	if agents == nil {
		agents = []string{}
	}

	_, err := s.pool.Exec(ctx, query, p.UserID, agents, p.QuietHoursStart, p.QuietHoursEnd, p.QuietHoursTimeZone, time.Now().UTC())
	return err
}
