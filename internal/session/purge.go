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
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Purger deletes every piece of a user's operational data once their
// connectors have been revoked: sealed session memory, automation
// rules and their run history, jobs, devices, and preferences. It
// implements internal/privacy's DataPurger.
type Purger struct {
	pool *pgxpool.Pool
}

// NewPurger wraps pool.
func NewPurger(pool *pgxpool.Pool) *Purger {
	return &Purger{pool: pool}
}

// PurgeAllForUser deletes userID's operational rows across the tables
// listed on Purger in one transaction and returns the number of
// sealed session envelopes it removed, matching the contract
// internal/privacy's DataPurger interface requires.
func (p *Purger) PurgeAllForUser(ctx context.Context, userID string) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("session: beginning purge transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
DELETE FROM automation_runs
WHERE automation_rule_id IN (SELECT id FROM automation_rules WHERE user_id = $1)`, userID); err != nil {
		return 0, fmt.Errorf("session: purging automation runs: %w", err)
	}

	if _, err := tx.Exec(ctx, `
DELETE FROM dead_letter_jobs
WHERE job_id IN (SELECT id FROM jobs WHERE user_id = $1)`, userID); err != nil {
		return 0, fmt.Errorf("session: purging dead-lettered jobs: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM automation_rules WHERE user_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("session: purging automation rules: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE user_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("session: purging jobs: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM devices WHERE user_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("session: purging devices: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM user_preferences WHERE user_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("session: purging preferences: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM assistant_encrypted_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("session: purging sealed sessions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("session: committing purge: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
