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

package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/altairalabs/assistant-core/internal/jobs"
)

// Rule is a persisted automation rule.
type Rule struct {
	ID        string
	UserID    string
	Spec      Spec
	Action    string
	Enabled   bool
	NextRunAt *time.Time
}

// ErrRuleNotFound is returned when a lookup finds no rule owned by
// the caller.
var ErrRuleNotFound = errors.New("automation: rule not found")

// Store is the Postgres-backed automation rule store. Claim +
// materialize is split from next-run computation deliberately: the SQL
// layer only ever compares/updates next_run_at, while NextRunAfter
// (pure Go, timezone-aware) is what computes the new value, so the
// tricky calendar math never has to be expressed in SQL.
type Store struct {
	pool *pgxpool.Pool
	jobs *jobs.Store
}

// NewStore wraps pool and the job store rules materialize into.
func NewStore(pool *pgxpool.Pool, jobStore *jobs.Store) *Store {
	return &Store{pool: pool, jobs: jobStore}
}

type specRow struct {
	Type             ScheduleType `json:"schedule_type"`
	TimeZone         string       `json:"time_zone"`
	LocalTimeMinutes int          `json:"local_time_minutes"`
	AnchorDayOfWeek  *int         `json:"anchor_day_of_week,omitempty"`
	AnchorDayOfMonth *int         `json:"anchor_day_of_month,omitempty"`
	AnchorMonth      *int         `json:"anchor_month,omitempty"`
}

func toSpecRow(spec Spec) specRow {
	return specRow{
		Type:             spec.Type,
		TimeZone:         spec.TimeZone,
		LocalTimeMinutes: spec.LocalTimeMinutes,
		AnchorDayOfWeek:  spec.AnchorDayOfWeek,
		AnchorDayOfMonth: spec.AnchorDayOfMonth,
		AnchorMonth:      spec.AnchorMonth,
	}
}

func fromSpecRow(row specRow) Spec {
	return Spec{
		Type:             row.Type,
		TimeZone:         row.TimeZone,
		LocalTimeMinutes: row.LocalTimeMinutes,
		AnchorDayOfWeek:  row.AnchorDayOfWeek,
		AnchorDayOfMonth: row.AnchorDayOfMonth,
		AnchorMonth:      row.AnchorMonth,
	}
}

// CreateRule validates spec, computes its first next_run_at relative
// to now, and inserts the rule.
func (s *Store) CreateRule(ctx context.Context, userID string, spec Spec, action string, now time.Time) (string, error) {
	if err := Validate(spec); err != nil {
		return "", err
	}
	nextRun, err := NextRunAfter(now, spec)
	if err != nil {
		return "", fmt.Errorf("automation: computing initial next_run_at: %w", err)
	}

	specJSON, err := json.Marshal(toSpecRow(spec))
	if err != nil {
		return "", fmt.Errorf("automation: marshaling schedule spec: %w", err)
	}

	const query = `
INSERT INTO automation_rules (user_id, schedule_type, schedule_spec, timezone, action, enabled, next_run_at)
VALUES ($1, $2, $3, $4, $5, true, $6)
RETURNING id`

	var id string
	err = s.pool.QueryRow(ctx, query, userID, string(spec.Type), specJSON, spec.TimeZone, action, nextRun).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("automation: create rule: %w", err)
	}
	return id, nil
}

// ClaimDueRules atomically claims up to maxRules enabled rules whose
// next_run_at is due, advances each one's next_run_at past now (so a
// concurrent claimer never re-fires the same occurrence), and returns
// the claimed rules alongside the scheduled_for instant each run was
// materialized for.
func (s *Store) ClaimDueRules(ctx context.Context, now time.Time, maxRules int) ([]Rule, []time.Time, error) {
	const selectQuery = `
SELECT id, user_id, schedule_type, schedule_spec, timezone, action, next_run_at
FROM automation_rules
WHERE enabled = true AND next_run_at <= $1
ORDER BY next_run_at, id
LIMIT $2
FOR UPDATE SKIP LOCKED`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("automation: claim due rules: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, selectQuery, now, maxRules)
	if err != nil {
		return nil, nil, fmt.Errorf("automation: claim due rules: select: %w", err)
	}

	var rules []Rule
	var scheduledFor []time.Time
	for rows.Next() {
		var rule Rule
		var scheduleType string
		var specJSON []byte
		var timeZone string
		var nextRunAt time.Time
		if err := rows.Scan(&rule.ID, &rule.UserID, &scheduleType, &specJSON, &timeZone, &rule.Action, &nextRunAt); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("automation: claim due rules: scan: %w", err)
		}

		var row specRow
		if err := json.Unmarshal(specJSON, &row); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("automation: claim due rules: unmarshal spec: %w", err)
		}
		rule.Spec = fromSpecRow(row)
		rule.Enabled = true
		rules = append(rules, rule)
		scheduledFor = append(scheduledFor, nextRunAt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("automation: claim due rules: rows: %w", err)
	}

	for i, rule := range rules {
		newNextRun, err := NextRunAfter(now, rule.Spec)
		if err != nil {
			return nil, nil, fmt.Errorf("automation: computing next_run_at for rule %s: %w", rule.ID, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE automation_rules SET next_run_at = $2, updated_at = now() WHERE id = $1`, rule.ID, newNextRun); err != nil {
			return nil, nil, fmt.Errorf("automation: advancing next_run_at for rule %s: %w", rule.ID, err)
		}

		const runInsert = `
INSERT INTO automation_runs (automation_rule_id, scheduled_for, status)
VALUES ($1, $2, 'pending')`
		if _, err := tx.Exec(ctx, runInsert, rule.ID, scheduledFor[i]); err != nil {
			return nil, nil, fmt.Errorf("automation: recording run for rule %s: %w", rule.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("automation: claim due rules: commit: %w", err)
	}
	return rules, scheduledFor, nil
}

// MaterializeRun enqueues the job for a claimed run, using
// "automation:<rule_id>:<scheduled_for unix>" as the idempotency key
// so the same occurrence is never enqueued twice even if the worker
// crashes between claim and enqueue.
func (s *Store) MaterializeRun(ctx context.Context, rule Rule, scheduledFor time.Time) (string, error) {
	idempotencyKey := fmt.Sprintf("automation:%s:%d", rule.ID, scheduledFor.Unix())
	jobID, err := s.jobs.EnqueueWithIdempotencyKey(ctx, jobs.Job{
		UserID:         rule.UserID,
		Type:           rule.Action,
		DueAt:          scheduledFor,
		MaxAttempts:    8,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return "", fmt.Errorf("automation: materializing run: %w", err)
	}

	const updateRun = `
UPDATE automation_runs SET job_id = $2, status = 'enqueued'
WHERE automation_rule_id = $1 AND scheduled_for = $3 AND status = 'pending'`
	if _, err := s.pool.Exec(ctx, updateRun, rule.ID, jobID, scheduledFor); err != nil {
		return "", fmt.Errorf("automation: recording materialized run: %w", err)
	}
	return jobID, nil
}

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var specJSON []byte
	var timeZone string
	if err := row.Scan(&rule.ID, &rule.UserID, &specJSON, &timeZone, &rule.Action, &rule.Enabled, &rule.NextRunAt); err != nil {
		return nil, err
	}
	var row2 specRow
	if err := json.Unmarshal(specJSON, &row2); err != nil {
		return nil, fmt.Errorf("automation: unmarshaling schedule spec: %w", err)
	}
	rule.Spec = fromSpecRow(row2)
	return &rule, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const ruleColumns = `id, user_id, schedule_spec, timezone, action, enabled, next_run_at`

// ListForUser returns userID's automation rules ordered by creation
// time, newest first, capped at limit.
func (s *Store) ListForUser(ctx context.Context, userID string, limit int) ([]*Rule, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+ruleColumns+`
FROM automation_rules
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("automation: listing rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("automation: scanning rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// GetOwnedRule returns the rule with id owned by userID, or
// ErrRuleNotFound.
func (s *Store) GetOwnedRule(ctx context.Context, id, userID string) (*Rule, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+ruleColumns+`
FROM automation_rules
WHERE id = $1 AND user_id = $2`, id, userID)

	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("automation: reading rule: %w", err)
	}
	return rule, nil
}

// Update applies a partial update to an owned rule: a non-nil spec
// recomputes next_run_at relative to now, a non-nil action replaces
// the action, and a non-nil enabled flag toggles the rule.
func (s *Store) Update(ctx context.Context, id, userID string, spec *Spec, action *string, enabled *bool, now time.Time) (*Rule, error) {
	rule, err := s.GetOwnedRule(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	nextRunAt := rule.NextRunAt
	if spec != nil {
		if err := Validate(*spec); err != nil {
			return nil, err
		}
		nextRun, err := NextRunAfter(now, *spec)
		if err != nil {
			return nil, fmt.Errorf("automation: recomputing next_run_at: %w", err)
		}
		nextRunAt = &nextRun
		rule.Spec = *spec
	}
	if action != nil {
		rule.Action = *action
	}
	if enabled != nil {
		rule.Enabled = *enabled
	}

	specJSON, err := json.Marshal(toSpecRow(rule.Spec))
	if err != nil {
		return nil, fmt.Errorf("automation: marshaling schedule spec: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
UPDATE automation_rules
SET schedule_type = $2, schedule_spec = $3, timezone = $4, action = $5, enabled = $6, next_run_at = $7, updated_at = now()
WHERE id = $1`, id, string(rule.Spec.Type), specJSON, rule.Spec.TimeZone, rule.Action, rule.Enabled, nextRunAt)
	if err != nil {
		return nil, fmt.Errorf("automation: updating rule: %w", err)
	}
	rule.NextRunAt = nextRunAt
	return rule, nil
}

// Delete removes the rule with id owned by userID.
func (s *Store) Delete(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM automation_rules WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("automation: deleting rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// ForceRun materializes an immediate run for an owned rule without
// waiting for next_run_at, reusing MaterializeRun's idempotency-key
// scheme so a debug run never double-enqueues against a naturally
// scheduled occurrence for the same instant.
func (s *Store) ForceRun(ctx context.Context, id, userID string, now time.Time) (string, error) {
	rule, err := s.GetOwnedRule(ctx, id, userID)
	if err != nil {
		return "", err
	}

	if _, err := s.pool.Exec(ctx, `
INSERT INTO automation_runs (automation_rule_id, scheduled_for, status)
VALUES ($1, $2, 'pending')`, rule.ID, now); err != nil {
		return "", fmt.Errorf("automation: recording debug run: %w", err)
	}

	return s.MaterializeRun(ctx, *rule, now)
}
