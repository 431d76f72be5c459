package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed job fabric. All multi-row mutations use
// a single atomic statement (via CTEs) so the lease sweep, fairness
// ranking, and row-level claim happen under one transaction boundary
// without a separate round trip per phase.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pgxpool.Pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnqueueWithIdempotencyKey inserts a new job, or — if a job with the
// same (user_id, type, idempotency_key) already exists — folds the
// new due_at into the earlier of the two and refreshes the payload
// only when a new one was supplied. This makes re-enqueuing the same
// logical unit of work (e.g. a retried morning-brief compose) safe to
// call more than once.
func (s *Store) EnqueueWithIdempotencyKey(ctx context.Context, job Job) (string, error) {
	const query = `
INSERT INTO jobs (user_id, type, state, due_at, attempts, max_attempts, idempotency_key, payload_ciphertext)
VALUES ($1, $2, 'PENDING', $3, 0, $4, $5, $6)
ON CONFLICT (user_id, type, idempotency_key) DO UPDATE SET
	due_at = LEAST(jobs.due_at, EXCLUDED.due_at),
	payload_ciphertext = COALESCE(EXCLUDED.payload_ciphertext, jobs.payload_ciphertext)
RETURNING id`

	var id string
	err := s.pool.QueryRow(ctx, query, job.UserID, job.Type, job.DueAt, job.MaxAttempts, job.IdempotencyKey, job.PayloadCiphertext).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("jobs: enqueue: %w", err)
	}
	return id, nil
}

// SweepExpiredLeases reclaims RUNNING jobs whose lease has expired:
// attempts is incremented; a job past max_attempts is dead-lettered,
// everything else is reset to PENDING with due_at=now and its lease
// cleared. This must run (or be folded into the same statement as)
// every ClaimDueJobs call so an unresponsive worker never holds a job
// forever.
func (s *Store) SweepExpiredLeases(ctx context.Context, now time.Time) error {
	const query = `
WITH expired AS (
	UPDATE jobs
	SET attempts = attempts + 1,
	    state = CASE WHEN attempts + 1 >= max_attempts THEN 'FAILED' ELSE 'PENDING' END,
	    due_at = CASE WHEN attempts + 1 >= max_attempts THEN due_at ELSE now() END,
	    lease_owner = NULL,
	    lease_expires_at = NULL
	WHERE state = 'RUNNING' AND lease_expires_at <= $1
	RETURNING id, user_id, type, attempts
)
INSERT INTO dead_letter_jobs (job_id, user_id, type, attempts, reason_code, reason_message, dead_lettered_at)
SELECT id, user_id, type, attempts, 'LEASE_EXPIRED_MAX_ATTEMPTS', 'lease expired past max attempts', $1
FROM expired
WHERE attempts >= (SELECT max_attempts FROM jobs WHERE jobs.id = expired.id)
ON CONFLICT (job_id) DO UPDATE SET
	attempts = EXCLUDED.attempts,
	dead_lettered_at = EXCLUDED.dead_lettered_at`

	if _, err := s.pool.Exec(ctx, query, now); err != nil {
		return fmt.Errorf("jobs: sweep expired leases: %w", err)
	}
	return nil
}

// ClaimDueJobs claims up to maxJobs jobs that are due, applying a
// per-user fairness cap (perUserConcurrencyLimit) so one user's
// backlog can never starve another user's jobs out of a worker's
// batch, and using FOR UPDATE SKIP LOCKED so concurrent workers never
// block on each other's claim.
func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, workerID string, maxJobs, leaseSeconds, perUserConcurrencyLimit int) ([]Job, error) {
	if err := s.SweepExpiredLeases(ctx, now); err != nil {
		return nil, err
	}

	const query = `
WITH running_counts AS (
	SELECT user_id, count(*) AS running_count
	FROM jobs
	WHERE state = 'RUNNING'
	GROUP BY user_id
),
eligible AS (
	SELECT j.id, j.user_id,
	       ROW_NUMBER() OVER (PARTITION BY j.user_id ORDER BY j.due_at, j.id) AS rank
	FROM jobs j
	WHERE j.state = 'PENDING' AND j.due_at <= $1
),
candidate_ids AS (
	SELECT e.id
	FROM eligible e
	LEFT JOIN running_counts rc ON rc.user_id = e.user_id
	WHERE e.rank <= GREATEST($2 - COALESCE(rc.running_count, 0), 0)
),
claimed AS (
	UPDATE jobs j
	SET state = 'RUNNING',
	    lease_owner = $3,
	    lease_expires_at = $1 + make_interval(secs => $4),
	    last_run_at = $1,
	    due_at = NULL
	FROM (
		SELECT id FROM jobs
		WHERE id IN (SELECT id FROM candidate_ids)
		ORDER BY due_at, id
		FOR UPDATE SKIP LOCKED
		LIMIT $5
	) lockable
	WHERE j.id = lockable.id
	RETURNING j.id, j.user_id, j.type, j.state, j.attempts, j.max_attempts,
	          j.lease_owner, j.lease_expires_at, j.last_run_at, j.idempotency_key,
	          j.payload_ciphertext, pgp_sym_decrypt(j.payload_ciphertext, $6) AS payload
)
SELECT * FROM claimed ORDER BY last_run_at, id`

	rows, err := s.pool.Query(ctx, query, now, perUserConcurrencyLimit, workerID, leaseSeconds, maxJobs, encryptionPassphrase(ctx))
	if err != nil {
		return nil, fmt.Errorf("jobs: claim due jobs: %w", err)
	}
	defer rows.Close()

	var claimed []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(
			&j.ID, &j.UserID, &j.Type, &j.State, &j.Attempts, &j.MaxAttempts,
			&j.LeaseOwner, &j.LeaseExpiresAt, &j.LastRunAt, &j.IdempotencyKey,
			&j.PayloadCiphertext, &j.Payload,
		); err != nil {
			return nil, fmt.Errorf("jobs: scan claimed row: %w", err)
		}
		claimed = append(claimed, j)
	}
	return claimed, rows.Err()
}

// MarkDone completes a job, but only if workerID still holds its
// lease — a worker whose lease was already reclaimed by the sweep must
// not be able to report success on a job another worker now owns.
func (s *Store) MarkDone(ctx context.Context, jobID, workerID string) (bool, error) {
	const query = `DELETE FROM jobs WHERE id = $1 AND state = 'RUNNING' AND lease_owner = $2`
	tag, err := s.pool.Exec(ctx, query, jobID, workerID)
	if err != nil {
		return false, fmt.Errorf("jobs: mark done: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ScheduleRetry resets jobID to PENDING at nextDueAt with the given
// attempts count, lease-ownership gated the same way as MarkDone.
func (s *Store) ScheduleRetry(ctx context.Context, jobID, workerID string, attempts int, nextDueAt time.Time, errorCode, errorMessage string) (bool, error) {
	const query = `
UPDATE jobs
SET state = 'PENDING', attempts = $3, due_at = $4, lease_owner = NULL, lease_expires_at = NULL,
    last_error_code = $5, last_error_message = $6
WHERE id = $1 AND state = 'RUNNING' AND lease_owner = $2`

	tag, err := s.pool.Exec(ctx, query, jobID, workerID, attempts, nextDueAt, errorCode, errorMessage)
	if err != nil {
		return false, fmt.Errorf("jobs: schedule retry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed transitions jobID to a terminal FAILED state and records
// it in dead_letter_jobs, all inside one transaction: if the lease has
// already moved to another worker, the whole operation is a no-op.
func (s *Store) MarkFailed(ctx context.Context, job Job, workerID string, attempts int, reasonCode, reasonMessage string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("jobs: mark failed: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const updateQuery = `
UPDATE jobs SET state = 'FAILED', attempts = $3
WHERE id = $1 AND state = 'RUNNING' AND lease_owner = $2`
	tag, err := tx.Exec(ctx, updateQuery, job.ID, workerID, attempts)
	if err != nil {
		return false, fmt.Errorf("jobs: mark failed: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	const dlqQuery = `
INSERT INTO dead_letter_jobs (job_id, user_id, type, attempts, reason_code, reason_message, dead_lettered_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (job_id) DO UPDATE SET
	attempts = EXCLUDED.attempts, reason_code = EXCLUDED.reason_code,
	reason_message = EXCLUDED.reason_message, dead_lettered_at = EXCLUDED.dead_lettered_at`
	if _, err := tx.Exec(ctx, dlqQuery, job.ID, job.UserID, job.Type, attempts, reasonCode, reasonMessage); err != nil {
		return false, fmt.Errorf("jobs: mark failed: dead-letter insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("jobs: mark failed: commit: %w", err)
	}
	return true, nil
}

// RecordOutboundActionIdempotency inserts an idempotency guard for a
// side-effecting outbound action (e.g. sending a push notification),
// returning false if the record already exists (the action was
// already performed, or is in flight).
func (s *Store) RecordOutboundActionIdempotency(ctx context.Context, scope, key string) (bool, error) {
	const query = `
INSERT INTO outbound_action_idempotency (scope, idempotency_key, created_at)
VALUES ($1, $2, now())
ON CONFLICT (scope, idempotency_key) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, scope, key)
	if err != nil {
		return false, fmt.Errorf("jobs: record outbound idempotency: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseOutboundActionIdempotency removes a guard recorded by
// RecordOutboundActionIdempotency, used when the outbound action
// itself then failed and must be retryable.
func (s *Store) ReleaseOutboundActionIdempotency(ctx context.Context, scope, key string) error {
	const query = `DELETE FROM outbound_action_idempotency WHERE scope = $1 AND idempotency_key = $2`
	if _, err := s.pool.Exec(ctx, query, scope, key); err != nil {
		return fmt.Errorf("jobs: release outbound idempotency: %w", err)
	}
	return nil
}

// CountDue reports how many PENDING jobs are due at or before now.
func (s *Store) CountDue(ctx context.Context, now time.Time) (int, error) {
	const query = `SELECT count(*) FROM jobs WHERE state = 'PENDING' AND due_at <= $1`
	var n int
	if err := s.pool.QueryRow(ctx, query, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("jobs: count due: %w", err)
	}
	return n, nil
}

// encryptionPassphraseKey is unexported context plumbing: the payload
// column is encrypted at rest via pgcrypto's pgp_sym_encrypt, keyed by
// a passphrase the caller threads through context so Store itself
// never needs to hold key material.
type encryptionPassphraseKeyType struct{}

var encryptionPassphraseKey = encryptionPassphraseKeyType{}

// WithEncryptionPassphrase attaches the pgcrypto passphrase to ctx for
// ClaimDueJobs to use.
func WithEncryptionPassphrase(ctx context.Context, passphrase string) context.Context {
	return context.WithValue(ctx, encryptionPassphraseKey, passphrase)
}

func encryptionPassphrase(ctx context.Context) string {
	v, _ := ctx.Value(encryptionPassphraseKey).(string)
	return v
}
