package jobs

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	storepostgres "github.com/altairalabs/assistant-core/internal/store/postgres"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("requires docker; skipped under -short")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("jobs_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrator, err := storepostgres.NewMigrator(connStr, testr.New(t))
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	var userID string
	err = pool.QueryRow(ctx, `INSERT INTO users (external_subject) VALUES ($1) RETURNING id`, fmt.Sprintf("user-%d", time.Now().UnixNano())).Scan(&userID)
	require.NoError(t, err)
	t.Setenv("TEST_USER_ID", userID)

	return NewStore(pool)
}

func TestStore_ClaimDueJobs_RespectsDueAtAndLease(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := os.Getenv("TEST_USER_ID")

	_, err := store.EnqueueWithIdempotencyKey(ctx, Job{
		UserID:         userID,
		Type:           "assistant_query",
		DueAt:          time.Now().Add(-time.Minute),
		MaxAttempts:    5,
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)

	claimed, err := store.ClaimDueJobs(ctx, time.Now(), "worker-1", 10, 30, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, StateRunning, claimed[0].State)

	again, err := store.ClaimDueJobs(ctx, time.Now(), "worker-2", 10, 30, 5)
	require.NoError(t, err)
	require.Empty(t, again, "a leased job must not be claimable by another worker")
}

func TestStore_EnqueueWithIdempotencyKey_CoalescesDueAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := os.Getenv("TEST_USER_ID")

	later := time.Now().Add(time.Hour)
	earlier := time.Now().Add(time.Minute)

	id1, err := store.EnqueueWithIdempotencyKey(ctx, Job{
		UserID: userID, Type: "morning_brief", DueAt: later, MaxAttempts: 5, IdempotencyKey: "shared-key",
	})
	require.NoError(t, err)

	id2, err := store.EnqueueWithIdempotencyKey(ctx, Job{
		UserID: userID, Type: "morning_brief", DueAt: earlier, MaxAttempts: 5, IdempotencyKey: "shared-key",
	})
	require.NoError(t, err)
	require.Equal(t, id1, id2, "same idempotency key must resolve to the same row")

	claimed, err := store.ClaimDueJobs(ctx, time.Now().Add(2*time.Minute), "worker-1", 10, 30, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1, "the coalesced due_at should be the earlier one")
}

func TestStore_MarkDone_RequiresMatchingLeaseOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := os.Getenv("TEST_USER_ID")

	_, err := store.EnqueueWithIdempotencyKey(ctx, Job{
		UserID: userID, Type: "assistant_query", DueAt: time.Now().Add(-time.Minute), MaxAttempts: 5, IdempotencyKey: "idem-done",
	})
	require.NoError(t, err)

	claimed, err := store.ClaimDueJobs(ctx, time.Now(), "worker-1", 10, 30, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	ok, err := store.MarkDone(ctx, claimed[0].ID, "worker-wrong")
	require.NoError(t, err)
	require.False(t, ok, "a different worker must not be able to mark done")

	ok, err = store.MarkDone(ctx, claimed[0].ID, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStore_SweepExpiredLeases_DeadLettersPastMaxAttempts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := os.Getenv("TEST_USER_ID")

	_, err := store.EnqueueWithIdempotencyKey(ctx, Job{
		UserID: userID, Type: "assistant_query", DueAt: time.Now().Add(-time.Minute), MaxAttempts: 1, IdempotencyKey: "idem-sweep",
	})
	require.NoError(t, err)

	claimed, err := store.ClaimDueJobs(ctx, time.Now(), "worker-1", 10, 1, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.SweepExpiredLeases(ctx, time.Now().Add(2*time.Second)))

	again, err := store.ClaimDueJobs(ctx, time.Now().Add(2*time.Second), "worker-2", 10, 30, 5)
	require.NoError(t, err)
	require.Empty(t, again, "a job at max_attempts should be dead-lettered, not reclaimable")

	var reasonCode string
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT reason_code FROM dead_letter_jobs WHERE user_id = $1`, userID).Scan(&reasonCode))
	require.Equal(t, "LEASE_EXPIRED_MAX_ATTEMPTS", reasonCode)
}
