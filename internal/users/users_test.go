package users

import (
	"context"
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

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("requires docker; skipped under -short")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("users_test"),
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

	return pool
}

func TestStore_GetOrCreate_ProvisionsOnFirstSight(t *testing.T) {
	store := NewStore(newTestPool(t))
	ctx := context.Background()

	id, err := store.GetOrCreate(ctx, "issuer|subject-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestStore_GetOrCreate_IsStableAcrossCalls(t *testing.T) {
	store := NewStore(newTestPool(t))
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "issuer|subject-2")
	require.NoError(t, err)

	second, err := store.GetOrCreate(ctx, "issuer|subject-2")
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestStore_MarkUserDeleted_FlipsStatus(t *testing.T) {
	store := NewStore(newTestPool(t))
	ctx := context.Background()

	id, err := store.GetOrCreate(ctx, "issuer|subject-3")
	require.NoError(t, err)

	require.NoError(t, store.MarkUserDeleted(ctx, id))

	active, err := store.IsActive(ctx, id)
	require.NoError(t, err)
	require.False(t, active)
}

func TestStore_MarkUserDeleted_UnknownUserReturnsNotFound(t *testing.T) {
	store := NewStore(newTestPool(t))
	ctx := context.Background()

	err := store.MarkUserDeleted(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_IsActive_UnknownUserReturnsNotFound(t *testing.T) {
	store := NewStore(newTestPool(t))
	ctx := context.Background()

	_, err := store.IsActive(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrNotFound)
}
