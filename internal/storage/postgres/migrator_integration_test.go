package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100))
	state, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, MigrationState{Pending: []string{"0001_init", "0002_outbox_idempotency", "0003_user_spend_recalculated"}}, state)

	require.NoError(t, store.MigrateUp(ctx, 1))
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, state.Version)
	require.Equal(t, []string{"0002_outbox_idempotency", "0003_user_spend_recalculated"}, state.Pending)

	require.NoError(t, store.MigrateUp(ctx, 0))
	require.NoError(t, store.MigrateUp(ctx, 0))
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, state.Version)
	require.Equal(t, 3, state.Applied)
	require.Empty(t, state.Pending)

	var tiers int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM user_tiers`).Scan(&tiers))
	require.Equal(t, 5, tiers)

	require.NoError(t, store.MigrateDown(ctx, 0))
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, state.Version)
	require.Equal(t, []string{"0003_user_spend_recalculated"}, state.Pending)

	require.NoError(t, store.MigrateUp(ctx, 0))
	require.Error(t, store.migrate(ctx, migrationDirection("sideways"), 0))
}
