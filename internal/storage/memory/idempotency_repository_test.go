package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	"github.com/vladislavdragonenkov/shoporder/internal/storage/memory"
)

func TestIdempotencyRepository_CreateAndConflicts(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(ctx, " create-order:1 ", "hash-a", ttl)
	require.NoError(t, err)
	require.Equal(t, "create-order:1", created.Key)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)
	require.True(t, created.TTLAt.Equal(ttl))

	_, err = repo.CreateProcessing(ctx, "create-order:1", "hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	_, err = repo.CreateProcessing(ctx, "create-order:1", "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	_, err = repo.CreateProcessing(ctx, " ", "hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing(ctx, "k", "", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
}

func TestIdempotencyRepository_ExpiredKeyCanBeReused(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing(ctx, "return:7", "hash-old", time.Now().UTC().Add(-time.Second))
	require.NoError(t, err)

	record, err := repo.CreateProcessing(ctx, "return:7", "hash-new", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "hash-new", record.RequestHash)
}

func TestIdempotencyRepository_CompleteStoresResponseCopy(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	_, err := repo.CreateProcessing(ctx, "done", "h", time.Time{})
	require.NoError(t, err)

	body := []byte(`{"order":{"id":1}}`)
	require.NoError(t, repo.MarkDone(ctx, "done", body, 0))
	body[0] = 'X'

	got, err := repo.Get(ctx, "done")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, `{"order":{"id":1}}`, string(got.ResponseBody))
	require.False(t, got.TTLAt.IsZero())

	require.ErrorIs(t, repo.MarkFailed(ctx, "missing", nil, 9), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_ReleaseOnlyDropsProcessing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "in-flight", "h", ttl)
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "failed", "h", ttl)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, "failed", []byte(`{}`), 9))

	require.NoError(t, repo.Release(ctx, "in-flight"))
	require.NoError(t, repo.Release(ctx, "failed"))
	require.ErrorIs(t, repo.Release(ctx, "missing"), domain.ErrIdempotencyKeyNotFound)

	_, err = repo.Get(ctx, "in-flight")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	kept, err := repo.Get(ctx, "failed")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, kept.Status)

	_, err = repo.CreateProcessing(ctx, "in-flight", "h", ttl)
	require.NoError(t, err, "released key must be usable again")
}

func TestIdempotencyRepository_DeleteExpiredAndReleaseStale(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for _, key := range []string{"expired-1", "expired-2", "expired-3"} {
		_, err := repo.CreateProcessing(ctx, key, "h", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "stuck", "h", now.Add(time.Hour))
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "answered", "h", now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.MarkDone(ctx, "answered", []byte(`{}`), 0))

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	removed, err = repo.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	released, err := repo.ReleaseStale(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Zero(t, released, "fresh processing keys are not stale")

	released, err = repo.ReleaseStale(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	_, err = repo.Get(ctx, "stuck")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, "answered")
	require.NoError(t, err)
}
