package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

func TestIdempotencyRepository_PostgresCreateGetAndMarkDone(t *testing.T) {
	store := openStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)
	created, err := repo.CreateProcessing(ctx, "idem-done", "req-hash-1", ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	require.NoError(t, repo.MarkDone(ctx, "idem-done", []byte(`{"order":{"id":1}}`), int(codes.OK)))

	got, err := repo.Get(ctx, "idem-done")
	require.NoError(t, err)
	require.Equal(t, "req-hash-1", got.RequestHash)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, int(codes.OK), got.StatusCode)
	require.JSONEq(t, `{"order":{"id":1}}`, string(got.ResponseBody))
	require.True(t, got.TTLAt.Equal(ttl), "ttl mismatch: expected %s, got %s", ttl, got.TTLAt)

	require.NoError(t, repo.MarkFailed(ctx, "idem-done", []byte(`{"code":9}`), int(codes.FailedPrecondition)))
	got, err = repo.Get(ctx, "idem-done")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, got.Status)
	require.Equal(t, int(codes.FailedPrecondition), got.StatusCode)
}

func TestIdempotencyRepository_PostgresConflicts(t *testing.T) {
	store := openStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	ttl := time.Now().UTC().Add(time.Hour)
	_, err := repo.CreateProcessing(ctx, "idem-conflict", "req-hash-a", ttl)
	require.NoError(t, err)

	_, err = repo.CreateProcessing(ctx, "idem-conflict", "req-hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.CreateProcessing(ctx, "idem-conflict", "req-hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	_, err = repo.CreateProcessing(ctx, " ", "req-hash", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	require.ErrorIs(t, repo.MarkDone(ctx, "missing", nil, 0), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	store := openStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, offset := range []time.Duration{-5 * time.Minute, -4 * time.Minute, -3 * time.Minute, time.Hour} {
		_, err := repo.CreateProcessing(ctx, "idem-"+string(rune('a'+i)), "hash", now.Add(offset))
		require.NoError(t, err)
	}

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	removed, err = repo.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "idem-d")
	require.NoError(t, err)
}

func TestIdempotencyRepository_PostgresReleaseAndStale(t *testing.T) {
	store := openStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()
	ttl := time.Now().UTC().Add(time.Hour)

	for _, key := range []string{"idem-lock-timeout", "idem-stuck", "idem-answered"} {
		_, err := repo.CreateProcessing(ctx, key, "hash", ttl)
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkDone(ctx, "idem-answered", []byte(`{}`), int(codes.OK)))

	require.NoError(t, repo.Release(ctx, "idem-lock-timeout"))
	_, err := repo.Get(ctx, "idem-lock-timeout")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	require.ErrorIs(t, repo.Release(ctx, "idem-lock-timeout"), domain.ErrIdempotencyKeyNotFound)

	require.NoError(t, repo.Release(ctx, "idem-answered"))
	_, err = repo.Get(ctx, "idem-answered")
	require.NoError(t, err, "completed records are not released")

	released, err := repo.ReleaseStale(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Equal(t, 1, released)
	_, err = repo.Get(ctx, "idem-stuck")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}
