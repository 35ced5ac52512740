package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

type fakeDeleter struct {
	calls [][]string
	err   error
}

func (f *fakeDeleter) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.calls = append(f.calls, keys)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	cmd.SetVal(int64(len(keys)))
	return cmd
}

func TestKeys(t *testing.T) {
	cases := []struct {
		name string
		ids  []int64
		want []string
	}{
		{name: "empty", ids: nil, want: []string{}},
		{name: "single", ids: []int64{7}, want: []string{"product:7", "product:7:stock"}},
		{name: "dedup", ids: []int64{3, 1, 3}, want: []string{"product:3", "product:3:stock", "product:1", "product:1:stock"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Keys(tc.ids))
		})
	}
}

func TestEvictor_Evict(t *testing.T) {
	deleter := &fakeDeleter{}
	evictor := newEvictor(deleter, nil)

	err := evictor.Evict(context.Background(), domain.ProductStockChanged{ProductIDs: []int64{2, 5}, Reason: "ORDER"})
	require.NoError(t, err)
	require.Len(t, deleter.calls, 1)
	require.Equal(t, []string{"product:2", "product:2:stock", "product:5", "product:5:stock"}, deleter.calls[0])
}

func TestEvictor_EmptyEventIsNoop(t *testing.T) {
	deleter := &fakeDeleter{}
	require.NoError(t, newEvictor(deleter, nil).Evict(context.Background(), domain.ProductStockChanged{}))
	require.Empty(t, deleter.calls)
}

func TestEvictor_PropagatesRedisError(t *testing.T) {
	deleter := &fakeDeleter{err: errors.New("connection refused")}
	err := newEvictor(deleter, nil).Evict(context.Background(), domain.ProductStockChanged{ProductIDs: []int64{1}})
	require.ErrorContains(t, err, "connection refused")
}
