package pricing

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *RuleCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRuleCache(client, time.Minute)
}

func TestRuleCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	rules := []Rule{
		{ID: 1, TenantID: "t1", Carrier: "dhl", WeightMinGrams: 0, WeightMaxGrams: 1000, PriceEUR: decimal.RequireFromString("3.95")},
		{ID: 2, TenantID: "t1", Carrier: "dhl", WeightMinGrams: 1000, WeightMaxGrams: 5000, PriceEUR: decimal.RequireFromString("5.25")},
	}
	cache.Set(ctx, "t1", rules)

	got, ok := cache.Get(ctx, "t1")
	require.True(t, ok)
	require.Len(t, got, 2)
	require.Equal(t, "dhl", got[0].Carrier)
	require.True(t, got[0].PriceEUR.Equal(decimal.RequireFromString("3.95")))
	require.Equal(t, "t1", got[1].TenantID)
}

func TestRuleCacheMissAndInvalidate(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "t1")
	require.False(t, ok)

	cache.Set(ctx, "t1", []Rule{{ID: 1, Carrier: "postnl", WeightMaxGrams: 500, PriceEUR: decimal.New(4, 0)}})
	_, ok = cache.Get(ctx, "t1")
	require.True(t, ok)

	cache.Invalidate(ctx, "t1")
	_, ok = cache.Get(ctx, "t1")
	require.False(t, ok)
}

func TestRuleCacheIsTenantScoped(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "t1", []Rule{{ID: 1, Carrier: "dpd", WeightMaxGrams: 2000, PriceEUR: decimal.New(6, 0)}})

	_, ok := cache.Get(ctx, "t2")
	require.False(t, ok)
}

func TestRuleCacheNilSafe(t *testing.T) {
	var cache *RuleCache
	ctx := context.Background()

	cache.Set(ctx, "t1", nil)
	cache.Invalidate(ctx, "t1")
	_, ok := cache.Get(ctx, "t1")
	require.False(t, ok)
}
