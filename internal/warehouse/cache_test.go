package warehouse

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*AvailabilityCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAvailabilityCache(client, time.Minute, testLogger()), mr
}

func countingLoader(loads *int, view AvailabilityView) func(context.Context) (AvailabilityView, error) {
	return func(context.Context) (AvailabilityView, error) {
		*loads++
		return view, nil
	}
}

func TestAvailabilityCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	loads := 0
	view := AvailabilityView{
		ProductID:   7,
		Lines:       []AvailabilityLine{{UnitType: UnitPacks, Quantity: 18}},
		GeneratedAt: time.Now().UTC(),
	}

	got, err := cache.Fetch(ctx, 7, countingLoader(&loads, view))
	require.NoError(t, err)
	require.Equal(t, int64(7), got.ProductID)
	require.Equal(t, 1, loads)

	// Second fetch is served from the cache.
	got, err = cache.Fetch(ctx, 7, countingLoader(&loads, view))
	require.NoError(t, err)
	require.Equal(t, int64(18), got.Lines[0].Quantity)
	require.Equal(t, 1, loads)

	// A bump invalidates every cached view at once.
	require.NoError(t, cache.Bump(ctx))
	view.Lines[0].Quantity = 11
	got, err = cache.Fetch(ctx, 7, countingLoader(&loads, view))
	require.NoError(t, err)
	require.Equal(t, int64(11), got.Lines[0].Quantity)
	require.Equal(t, 2, loads)
}

func TestAvailabilityCacheDegradesWhenRedisDown(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	mr.Close()

	loads := 0
	got, err := cache.Fetch(ctx, 7, countingLoader(&loads, AvailabilityView{ProductID: 7}))
	require.NoError(t, err)
	require.Equal(t, int64(7), got.ProductID)
	require.Equal(t, 1, loads)
}

func TestAvailabilityCacheReloadsCorruptEntry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("stock:avail:7:v1", "{not json"))

	loads := 0
	got, err := cache.Fetch(ctx, 7, countingLoader(&loads, AvailabilityView{ProductID: 7}))
	require.NoError(t, err)
	require.Equal(t, int64(7), got.ProductID)
	require.Equal(t, 1, loads)

	// The corrupt entry was overwritten with the loaded view.
	got, err = cache.Fetch(ctx, 7, countingLoader(&loads, AvailabilityView{ProductID: 99}))
	require.NoError(t, err)
	require.Equal(t, int64(7), got.ProductID)
	require.Equal(t, 1, loads)
}

func TestAvailabilityCacheNilClient(t *testing.T) {
	var cache *AvailabilityCache
	loads := 0
	got, err := cache.Fetch(context.Background(), 7, countingLoader(&loads, AvailabilityView{ProductID: 7}))
	require.NoError(t, err)
	require.Equal(t, int64(7), got.ProductID)
	require.NoError(t, cache.Bump(context.Background()))
}
