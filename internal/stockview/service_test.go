package stockview

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	details     map[[2]int64]StockDetail
	detailCalls int
	listCalls   int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{details: map[[2]int64]StockDetail{}}
}

func (r *memoryRepo) put(d StockDetail) {
	r.details[[2]int64{d.ProductID, d.LocationID}] = d
}

func (r *memoryRepo) Detail(ctx context.Context, productID, locationID int64) (StockDetail, error) {
	r.detailCalls++
	if d, ok := r.details[[2]int64{productID, locationID}]; ok {
		return d, nil
	}
	return StockDetail{}, ErrNotFound
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]StockDetail, int, error) {
	r.listCalls++
	out := []StockDetail{}
	for _, d := range r.details {
		if filter.LocationID != 0 && d.LocationID != filter.LocationID {
			continue
		}
		out = append(out, d)
	}
	return out, len(out), nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T) (*memoryRepo, *Cache, *Service) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)
	repo := newMemoryRepo()
	return repo, cache, NewService(repo, cache)
}

func sample() StockDetail {
	return StockDetail{
		ProductID:   1,
		SKU:         "SKU-001",
		ProductName: "Widget",
		Unit:        "pcs",
		LocationID:  1,
		OnHand:      dec("42"),
		Reserved:    dec("2"),
		Available:   dec("40"),
		OnOrder:     dec("10"),
		AvgCost:     dec("15000"),
	}
}

func TestDetailCachedUntilBump(t *testing.T) {
	repo, cache, svc := newFixture(t)
	ctx := context.Background()
	repo.put(sample())

	first, err := svc.Detail(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, first.OnHand.Equal(dec("42")))
	require.Equal(t, 1, repo.detailCalls)

	// Second read is served from cache.
	_, err = svc.Detail(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 1, repo.detailCalls)

	// A version bump orphans the cached entry.
	require.NoError(t, cache.Bump(ctx))
	updated := sample()
	updated.OnHand = dec("45")
	repo.put(updated)

	third, err := svc.Detail(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, third.OnHand.Equal(dec("45")))
	require.Equal(t, 2, repo.detailCalls)
}

func TestDetailNotFound(t *testing.T) {
	_, _, svc := newFixture(t)

	_, err := svc.Detail(context.Background(), 99, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDetailRejectsInvalidIDs(t *testing.T) {
	repo, _, svc := newFixture(t)
	ctx := context.Background()

	for _, pair := range [][2]int64{{0, 1}, {1, 0}, {-1, 1}} {
		_, err := svc.Detail(ctx, pair[0], pair[1])
		require.ErrorIs(t, err, ErrValidation)
		require.NotErrorIs(t, err, ErrNotFound)
	}
	require.Equal(t, 0, repo.detailCalls)
}

func TestListCachedPerFilter(t *testing.T) {
	repo, _, svc := newFixture(t)
	ctx := context.Background()
	repo.put(sample())
	second := sample()
	second.ProductID = 2
	second.LocationID = 2
	repo.put(second)

	details, page, err := svc.List(ctx, ListFilter{LocationID: 1, Page: 1, PerPage: 20})
	require.NoError(t, err)
	require.Len(t, details, 1)
	require.Equal(t, 1, page.Total)
	require.Equal(t, 1, repo.listCalls)

	// Same filter hits the cache, a different filter does not.
	_, _, err = svc.List(ctx, ListFilter{LocationID: 1, Page: 1, PerPage: 20})
	require.NoError(t, err)
	require.Equal(t, 1, repo.listCalls)

	details, _, err = svc.List(ctx, ListFilter{Page: 1, PerPage: 20})
	require.NoError(t, err)
	require.Len(t, details, 2)
	require.Equal(t, 2, repo.listCalls)
}

func TestNoCacheFallsThrough(t *testing.T) {
	repo := newMemoryRepo()
	repo.put(sample())
	svc := NewService(repo, NewCache(nil, 0))
	ctx := context.Background()

	_, err := svc.Detail(ctx, 1, 1)
	require.NoError(t, err)
	_, err = svc.Detail(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 2, repo.detailCalls)
}
