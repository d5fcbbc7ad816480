package stockview

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/samudra-erp/samudra-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Detail(ctx context.Context, productID, locationID int64) (StockDetail, error)
	List(ctx context.Context, filter ListFilter) ([]StockDetail, int, error)
}

// Service serves cached stock views. Cache misses for the same key collapse
// into a single repository query.
type Service struct {
	repo  RepositoryPort
	cache *Cache
	group singleflight.Group
}

// NewService builds Service. A nil cache disables caching.
func NewService(repo RepositoryPort, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Detail returns the stock view for one product/location pair.
func (s *Service) Detail(ctx context.Context, productID, locationID int64) (StockDetail, error) {
	if productID <= 0 || locationID <= 0 {
		return StockDetail{}, fmt.Errorf("%w: product and location required", ErrValidation)
	}
	key, err := s.cache.BuildKey(ctx, "stockview", "detail",
		fmt.Sprintf("%d", productID), fmt.Sprintf("%d", locationID))
	if err != nil {
		return StockDetail{}, err
	}
	var detail StockDetail
	err = s.fetch(ctx, key, &detail, func(ctx context.Context) (interface{}, error) {
		return s.repo.Detail(ctx, productID, locationID)
	})
	if err != nil {
		return StockDetail{}, err
	}
	return detail, nil
}

type listResult struct {
	Data       []StockDetail     `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

// List returns a filtered page of the stock view.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]StockDetail, shared.Pagination, error) {
	key, err := s.cache.BuildKey(ctx, "stockview", "list",
		fmt.Sprintf("%d:%d:%d:%s:%d:%d",
			filter.ProductID, filter.LocationID, filter.CategoryID,
			filter.Search, filter.Page, filter.PerPage))
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	var result listResult
	err = s.fetch(ctx, key, &result, func(ctx context.Context) (interface{}, error) {
		details, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		return listResult{
			Data:       details,
			Pagination: shared.NewPagination(filter.Page, filter.PerPage, total),
		}, nil
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return result.Data, result.Pagination, nil
}

// fetch collapses concurrent misses for the same key into one load and
// hands every waiter its own decoded copy.
func (s *Service) fetch(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	raw, err, _ := s.group.Do(key, func() (interface{}, error) {
		var payload json.RawMessage
		if err := s.cache.FetchJSON(ctx, key, &payload, loader); err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.(json.RawMessage), dest)
}
