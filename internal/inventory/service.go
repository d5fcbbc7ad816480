package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samudra-erp/samudra-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, productID, locationID int64) (StockRecord, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error)
}

// TxRepository exposes transactional operations used by the mutator. The
// workflow packages obtain one bound to their own transaction so header,
// lines and ledger commit or roll back together.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, productID, locationID int64) (StockRecord, error)
	UpsertRecord(ctx context.Context, record StockRecord) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	GetLocationPolicy(ctx context.Context, locationID int64) (LocationPolicy, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator bumps read-side caches after a successful post.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service is the stock mutator: the single writer of stock records and the
// movement journal.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	invalidator CacheInvalidator
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, invalidator CacheInvalidator) *Service {
	return &Service{repo: repo, audit: audit, invalidator: invalidator, now: time.Now}
}

// AdjustStock applies a signed delta to one product/location pair inside its
// own transaction and returns the resulting record. A zero delta is a safe
// no-op that neither writes a movement nor touches the record.
func (s *Service) AdjustStock(ctx context.Context, input AdjustInput) (StockRecord, error) {
	if err := validateAdjustInput(input); err != nil {
		return StockRecord{}, err
	}
	if input.Delta.IsZero() {
		record, err := s.repo.GetRecord(ctx, input.ProductID, input.LocationID)
		if errors.Is(err, ErrRecordNotFound) {
			return emptyRecord(input.ProductID, input.LocationID), nil
		}
		return record, err
	}

	var record StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted, err := s.PostDelta(ctx, tx, input)
		if err != nil {
			return err
		}
		record = posted
		return nil
	})
	if err != nil {
		return StockRecord{}, err
	}
	s.afterPost(ctx, input)
	return record, nil
}

// PostDelta applies the delta within a caller-owned transaction. It holds
// the row lock on the (product, location) stock record for the duration of
// the read-modify-write and inserts exactly one movement row.
func (s *Service) PostDelta(ctx context.Context, tx TxRepository, input AdjustInput) (StockRecord, error) {
	if err := validateAdjustInput(input); err != nil {
		return StockRecord{}, err
	}

	policy, err := tx.GetLocationPolicy(ctx, input.LocationID)
	if err != nil {
		return StockRecord{}, err
	}

	record, err := tx.GetRecordForUpdate(ctx, input.ProductID, input.LocationID)
	if errors.Is(err, ErrRecordNotFound) {
		record = emptyRecord(input.ProductID, input.LocationID)
	} else if err != nil {
		return StockRecord{}, err
	}

	if input.Delta.IsZero() {
		return record, nil
	}

	newOnHand := record.OnHand.Add(input.Delta)
	if newOnHand.IsNegative() && !policy.AllowNegativeStock {
		return StockRecord{}, fmt.Errorf("%w: product %d at location %d has %s on hand, delta %s",
			ErrInsufficientStock, input.ProductID, input.LocationID, record.OnHand, input.Delta)
	}

	if input.Cost != nil && input.Delta.IsPositive() {
		// Weighted moving average over the inbound quantity.
		totalCost := record.OnHand.Mul(record.AvgCost).Add(input.Delta.Mul(*input.Cost))
		if newOnHand.IsPositive() {
			record.AvgCost = totalCost.DivRound(newOnHand, 6)
		} else {
			record.AvgCost = *input.Cost
		}
	}

	now := s.now().UTC()
	record.OnHand = newOnHand
	record.UpdatedAt = now
	if err := tx.UpsertRecord(ctx, record); err != nil {
		return StockRecord{}, err
	}

	movement := Movement{
		ProductID:  input.ProductID,
		LocationID: input.LocationID,
		Quantity:   input.Delta,
		Kind:       input.Kind,
		RefType:    input.RefType,
		RefID:      input.RefID,
		Note:       input.Note,
		CreatedBy:  input.ActorID,
		CreatedAt:  now,
	}
	if _, err := tx.InsertMovement(ctx, movement); err != nil {
		return StockRecord{}, err
	}
	return record, nil
}

// NotifyPosted runs the post-commit side effects for deltas posted through
// PostDelta by a workflow, once that workflow's transaction committed.
func (s *Service) NotifyPosted(ctx context.Context, input AdjustInput) {
	s.afterPost(ctx, input)
}

// GetStock returns the stock record for one product/location pair.
func (s *Service) GetStock(ctx context.Context, productID, locationID int64) (StockRecord, error) {
	if productID == 0 || locationID == 0 {
		return StockRecord{}, fmt.Errorf("%w: product and location required", ErrValidation)
	}
	return s.repo.GetRecord(ctx, productID, locationID)
}

// ListMovements lists journal entries for audit and reporting.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, shared.Pagination, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, shared.Pagination{}, fmt.Errorf("%w: unknown movement kind %q", ErrValidation, filter.Kind)
	}
	movements, total, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return movements, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) afterPost(ctx context.Context, input AdjustInput) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("inventory:%s", input.Kind),
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d:%d", input.ProductID, input.LocationID),
			Meta: map[string]any{
				"product_id":  input.ProductID,
				"location_id": input.LocationID,
				"quantity":    input.Delta.String(),
				"ref_type":    string(input.RefType),
				"ref_id":      input.RefID,
				"note":        input.Note,
			},
		})
	}
	if s.invalidator != nil {
		_ = s.invalidator.Bump(ctx)
	}
}

func validateAdjustInput(input AdjustInput) error {
	if input.ProductID == 0 || input.LocationID == 0 {
		return fmt.Errorf("%w: product and location required", ErrValidation)
	}
	if !input.Kind.Valid() {
		return fmt.Errorf("%w: unknown movement kind %q", ErrValidation, input.Kind)
	}
	if input.Cost != nil && input.Cost.IsNegative() {
		return fmt.Errorf("%w: cost must be >= 0", ErrValidation)
	}
	return nil
}

func emptyRecord(productID, locationID int64) StockRecord {
	return StockRecord{ProductID: productID, LocationID: locationID}
}
