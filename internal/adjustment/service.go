package adjustment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samudra-erp/samudra-erp/internal/inventory"
	"github.com/samudra-erp/samudra-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Adjustment, []Line, error)
	List(ctx context.Context, filter ListFilter) ([]Adjustment, int, error)
}

// TxRepository exposes transactional operations used by service. Stock()
// returns ledger operations bound to the same transaction so completion is
// all-or-nothing.
type TxRepository interface {
	InsertHeader(ctx context.Context, header Adjustment) (int64, error)
	InsertLines(ctx context.Context, adjustmentID int64, lines []Line) error
	GetHeaderForUpdate(ctx context.Context, id int64) (Adjustment, error)
	GetLines(ctx context.Context, id int64) ([]Line, error)
	SetStatus(ctx context.Context, id int64, from []Status, to Status) error
	UpdateLinePosted(ctx context.Context, lineID int64, qtySystem, qtyDifference decimal.Decimal) error
	DeleteHeader(ctx context.Context, id int64) error
	Stock() inventory.TxRepository
}

// StockPort is the slice of the stock mutator the workflow needs.
type StockPort interface {
	GetStock(ctx context.Context, productID, locationID int64) (inventory.StockRecord, error)
	PostDelta(ctx context.Context, tx inventory.TxRepository, input inventory.AdjustInput) (inventory.StockRecord, error)
	NotifyPosted(ctx context.Context, input inventory.AdjustInput)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// CompleteRetries is how many times a contended completion is retried
	// as a whole before ErrBusy reaches the caller.
	CompleteRetries int
}

// Service coordinates the manual stock adjustment workflow.
type Service struct {
	repo        RepositoryPort
	stock       StockPort
	numbers     shared.NumberGenerator
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	retries     int
	sleep       func(time.Duration)
}

// NewService builds Service.
func NewService(repo RepositoryPort, stock StockPort, numbers shared.NumberGenerator, audit AuditPort, idem *shared.IdempotencyStore, cfg ServiceConfig) *Service {
	retries := cfg.CompleteRetries
	if retries <= 0 {
		retries = 3
	}
	return &Service{repo: repo, stock: stock, numbers: numbers, audit: audit, idempotency: idem, retries: retries, sleep: time.Sleep}
}

// Create validates and persists a draft adjustment. Each line snapshots the
// current stock quantity for display; no movement is posted here.
func (s *Service) Create(ctx context.Context, input CreateInput) (Adjustment, []Line, error) {
	if input.LocationID == 0 {
		return Adjustment{}, nil, fmt.Errorf("%w: location required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Adjustment{}, nil, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	seen := make(map[int64]bool, len(input.Lines))
	for _, line := range input.Lines {
		if line.ProductID == 0 {
			return Adjustment{}, nil, fmt.Errorf("%w: product required on every line", ErrValidation)
		}
		if line.QtyActual.IsNegative() {
			return Adjustment{}, nil, fmt.Errorf("%w: target quantity must be >= 0", ErrValidation)
		}
		if seen[line.ProductID] {
			return Adjustment{}, nil, fmt.Errorf("%w: duplicate product %d", ErrValidation, line.ProductID)
		}
		seen[line.ProductID] = true
	}

	number := input.Number
	if number == "" && s.numbers != nil {
		var err error
		if number, err = s.numbers.Next(ctx, "ADJ"); err != nil {
			return Adjustment{}, nil, err
		}
	}
	date := input.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	lines := make([]Line, 0, len(input.Lines))
	for _, in := range input.Lines {
		qtySystem := decimal.Zero
		record, err := s.stock.GetStock(ctx, in.ProductID, input.LocationID)
		switch {
		case err == nil:
			qtySystem = record.OnHand
		case errors.Is(err, inventory.ErrRecordNotFound):
			// no record yet: snapshot is zero
		default:
			return Adjustment{}, nil, err
		}
		lines = append(lines, Line{
			ProductID:     in.ProductID,
			QtySystem:     qtySystem,
			QtyActual:     in.QtyActual,
			QtyDifference: in.QtyActual.Sub(qtySystem),
		})
	}

	header := Adjustment{
		Number:     number,
		LocationID: input.LocationID,
		Date:       date,
		Reason:     input.Reason,
		Status:     StatusDraft,
		CreatedBy:  input.ActorID,
		CreatedAt:  time.Now().UTC(),
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertHeader(ctx, header)
		if err != nil {
			return err
		}
		header.ID = id
		if err := tx.InsertLines(ctx, id, lines); err != nil {
			return err
		}
		for i := range lines {
			lines[i].AdjustmentID = id
		}
		return nil
	})
	if err != nil {
		return Adjustment{}, nil, err
	}
	return header, lines, nil
}

// Complete posts the adjustment. For every line the live on-hand quantity is
// re-read under the row lock and the delta to the requested target is
// posted, so the stock converges to QtyActual no matter what moved since the
// draft was created. The whole completion is one transaction and is retried
// as a whole when a stock row is contended.
func (s *Service) Complete(ctx context.Context, id, actorID int64) error {
	idemKey := fmt.Sprintf("adjustment:complete:%d", id)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "adjustment"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return fmt.Errorf("%w: adjustment %d already completing", ErrInvalidState, id)
			}
			return err
		}
		insertedKey = true
	}

	var posted []inventory.AdjustInput
	var err error
	for attempt := 0; attempt < s.retries; attempt++ {
		posted = posted[:0]
		err = s.completeOnce(ctx, id, actorID, &posted)
		if !errors.Is(err, inventory.ErrBusy) {
			break
		}
		s.sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return err
	}

	for _, input := range posted {
		s.stock.NotifyPosted(ctx, input)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "adjustment:complete",
			Entity:   "stock_adjustment",
			EntityID: fmt.Sprintf("%d", id),
			Meta:     map[string]any{"lines_posted": len(posted)},
		})
	}
	return nil
}

func (s *Service) completeOnce(ctx context.Context, id, actorID int64, posted *[]inventory.AdjustInput) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetHeaderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if header.Status != StatusDraft {
			return fmt.Errorf("%w: cannot complete adjustment in status %s", ErrInvalidState, header.Status)
		}
		lines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}
		stockTx := tx.Stock()
		for _, line := range lines {
			current := decimal.Zero
			record, err := stockTx.GetRecordForUpdate(ctx, line.ProductID, header.LocationID)
			switch {
			case err == nil:
				current = record.OnHand
			case errors.Is(err, inventory.ErrRecordNotFound):
				// first movement for this pair, baseline zero
			default:
				return err
			}
			delta := line.QtyActual.Sub(current)
			if !delta.IsZero() {
				input := inventory.AdjustInput{
					ProductID:  line.ProductID,
					LocationID: header.LocationID,
					Delta:      delta,
					Kind:       inventory.KindAdjustment,
					RefType:    inventory.RefAdjustment,
					RefID:      header.ID,
					Note:       fmt.Sprintf("Adjustment #%s", header.Number),
					ActorID:    actorID,
				}
				if _, err := s.stock.PostDelta(ctx, stockTx, input); err != nil {
					return err
				}
				*posted = append(*posted, input)
			}
			// Persist what was actually posted, not the stale draft snapshot.
			if err := tx.UpdateLinePosted(ctx, line.ID, current, delta); err != nil {
				return err
			}
		}
		return tx.SetStatus(ctx, id, []Status{StatusDraft}, StatusCompleted)
	})
}

// Cancel voids a draft adjustment.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetHeaderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if header.Status != StatusDraft {
			return fmt.Errorf("%w: cannot cancel adjustment in status %s", ErrInvalidState, header.Status)
		}
		return tx.SetStatus(ctx, id, []Status{StatusDraft}, StatusCancelled)
	})
}

// Delete removes a draft adjustment and its lines.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetHeaderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if header.Status != StatusDraft {
			return fmt.Errorf("%w: cannot delete adjustment in status %s", ErrInvalidState, header.Status)
		}
		return tx.DeleteHeader(ctx, id)
	})
}

// Get fetches one adjustment with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Adjustment, []Line, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of adjustment headers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Adjustment, shared.Pagination, error) {
	headers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return headers, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}
