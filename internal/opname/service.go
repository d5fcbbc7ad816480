package opname

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
	Get(ctx context.Context, id int64) (Opname, []Line, error)
	List(ctx context.Context, filter ListFilter) ([]Opname, int, error)
}

// TxRepository exposes transactional operations used by service. Stock()
// returns ledger operations bound to the same transaction so completion is
// all-or-nothing.
type TxRepository interface {
	InsertHeader(ctx context.Context, header Opname) (int64, error)
	InsertLines(ctx context.Context, opnameID int64, lines []Line) error
	GetHeaderForUpdate(ctx context.Context, id int64) (Opname, error)
	GetLines(ctx context.Context, id int64) ([]Line, error)
	HasLines(ctx context.Context, id int64) (bool, error)
	SetStatus(ctx context.Context, id int64, from []Status, to Status) error
	UpdateLineCount(ctx context.Context, lineID int64, qtyPhysical, qtyDifference decimal.Decimal) error
	DeleteHeader(ctx context.Context, id int64) error
	ListCountableStock(ctx context.Context, locationID int64) ([]CountableStock, error)
	Stock() inventory.TxRepository
}

// StockPort is the slice of the stock mutator the workflow needs.
type StockPort interface {
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

// Service coordinates the physical stock count workflow.
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

// Create opens an empty count session in draft.
func (s *Service) Create(ctx context.Context, input CreateInput) (Opname, error) {
	if input.LocationID == 0 {
		return Opname{}, fmt.Errorf("%w: location required", ErrValidation)
	}
	number := input.Number
	if number == "" && s.numbers != nil {
		var err error
		if number, err = s.numbers.Next(ctx, "OPN"); err != nil {
			return Opname{}, err
		}
	}
	date := input.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	header := Opname{
		Number:     number,
		LocationID: input.LocationID,
		Date:       date,
		Note:       input.Note,
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
		return nil
	})
	if err != nil {
		return Opname{}, err
	}
	return header, nil
}

// Populate generates the count sheet from the current book quantities at the
// opname's location. This is the moment the system quantities freeze; it can
// happen only once, while the opname is still a draft.
func (s *Service) Populate(ctx context.Context, id int64) ([]Line, error) {
	var lines []Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetHeaderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if header.Status != StatusDraft {
			return fmt.Errorf("%w: cannot populate opname in status %s", ErrInvalidState, header.Status)
		}
		populated, err := tx.HasLines(ctx, id)
		if err != nil {
			return err
		}
		if populated {
			return ErrAlreadyPopulated
		}
		countable, err := tx.ListCountableStock(ctx, header.LocationID)
		if err != nil {
			return err
		}
		lines = make([]Line, 0, len(countable))
		for _, item := range countable {
			// Physical defaults to the book quantity so an uncounted
			// line completes as a zero difference.
			lines = append(lines, Line{
				ProductID:     item.ProductID,
				QtySystem:     item.OnHand,
				QtyPhysical:   item.OnHand,
				QtyDifference: decimal.Zero,
			})
		}
		if err := tx.InsertLines(ctx, id, lines); err != nil {
			return err
		}
		refreshed, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}
		lines = refreshed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// RecordCounts stores counted quantities on existing lines. The first count
// moves a draft to in progress.
func (s *Service) RecordCounts(ctx context.Context, id int64, counts []CountInput) error {
	if len(counts) == 0 {
		return fmt.Errorf("%w: at least one count required", ErrValidation)
	}
	for _, count := range counts {
		if count.LineID == 0 {
			return fmt.Errorf("%w: line required on every count", ErrValidation)
		}
		if count.QtyPhysical.IsNegative() {
			return fmt.Errorf("%w: counted quantity must be >= 0", ErrValidation)
		}
	}

	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetHeaderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if header.Status != StatusDraft && header.Status != StatusInProgress {
			return fmt.Errorf("%w: cannot count opname in status %s", ErrInvalidState, header.Status)
		}
		lines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}
		byID := make(map[int64]Line, len(lines))
		for _, line := range lines {
			byID[line.ID] = line
		}
		for _, count := range counts {
			line, ok := byID[count.LineID]
			if !ok {
				return fmt.Errorf("%w: line %d", ErrLineNotFound, count.LineID)
			}
			diff := count.QtyPhysical.Sub(line.QtySystem)
			if err := tx.UpdateLineCount(ctx, line.ID, count.QtyPhysical, diff); err != nil {
				return err
			}
		}
		if header.Status == StatusDraft {
			return tx.SetStatus(ctx, id, []Status{StatusDraft}, StatusInProgress)
		}
		return nil
	})
}

// Complete posts every non-zero stored difference to the ledger and closes
// the opname. Unlike an adjustment, the deltas are the frozen count sheet
// differences: stock that moved after the sheet was populated is not
// reconciled here, the count sheet is the authority on what was found.
func (s *Service) Complete(ctx context.Context, id, actorID int64) error {
	idemKey := fmt.Sprintf("opname:complete:%d", id)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "opname"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return fmt.Errorf("%w: opname %d already completing", ErrInvalidState, id)
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
			Action:   "opname:complete",
			Entity:   "stock_opname",
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
		if header.Status != StatusDraft && header.Status != StatusInProgress {
			return fmt.Errorf("%w: cannot complete opname in status %s", ErrInvalidState, header.Status)
		}
		lines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}
		stockTx := tx.Stock()
		for _, line := range lines {
			if line.QtyDifference.IsZero() {
				continue
			}
			input := inventory.AdjustInput{
				ProductID:  line.ProductID,
				LocationID: header.LocationID,
				Delta:      line.QtyDifference,
				Kind:       inventory.KindOpname,
				RefType:    inventory.RefOpname,
				RefID:      header.ID,
				Note:       fmt.Sprintf("Stock opname #%s", header.Number),
				ActorID:    actorID,
			}
			if _, err := s.stock.PostDelta(ctx, stockTx, input); err != nil {
				return err
			}
			*posted = append(*posted, input)
		}
		return tx.SetStatus(ctx, id, []Status{StatusDraft, StatusInProgress}, StatusCompleted)
	})
}

// Cancel voids an opname that has not been posted yet.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetHeaderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if header.Status != StatusDraft && header.Status != StatusInProgress {
			return fmt.Errorf("%w: cannot cancel opname in status %s", ErrInvalidState, header.Status)
		}
		return tx.SetStatus(ctx, id, []Status{StatusDraft, StatusInProgress}, StatusCancelled)
	})
}

// Delete removes an unposted opname and its count sheet. Cancelled sessions
// stay deletable because their sheet never reached the ledger.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetHeaderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if header.Status == StatusCompleted {
			return fmt.Errorf("%w: cannot delete a completed opname", ErrInvalidState)
		}
		return tx.DeleteHeader(ctx, id)
	})
}

// Get fetches one opname with its count sheet.
func (s *Service) Get(ctx context.Context, id int64) (Opname, []Line, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of opname headers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Opname, shared.Pagination, error) {
	headers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return headers, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}
