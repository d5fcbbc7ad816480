package opname

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the opname header lifecycle state.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Opname is a physical stock count session for one location. The count sheet
// freezes system quantities when it is populated; completion posts the frozen
// differences as-is, it does not reconcile against live stock.
type Opname struct {
	ID         int64     `json:"id"`
	Number     string    `json:"number"`
	LocationID int64     `json:"location_id"`
	Date       time.Time `json:"date"`
	Note       string    `json:"note"`
	Status     Status    `json:"status"`
	CreatedBy  int64     `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// Line is one count sheet row. QtySystem is the frozen book quantity,
// QtyPhysical the counted quantity, QtyDifference their signed gap.
type Line struct {
	ID            int64           `json:"id"`
	OpnameID      int64           `json:"opname_id"`
	ProductID     int64           `json:"product_id"`
	QtySystem     decimal.Decimal `json:"qty_system"`
	QtyPhysical   decimal.Decimal `json:"qty_physical"`
	QtyDifference decimal.Decimal `json:"qty_difference"`
}

// CreateInput opens a new count session.
type CreateInput struct {
	Number     string
	LocationID int64
	Date       time.Time
	Note       string
	ActorID    int64
}

// CountInput records one counted quantity on an existing line.
type CountInput struct {
	LineID      int64
	QtyPhysical decimal.Decimal
}

// CountableStock is one product eligible for counting at a location.
type CountableStock struct {
	ProductID int64
	OnHand    decimal.Decimal
}

// ListFilter filters header listings.
type ListFilter struct {
	LocationID int64
	Status     Status
	Page       int
	PerPage    int
}

var (
	// ErrNotFound indicates the opname does not exist.
	ErrNotFound = errors.New("opname: not found")
	// ErrLineNotFound indicates a count targets a line outside this opname.
	ErrLineNotFound = errors.New("opname: line not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("opname: invalid state transition")
	// ErrAlreadyPopulated occurs when the count sheet was generated before.
	ErrAlreadyPopulated = errors.New("opname: count sheet already populated")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("opname: invalid input")
)
