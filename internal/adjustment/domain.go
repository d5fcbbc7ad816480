package adjustment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the adjustment header lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Adjustment is a user-initiated correction that targets absolute desired
// quantities. It touches the ledger only at completion.
type Adjustment struct {
	ID         int64     `json:"id"`
	Number     string    `json:"number"`
	LocationID int64     `json:"location_id"`
	Date       time.Time `json:"date"`
	Reason     string    `json:"reason"`
	Status     Status    `json:"status"`
	CreatedBy  int64     `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// Line proposes one product's target quantity. QtySystem and QtyDifference
// are informational snapshots until completion overwrites them with the
// values actually posted.
type Line struct {
	ID            int64           `json:"id"`
	AdjustmentID  int64           `json:"adjustment_id"`
	ProductID     int64           `json:"product_id"`
	QtySystem     decimal.Decimal `json:"qty_system"`
	QtyActual     decimal.Decimal `json:"qty_actual"`
	QtyDifference decimal.Decimal `json:"qty_difference"`
}

// CreateInput describes a new adjustment proposal.
type CreateInput struct {
	Number     string
	LocationID int64
	Date       time.Time
	Reason     string
	ActorID    int64
	Lines      []LineInput
}

// LineInput carries one target quantity.
type LineInput struct {
	ProductID int64
	QtyActual decimal.Decimal
}

// ListFilter filters header listings.
type ListFilter struct {
	LocationID int64
	Status     Status
	Page       int
	PerPage    int
}

var (
	// ErrNotFound indicates the adjustment does not exist.
	ErrNotFound = errors.New("adjustment: not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("adjustment: invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("adjustment: invalid input")
)
