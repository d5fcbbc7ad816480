package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementKind enumerates the documented sources of a stock movement.
type MovementKind string

const (
	// KindAdjustment marks manual stock corrections.
	KindAdjustment MovementKind = "ADJUSTMENT"
	// KindOpname marks physical count corrections.
	KindOpname MovementKind = "OPNAME"
	// KindPurchaseReceipt marks inbound goods receipts.
	KindPurchaseReceipt MovementKind = "PURCHASE_RECEIPT"
	// KindSalesDelivery marks outbound sales deliveries.
	KindSalesDelivery MovementKind = "SALES_DELIVERY"
	// KindProductionIn marks finished goods entering stock.
	KindProductionIn MovementKind = "PRODUCTION_IN"
	// KindProductionOut marks materials consumed by production.
	KindProductionOut MovementKind = "PRODUCTION_OUT"
	// KindTransfer marks inter-location transfers.
	KindTransfer MovementKind = "TRANSFER"
)

// Valid reports whether the kind is one of the known movement sources.
func (k MovementKind) Valid() bool {
	switch k {
	case KindAdjustment, KindOpname, KindPurchaseReceipt, KindSalesDelivery,
		KindProductionIn, KindProductionOut, KindTransfer:
		return true
	}
	return false
}

// RefType is the closed tag identifying the document that caused a movement.
type RefType string

const (
	RefAdjustment    RefType = "ADJUSTMENT"
	RefOpname        RefType = "OPNAME"
	RefGoodsReceipt  RefType = "GOODS_RECEIPT"
	RefDeliveryOrder RefType = "DELIVERY_ORDER"
	RefWorkOrder     RefType = "WORK_ORDER"
	RefTransferOrder RefType = "TRANSFER_ORDER"
)

// StockRecord is the materialized quantity state per product and location.
// Mutated exclusively through the Service.
type StockRecord struct {
	ProductID  int64           `json:"product_id"`
	LocationID int64           `json:"location_id"`
	OnHand     decimal.Decimal `json:"on_hand"`
	Reserved   decimal.Decimal `json:"reserved"`
	Incoming   decimal.Decimal `json:"incoming"`
	Outgoing   decimal.Decimal `json:"outgoing"`
	AvgCost    decimal.Decimal `json:"avg_cost"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Available is on-hand minus reserved.
func (r StockRecord) Available() decimal.Decimal {
	return r.OnHand.Sub(r.Reserved)
}

// Movement is one immutable entry in the append-only quantity journal.
type Movement struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"product_id"`
	LocationID int64           `json:"location_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Kind       MovementKind    `json:"kind"`
	RefType    RefType         `json:"ref_type"`
	RefID      int64           `json:"ref_id"`
	Note       string          `json:"note"`
	CreatedBy  int64           `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AdjustInput describes one signed quantity change to apply.
type AdjustInput struct {
	ProductID  int64
	LocationID int64
	Delta      decimal.Decimal
	// Cost updates the moving average when set on a positive delta.
	// Corrective kinds leave it nil so the existing average is kept.
	Cost    *decimal.Decimal
	Kind    MovementKind
	RefType RefType
	RefID   int64
	Note    string
	ActorID int64
}

// MovementFilter filters journal listings.
type MovementFilter struct {
	ProductID  int64
	LocationID int64
	Kind       MovementKind
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

// LocationPolicy carries the stock policy flags of a storage location.
type LocationPolicy struct {
	LocationID         int64
	AllowNegativeStock bool
	Active             bool
}

var (
	// ErrRecordNotFound indicates a missing stock record.
	ErrRecordNotFound = errors.New("inventory: stock record not found")
	// ErrLocationNotFound indicates the referenced location does not exist.
	ErrLocationNotFound = errors.New("inventory: location not found")
	// ErrProductNotFound indicates the referenced product does not exist.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrInsufficientStock is returned when a movement would drive on-hand
	// negative at a location that disallows it.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrBusy is returned when the stock row lock cannot be acquired in
	// time. Callers may retry after re-reading live quantities.
	ErrBusy = errors.New("inventory: stock record busy")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("inventory: invalid input")
)
