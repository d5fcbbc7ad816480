package stockview

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// StockDetail is the read model for one product at one location. OnOrder is
// derived from open purchase order lines; Available is on hand minus
// reserved. The view never mutates the ledger.
type StockDetail struct {
	ProductID    int64           `json:"product_id"`
	SKU          string          `json:"sku"`
	ProductName  string          `json:"product_name"`
	Unit         string          `json:"unit"`
	LocationID   int64           `json:"location_id"`
	LocationName string          `json:"location_name"`
	OnHand       decimal.Decimal `json:"on_hand"`
	Reserved     decimal.Decimal `json:"reserved"`
	Incoming     decimal.Decimal `json:"incoming"`
	Outgoing     decimal.Decimal `json:"outgoing"`
	Available    decimal.Decimal `json:"available"`
	OnOrder      decimal.Decimal `json:"on_order"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ListFilter narrows the stock listing.
type ListFilter struct {
	ProductID  int64
	LocationID int64
	CategoryID int64
	Search     string
	Page       int
	PerPage    int
}

// ErrNotFound indicates no stock record exists for the pair.
var ErrNotFound = errors.New("stockview: not found")

// ErrValidation indicates malformed query input.
var ErrValidation = errors.New("stockview: validation failed")
