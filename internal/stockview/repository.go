package stockview

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the stock view from PostgreSQL. Every query is read-only.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// onOrderExpr sums the undelivered remainder of open purchase order lines
// for the product at the location.
const onOrderExpr = `COALESCE((
	SELECT SUM(pol.qty_ordered - pol.qty_received)
	FROM purchase_order_lines pol
	JOIN purchase_orders po ON po.id = pol.purchase_order_id
	WHERE pol.product_id = sr.product_id
	  AND po.location_id = sr.location_id
	  AND po.status IN ('APPROVED','ORDERED','PARTIALLY_RECEIVED')
), 0)`

const detailColumns = `sr.product_id, p.sku, p.name, p.unit,
	sr.location_id, l.name,
	sr.on_hand, sr.reserved, sr.incoming, sr.outgoing,
	sr.on_hand - sr.reserved, ` + onOrderExpr + `, sr.avg_cost, sr.updated_at`

// Detail returns the view for one product/location pair.
func (r *Repository) Detail(ctx context.Context, productID, locationID int64) (StockDetail, error) {
	var d StockDetail
	err := r.pool.QueryRow(ctx, `SELECT `+detailColumns+`
FROM stock_records sr
JOIN products p ON p.id = sr.product_id
JOIN locations l ON l.id = sr.location_id
WHERE sr.product_id=$1 AND sr.location_id=$2`, productID, locationID).
		Scan(&d.ProductID, &d.SKU, &d.ProductName, &d.Unit,
			&d.LocationID, &d.LocationName,
			&d.OnHand, &d.Reserved, &d.Incoming, &d.Outgoing,
			&d.Available, &d.OnOrder, &d.AvgCost, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockDetail{}, ErrNotFound
		}
		return StockDetail{}, err
	}
	return d, nil
}

// List returns a filtered page of the view plus the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]StockDetail, int, error) {
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	where := `($1=0 OR sr.product_id=$1)
	AND ($2=0 OR sr.location_id=$2)
	AND ($3=0 OR p.category_id=$3)
	AND ($4='' OR p.name ILIKE '%'||$4||'%' OR p.sku ILIKE '%'||$4||'%')`
	args := []any{filter.ProductID, filter.LocationID, filter.CategoryID, filter.Search}

	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*)
FROM stock_records sr
JOIN products p ON p.id = sr.product_id
WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+detailColumns+`
FROM stock_records sr
JOIN products p ON p.id = sr.product_id
JOIN locations l ON l.id = sr.location_id
WHERE `+where+`
ORDER BY p.sku, sr.location_id LIMIT $5 OFFSET $6`, append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	details := []StockDetail{}
	for rows.Next() {
		var d StockDetail
		if err := rows.Scan(&d.ProductID, &d.SKU, &d.ProductName, &d.Unit,
			&d.LocationID, &d.LocationName,
			&d.OnHand, &d.Reserved, &d.Incoming, &d.Outgoing,
			&d.Available, &d.OnOrder, &d.AvgCost, &d.UpdatedAt); err != nil {
			return nil, 0, err
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return details, total, nil
}
