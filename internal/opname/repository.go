package opname

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/samudra-erp/samudra-erp/internal/inventory"
	"github.com/samudra-erp/samudra-erp/internal/platform/db"
)

// Repository persists opnames in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction with the
// stock lock timeout applied.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("opname repository not initialised")
	}
	return inventory.MapContentionError(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := inventory.SetLockTimeout(ctx, tx, r.lockTimeout); err != nil {
			return err
		}
		return fn(ctx, &txRepository{tx: tx})
	}))
}

// Get fetches header and count sheet.
func (r *Repository) Get(ctx context.Context, id int64) (Opname, []Line, error) {
	var header Opname
	err := r.pool.QueryRow(ctx, `SELECT id, number, location_id, date, note, status, COALESCE(created_by,0), created_at
FROM stock_opnames WHERE id=$1`, id).
		Scan(&header.ID, &header.Number, &header.LocationID, &header.Date, &header.Note, &header.Status, &header.CreatedBy, &header.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Opname{}, nil, ErrNotFound
		}
		return Opname{}, nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, opname_id, product_id, qty_system, qty_physical, qty_difference
FROM stock_opname_lines WHERE opname_id=$1 ORDER BY id`, id)
	if err != nil {
		return Opname{}, nil, err
	}
	defer rows.Close()

	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OpnameID, &line.ProductID, &line.QtySystem, &line.QtyPhysical, &line.QtyDifference); err != nil {
			return Opname{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return Opname{}, nil, err
	}
	return header, lines, nil
}

// List returns a page of headers plus the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Opname, int, error) {
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args := []any{filter.LocationID, string(filter.Status)}
	where := `($1=0 OR location_id=$1) AND ($2='' OR status=$2)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_opnames WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, number, location_id, date, note, status, COALESCE(created_by,0), created_at
FROM stock_opnames WHERE `+where+`
ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`, append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	headers := []Opname{}
	for rows.Next() {
		var h Opname
		if err := rows.Scan(&h.ID, &h.Number, &h.LocationID, &h.Date, &h.Note, &h.Status, &h.CreatedBy, &h.CreatedAt); err != nil {
			return nil, 0, err
		}
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return headers, total, nil
}

func (r *txRepository) InsertHeader(ctx context.Context, header Opname) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_opnames (number, location_id, date, note, status, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		header.Number, header.LocationID, header.Date, header.Note, string(header.Status), nullInt(header.CreatedBy), header.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLines(ctx context.Context, opnameID int64, lines []Line) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_opname_lines (opname_id, product_id, qty_system, qty_physical, qty_difference)
VALUES ($1,$2,$3,$4,$5)`, opnameID, line.ProductID, line.QtySystem, line.QtyPhysical, line.QtyDifference); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetHeaderForUpdate(ctx context.Context, id int64) (Opname, error) {
	var header Opname
	err := r.tx.QueryRow(ctx, `SELECT id, number, location_id, date, note, status, COALESCE(created_by,0), created_at
FROM stock_opnames WHERE id=$1 FOR UPDATE`, id).
		Scan(&header.ID, &header.Number, &header.LocationID, &header.Date, &header.Note, &header.Status, &header.CreatedBy, &header.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Opname{}, ErrNotFound
		}
		return Opname{}, err
	}
	return header, nil
}

func (r *txRepository) GetLines(ctx context.Context, id int64) ([]Line, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, opname_id, product_id, qty_system, qty_physical, qty_difference
FROM stock_opname_lines WHERE opname_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OpnameID, &line.ProductID, &line.QtySystem, &line.QtyPhysical, &line.QtyDifference); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepository) HasLines(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_opname_lines WHERE opname_id=$1)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepository) SetStatus(ctx context.Context, id int64, from []Status, to Status) error {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	tag, err := r.tx.Exec(ctx, `UPDATE stock_opnames SET status=$1 WHERE id=$2 AND status=ANY($3)`, string(to), id, states)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *txRepository) UpdateLineCount(ctx context.Context, lineID int64, qtyPhysical, qtyDifference decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_opname_lines SET qty_physical=$1, qty_difference=$2 WHERE id=$3`, qtyPhysical, qtyDifference, lineID)
	return err
}

func (r *txRepository) DeleteHeader(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM stock_opname_lines WHERE opname_id=$1`, id); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_opnames WHERE id=$1`, id)
	return err
}

// ListCountableStock returns every active stock-tracked product with its
// book quantity at the location. Products without a stock record count as
// zero so a physical find can still be recorded.
func (r *txRepository) ListCountableStock(ctx context.Context, locationID int64) ([]CountableStock, error) {
	rows, err := r.tx.Query(ctx, `SELECT p.id, COALESCE(sr.on_hand, 0)
FROM products p
LEFT JOIN stock_records sr ON sr.product_id = p.id AND sr.location_id = $1
WHERE p.active AND p.track_stock
ORDER BY p.id`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []CountableStock{}
	for rows.Next() {
		var item CountableStock
		if err := rows.Scan(&item.ProductID, &item.OnHand); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) Stock() inventory.TxRepository {
	return inventory.NewTxRepository(r.tx)
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
