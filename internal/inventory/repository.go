package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samudra-erp/samudra-erp/internal/platform/db"
)

// Repository persists stock records and movements in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository. lockTimeout bounds FOR UPDATE waits;
// zero disables the bound.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds ledger operations to an existing transaction, used
// by the workflow repositories so their completion commits atomically with
// the ledger writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// SetLockTimeout bounds row lock waits within the transaction so contended
// mutations fail fast with ErrBusy instead of blocking indefinitely.
func SetLockTimeout(ctx context.Context, tx pgx.Tx, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	_, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds()))
	return err
}

// WithTx executes the callback inside a repeatable-read transaction with the
// lock timeout applied.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return MapContentionError(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := SetLockTimeout(ctx, tx, r.lockTimeout); err != nil {
			return err
		}
		return fn(ctx, &txRepository{tx: tx})
	}))
}

// GetRecord reads one stock record without locking it.
func (r *Repository) GetRecord(ctx context.Context, productID, locationID int64) (StockRecord, error) {
	return scanRecord(r.pool.QueryRow(ctx, `SELECT product_id, location_id, on_hand, reserved, incoming, outgoing, avg_cost, updated_at
FROM stock_records WHERE product_id=$1 AND location_id=$2`, productID, locationID))
}

// ListMovements returns a page of journal entries plus the total count.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args := []any{filter.ProductID, filter.LocationID, string(filter.Kind), nullTime(filter.From), nullTime(filter.To)}
	where := `($1=0 OR product_id=$1) AND ($2=0 OR location_id=$2) AND ($3='' OR kind=$3)
AND created_at BETWEEN COALESCE($4, '-infinity') AND COALESCE($5, 'infinity')`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, product_id, location_id, quantity, kind, ref_type, COALESCE(ref_id,0), note, COALESCE(created_by,0), created_at
FROM stock_movements WHERE `+where+`
ORDER BY created_at DESC, id DESC LIMIT $6 OFFSET $7`, append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.LocationID, &m.Quantity, &m.Kind, &m.RefType, &m.RefID, &m.Note, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, productID, locationID int64) (StockRecord, error) {
	record, err := scanRecord(r.tx.QueryRow(ctx, `SELECT product_id, location_id, on_hand, reserved, incoming, outgoing, avg_cost, updated_at
FROM stock_records WHERE product_id=$1 AND location_id=$2 FOR UPDATE`, productID, locationID))
	if err != nil {
		return StockRecord{}, MapContentionError(err)
	}
	return record, nil
}

func (r *txRepository) UpsertRecord(ctx context.Context, record StockRecord) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_records (product_id, location_id, on_hand, reserved, incoming, outgoing, avg_cost, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
ON CONFLICT (product_id, location_id) DO UPDATE SET on_hand=EXCLUDED.on_hand, avg_cost=EXCLUDED.avg_cost, updated_at=NOW()`,
		record.ProductID, record.LocationID, record.OnHand, record.Reserved, record.Incoming, record.Outgoing, record.AvgCost)
	return mapFKError(err)
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, location_id, quantity, kind, ref_type, ref_id, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		movement.ProductID, movement.LocationID, movement.Quantity, string(movement.Kind), string(movement.RefType),
		nullInt(movement.RefID), movement.Note, nullInt(movement.CreatedBy), movement.CreatedAt).Scan(&id)
	if err != nil {
		return 0, mapFKError(err)
	}
	return id, nil
}

func (r *txRepository) GetLocationPolicy(ctx context.Context, locationID int64) (LocationPolicy, error) {
	var policy LocationPolicy
	err := r.tx.QueryRow(ctx, `SELECT id, allow_negative_stock, active FROM locations WHERE id=$1`, locationID).
		Scan(&policy.LocationID, &policy.AllowNegativeStock, &policy.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LocationPolicy{}, ErrLocationNotFound
		}
		return LocationPolicy{}, err
	}
	return policy, nil
}

func scanRecord(row pgx.Row) (StockRecord, error) {
	var rec StockRecord
	err := row.Scan(&rec.ProductID, &rec.LocationID, &rec.OnHand, &rec.Reserved, &rec.Incoming, &rec.Outgoing, &rec.AvgCost, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, ErrRecordNotFound
		}
		return StockRecord{}, err
	}
	return rec, nil
}

// MapContentionError converts a lock_timeout expiry (SQLSTATE 55P03) or a
// repeatable-read serialization failure (40001) into ErrBusy so callers can
// retry. Serialization failures can surface at commit, so the transaction
// wrappers run their whole result through this as well.
func MapContentionError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "55P03" || pgErr.Code == "40001") {
		return ErrBusy
	}
	return err
}

// mapFKError converts foreign key violations into the matching not-found error.
func mapFKError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		name := strings.ToLower(pgErr.ConstraintName)
		switch {
		case strings.Contains(name, "product"):
			return ErrProductNotFound
		case strings.Contains(name, "location"):
			return ErrLocationNotFound
		}
	}
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
