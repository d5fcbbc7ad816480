package inventory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu        sync.Mutex
	records   map[string]StockRecord
	movements []Movement
	policies  map[int64]LocationPolicy
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		records: make(map[string]StockRecord),
		policies: map[int64]LocationPolicy{
			1: {LocationID: 1, AllowNegativeStock: false, Active: true},
			2: {LocationID: 2, AllowNegativeStock: true, Active: true},
		},
	}
}

func recordKey(productID, locationID int64) string {
	return fmt.Sprintf("%d:%d", productID, locationID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// The mutex stands in for the per-row lock: mutations serialize the
	// same way FOR UPDATE serializes them against the real store.
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetRecord(ctx context.Context, productID, locationID int64) (StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[recordKey(productID, locationID)]; ok {
		return rec, nil
	}
	return StockRecord{}, ErrRecordNotFound
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Movement, len(r.movements))
	copy(result, r.movements)
	return result, len(result), nil
}

func (tx *memoryTx) GetRecordForUpdate(ctx context.Context, productID, locationID int64) (StockRecord, error) {
	if rec, ok := tx.repo.records[recordKey(productID, locationID)]; ok {
		return rec, nil
	}
	return StockRecord{}, ErrRecordNotFound
}

func (tx *memoryTx) UpsertRecord(ctx context.Context, record StockRecord) error {
	tx.repo.records[recordKey(record.ProductID, record.LocationID)] = record
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	tx.repo.nextID++
	movement.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, movement)
	return movement.ID, nil
}

func (tx *memoryTx) GetLocationPolicy(ctx context.Context, locationID int64) (LocationPolicy, error) {
	if policy, ok := tx.repo.policies[locationID]; ok {
		return policy, nil
	}
	return LocationPolicy{}, ErrLocationNotFound
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedgerEqualityInvariant(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	deltas := []string{"10", "-4", "2.5", "-0.5"}
	for _, d := range deltas {
		_, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 1, LocationID: 1, Delta: dec(d), Kind: KindAdjustment})
		require.NoError(t, err)
	}

	record, err := svc.GetStock(ctx, 1, 1)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, m := range repo.movements {
		sum = sum.Add(m.Quantity)
	}
	require.True(t, sum.Equal(record.OnHand), "sum of movements %s != on hand %s", sum, record.OnHand)
	require.True(t, record.OnHand.Equal(dec("8")))
}

func TestZeroDeltaIsNoOp(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 1, LocationID: 1, Delta: dec("7"), Kind: KindPurchaseReceipt})
	require.NoError(t, err)

	record, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 1, LocationID: 1, Delta: decimal.Zero, Kind: KindAdjustment})
	require.NoError(t, err)
	require.True(t, record.OnHand.Equal(dec("7")))
	require.Len(t, repo.movements, 1)
}

func TestZeroDeltaOnMissingRecord(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	record, err := svc.AdjustStock(context.Background(), AdjustInput{ProductID: 9, LocationID: 1, Delta: decimal.Zero, Kind: KindAdjustment})
	require.NoError(t, err)
	require.True(t, record.OnHand.IsZero())
	require.Empty(t, repo.movements)
}

func TestNegativeStockGuard(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 1, LocationID: 1, Delta: dec("-1"), Kind: KindSalesDelivery})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Empty(t, repo.movements)

	// Location 2 allows negative stock.
	record, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 1, LocationID: 2, Delta: dec("-1"), Kind: KindSalesDelivery})
	require.NoError(t, err)
	require.True(t, record.OnHand.Equal(dec("-1")))
}

func TestWeightedAverageCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	cost1 := dec("100000")
	record, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 1, LocationID: 1, Delta: dec("10"), Cost: &cost1, Kind: KindPurchaseReceipt})
	require.NoError(t, err)
	require.True(t, record.AvgCost.Equal(dec("100000")))

	cost2 := dec("120000")
	record, err = svc.AdjustStock(ctx, AdjustInput{ProductID: 1, LocationID: 1, Delta: dec("5"), Cost: &cost2, Kind: KindPurchaseReceipt})
	require.NoError(t, err)
	require.True(t, record.AvgCost.Equal(dec("106666.666667")), "got %s", record.AvgCost)

	// Corrective movements carry no cost and leave the average untouched.
	record, err = svc.AdjustStock(ctx, AdjustInput{ProductID: 1, LocationID: 1, Delta: dec("-8"), Kind: KindAdjustment})
	require.NoError(t, err)
	require.True(t, record.AvgCost.Equal(dec("106666.666667")))
	require.True(t, record.OnHand.Equal(dec("7")))
}

func TestConcurrentAdjustmentsSerialize(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 1, LocationID: 1, Delta: dec("10"), Kind: KindPurchaseReceipt})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	deltas := []string{"5", "-3"}
	for i, d := range deltas {
		wg.Add(1)
		go func(i int, d string) {
			defer wg.Done()
			_, errs[i] = svc.AdjustStock(ctx, AdjustInput{ProductID: 1, LocationID: 1, Delta: dec(d), Kind: KindAdjustment})
		}(i, d)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	record, err := svc.GetStock(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, record.OnHand.Equal(dec("12")), "got %s", record.OnHand)
	require.Len(t, repo.movements, 3)
}

func TestUnknownLocationRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	_, err := svc.AdjustStock(context.Background(), AdjustInput{ProductID: 1, LocationID: 99, Delta: dec("1"), Kind: KindPurchaseReceipt})
	require.ErrorIs(t, err, ErrLocationNotFound)
}

func TestInvalidInputRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 0, LocationID: 1, Delta: dec("1"), Kind: KindAdjustment})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.AdjustStock(ctx, AdjustInput{ProductID: 1, LocationID: 1, Delta: dec("1"), Kind: MovementKind("BOGUS")})
	require.ErrorIs(t, err, ErrValidation)

	negCost := dec("-5")
	_, err = svc.AdjustStock(ctx, AdjustInput{ProductID: 1, LocationID: 1, Delta: dec("1"), Cost: &negCost, Kind: KindPurchaseReceipt})
	require.ErrorIs(t, err, ErrValidation)
}
