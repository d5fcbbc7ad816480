package opname

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/samudra-erp/samudra-erp/internal/inventory"
)

// memoryStore backs both the opname repository and the stock ledger so a
// completion transaction spans both. WithTx works on a clone and swaps it in
// on commit. products is the active stock-tracked master data; it is not
// transactional state.
type memoryStore struct {
	mu       sync.Mutex
	state    storeState
	products map[int64]bool

	busyRemaining int

	nextMovementID int64
	nextOpnameID   int64
	nextLineID     int64
}

type storeState struct {
	records   map[string]inventory.StockRecord
	movements []inventory.Movement
	opnames   map[int64]Opname
	lines     map[int64][]Line
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		state: storeState{
			records: map[string]inventory.StockRecord{},
			opnames: map[int64]Opname{},
			lines:   map[int64][]Line{},
		},
		products: map[int64]bool{},
	}
}

func (s *memoryStore) addProduct(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = true
}

func (s storeState) clone() storeState {
	out := storeState{
		records:   make(map[string]inventory.StockRecord, len(s.records)),
		movements: append([]inventory.Movement(nil), s.movements...),
		opnames:   make(map[int64]Opname, len(s.opnames)),
		lines:     make(map[int64][]Line, len(s.lines)),
	}
	for k, v := range s.records {
		out.records[k] = v
	}
	for k, v := range s.opnames {
		out.opnames[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = append([]Line(nil), v...)
	}
	return out
}

func stockKey(productID, locationID int64) string {
	return fmt.Sprintf("%d:%d", productID, locationID)
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := s.state.clone()
	if err := fn(ctx, &memoryTx{store: s, state: &draft}); err != nil {
		return err
	}
	s.state = draft
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id int64) (Opname, []Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	header, ok := s.state.opnames[id]
	if !ok {
		return Opname{}, nil, ErrNotFound
	}
	return header, append([]Line(nil), s.state.lines[id]...), nil
}

func (s *memoryStore) List(ctx context.Context, filter ListFilter) ([]Opname, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Opname{}
	for _, h := range s.state.opnames {
		if filter.Status != "" && h.Status != filter.Status {
			continue
		}
		out = append(out, h)
	}
	return out, len(out), nil
}

type memoryTx struct {
	store *memoryStore
	state *storeState
}

func (tx *memoryTx) InsertHeader(ctx context.Context, header Opname) (int64, error) {
	tx.store.nextOpnameID++
	header.ID = tx.store.nextOpnameID
	tx.state.opnames[header.ID] = header
	return header.ID, nil
}

func (tx *memoryTx) InsertLines(ctx context.Context, opnameID int64, lines []Line) error {
	for _, line := range lines {
		tx.store.nextLineID++
		line.ID = tx.store.nextLineID
		line.OpnameID = opnameID
		tx.state.lines[opnameID] = append(tx.state.lines[opnameID], line)
	}
	return nil
}

func (tx *memoryTx) GetHeaderForUpdate(ctx context.Context, id int64) (Opname, error) {
	header, ok := tx.state.opnames[id]
	if !ok {
		return Opname{}, ErrNotFound
	}
	return header, nil
}

func (tx *memoryTx) GetLines(ctx context.Context, id int64) ([]Line, error) {
	return append([]Line(nil), tx.state.lines[id]...), nil
}

func (tx *memoryTx) HasLines(ctx context.Context, id int64) (bool, error) {
	return len(tx.state.lines[id]) > 0, nil
}

func (tx *memoryTx) SetStatus(ctx context.Context, id int64, from []Status, to Status) error {
	header, ok := tx.state.opnames[id]
	if !ok {
		return ErrNotFound
	}
	for _, s := range from {
		if header.Status == s {
			header.Status = to
			tx.state.opnames[id] = header
			return nil
		}
	}
	return ErrInvalidState
}

func (tx *memoryTx) UpdateLineCount(ctx context.Context, lineID int64, qtyPhysical, qtyDifference decimal.Decimal) error {
	for opnameID, lines := range tx.state.lines {
		for i, line := range lines {
			if line.ID == lineID {
				lines[i].QtyPhysical = qtyPhysical
				lines[i].QtyDifference = qtyDifference
				tx.state.lines[opnameID] = lines
				return nil
			}
		}
	}
	return ErrLineNotFound
}

func (tx *memoryTx) DeleteHeader(ctx context.Context, id int64) error {
	delete(tx.state.opnames, id)
	delete(tx.state.lines, id)
	return nil
}

// ListCountableStock mirrors the SQL left join: every registered product
// gets an entry, at zero when it has no record at the location.
func (tx *memoryTx) ListCountableStock(ctx context.Context, locationID int64) ([]CountableStock, error) {
	ids := make([]int64, 0, len(tx.store.products))
	for id := range tx.store.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := []CountableStock{}
	for _, id := range ids {
		onHand := decimal.Zero
		if rec, ok := tx.state.records[stockKey(id, locationID)]; ok {
			onHand = rec.OnHand
		}
		out = append(out, CountableStock{ProductID: id, OnHand: onHand})
	}
	return out, nil
}

func (tx *memoryTx) Stock() inventory.TxRepository {
	return &stockTx{store: tx.store, state: tx.state}
}

type stockTx struct {
	store *memoryStore
	state *storeState
}

func (tx *stockTx) GetRecordForUpdate(ctx context.Context, productID, locationID int64) (inventory.StockRecord, error) {
	if tx.store.busyRemaining > 0 {
		tx.store.busyRemaining--
		return inventory.StockRecord{}, inventory.ErrBusy
	}
	if rec, ok := tx.state.records[stockKey(productID, locationID)]; ok {
		return rec, nil
	}
	return inventory.StockRecord{}, inventory.ErrRecordNotFound
}

func (tx *stockTx) UpsertRecord(ctx context.Context, record inventory.StockRecord) error {
	tx.state.records[stockKey(record.ProductID, record.LocationID)] = record
	return nil
}

func (tx *stockTx) InsertMovement(ctx context.Context, movement inventory.Movement) (int64, error) {
	tx.store.nextMovementID++
	movement.ID = tx.store.nextMovementID
	tx.state.movements = append(tx.state.movements, movement)
	return movement.ID, nil
}

func (tx *stockTx) GetLocationPolicy(ctx context.Context, locationID int64) (inventory.LocationPolicy, error) {
	switch locationID {
	case 1:
		return inventory.LocationPolicy{LocationID: 1, Active: true}, nil
	case 2:
		return inventory.LocationPolicy{LocationID: 2, AllowNegativeStock: true, Active: true}, nil
	}
	return inventory.LocationPolicy{}, inventory.ErrLocationNotFound
}

type stockRepo struct {
	store *memoryStore
}

func (r *stockRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	draft := r.store.state.clone()
	if err := fn(ctx, &stockTx{store: r.store, state: &draft}); err != nil {
		return err
	}
	r.store.state = draft
	return nil
}

func (r *stockRepo) GetRecord(ctx context.Context, productID, locationID int64) (inventory.StockRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if rec, ok := r.store.state.records[stockKey(productID, locationID)]; ok {
		return rec, nil
	}
	return inventory.StockRecord{}, inventory.ErrRecordNotFound
}

func (r *stockRepo) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := append([]inventory.Movement(nil), r.store.state.movements...)
	return out, len(out), nil
}

type staticNumbers struct{ n int }

func (g *staticNumbers) Next(ctx context.Context, prefix string) (string, error) {
	g.n++
	return fmt.Sprintf("%s-TEST-%04d", prefix, g.n), nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture() (*memoryStore, *inventory.Service, *Service) {
	store := newMemoryStore()
	stock := inventory.NewService(&stockRepo{store: store}, nil, nil)
	svc := NewService(store, stock, &staticNumbers{}, nil, nil, ServiceConfig{CompleteRetries: 3})
	svc.sleep = func(time.Duration) {}
	return store, stock, svc
}

func seedStock(t *testing.T, store *memoryStore, stock *inventory.Service, productID, locationID int64, qty string) {
	t.Helper()
	store.addProduct(productID)
	_, err := stock.AdjustStock(context.Background(), inventory.AdjustInput{
		ProductID:  productID,
		LocationID: locationID,
		Delta:      dec(qty),
		Kind:       inventory.KindPurchaseReceipt,
	})
	require.NoError(t, err)
}

func TestPopulateFreezesBookQuantities(t *testing.T) {
	store, stock, svc := newFixture()
	ctx := context.Background()
	seedStock(t, store, stock, 1, 1, "100")
	seedStock(t, store, stock, 2, 1, "30")
	seedStock(t, store, stock, 3, 2, "99") // stocked elsewhere, counts as zero here

	header, err := svc.Create(ctx, CreateInput{LocationID: 1})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, header.Status)
	require.NotEmpty(t, header.Number)

	lines, err := svc.Populate(ctx, header.ID)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	byProduct := map[int64]Line{}
	for _, line := range lines {
		require.True(t, line.QtyPhysical.Equal(line.QtySystem))
		require.True(t, line.QtyDifference.IsZero())
		byProduct[line.ProductID] = line
	}
	require.True(t, byProduct[1].QtySystem.Equal(dec("100")))
	require.True(t, byProduct[2].QtySystem.Equal(dec("30")))
	require.True(t, byProduct[3].QtySystem.IsZero())
}

// A product with no stock record at the location still belongs on the count
// sheet at zero; otherwise a physical find of it could never be recorded.
func TestPopulateCarriesRecordlessProductAtZero(t *testing.T) {
	store, stock, svc := newFixture()
	ctx := context.Background()
	seedStock(t, store, stock, 1, 1, "10")
	store.addProduct(7)

	header, err := svc.Create(ctx, CreateInput{LocationID: 1})
	require.NoError(t, err)
	lines, err := svc.Populate(ctx, header.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	var found Line
	for _, line := range lines {
		if line.ProductID == 7 {
			found = line
		}
	}
	require.Equal(t, int64(7), found.ProductID)
	require.True(t, found.QtySystem.IsZero())
	require.True(t, found.QtyPhysical.IsZero())

	err = svc.RecordCounts(ctx, header.ID, []CountInput{{LineID: found.ID, QtyPhysical: dec("4")}})
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, header.ID, 0))

	record, err := stock.GetStock(ctx, 7, 1)
	require.NoError(t, err)
	require.True(t, record.OnHand.Equal(dec("4")))
}

func TestRepopulateRejected(t *testing.T) {
	store, stock, svc := newFixture()
	ctx := context.Background()
	seedStock(t, store, stock, 1, 1, "10")

	header, err := svc.Create(ctx, CreateInput{LocationID: 1})
	require.NoError(t, err)
	_, err = svc.Populate(ctx, header.ID)
	require.NoError(t, err)

	_, err = svc.Populate(ctx, header.ID)
	require.ErrorIs(t, err, ErrAlreadyPopulated)
}

func TestRecordCountsMovesDraftToInProgress(t *testing.T) {
	store, stock, svc := newFixture()
	ctx := context.Background()
	seedStock(t, store, stock, 1, 1, "100")

	header, err := svc.Create(ctx, CreateInput{LocationID: 1})
	require.NoError(t, err)
	lines, err := svc.Populate(ctx, header.ID)
	require.NoError(t, err)

	err = svc.RecordCounts(ctx, header.ID, []CountInput{{LineID: lines[0].ID, QtyPhysical: dec("95")}})
	require.NoError(t, err)

	current, got, err := svc.Get(ctx, header.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, current.Status)
	require.True(t, got[0].QtyPhysical.Equal(dec("95")))
	require.True(t, got[0].QtyDifference.Equal(dec("-5")))

	// Populate is closed once counting started.
	_, err = svc.Populate(ctx, header.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRecordCountsValidation(t *testing.T) {
	store, stock, svc := newFixture()
	ctx := context.Background()
	seedStock(t, store, stock, 1, 1, "10")

	header, err := svc.Create(ctx, CreateInput{LocationID: 1})
	require.NoError(t, err)
	lines, err := svc.Populate(ctx, header.ID)
	require.NoError(t, err)

	require.ErrorIs(t, svc.RecordCounts(ctx, header.ID, nil), ErrValidation)
	require.ErrorIs(t, svc.RecordCounts(ctx, header.ID,
		[]CountInput{{LineID: lines[0].ID, QtyPhysical: dec("-1")}}), ErrValidation)
	require.ErrorIs(t, svc.RecordCounts(ctx, header.ID,
		[]CountInput{{LineID: 9999, QtyPhysical: dec("1")}}), ErrLineNotFound)
}

// Completion posts the frozen count sheet difference, not the gap to the
// live book quantity. Stock that moved after the sheet was populated keeps
// its movements; the count difference lands on top of them.
func TestCompletePostsSnapshotDelta(t *testing.T) {
	store, stock, svc := newFixture()
	ctx := context.Background()
	seedStock(t, store, stock, 1, 1, "100")

	header, err := svc.Create(ctx, CreateInput{LocationID: 1})
	require.NoError(t, err)
	lines, err := svc.Populate(ctx, header.ID)
	require.NoError(t, err)

	err = svc.RecordCounts(ctx, header.ID, []CountInput{{LineID: lines[0].ID, QtyPhysical: dec("95")}})
	require.NoError(t, err)

	// A delivery happens between counting and posting.
	_, err = stock.AdjustStock(ctx, inventory.AdjustInput{
		ProductID: 1, LocationID: 1, Delta: dec("-10"), Kind: inventory.KindSalesDelivery,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Complete(ctx, header.ID, 42))

	record, err := stock.GetStock(ctx, 1, 1)
	require.NoError(t, err)
	// 100 - 10 - 5: the stored difference is posted as-is, the book is
	// not forced to the counted 95.
	require.True(t, record.OnHand.Equal(dec("85")), "got %s", record.OnHand)

	last := store.state.movements[len(store.state.movements)-1]
	require.True(t, last.Quantity.Equal(dec("-5")))
	require.Equal(t, inventory.KindOpname, last.Kind)
	require.Equal(t, inventory.RefOpname, last.RefType)
	require.Equal(t, header.ID, last.RefID)

	current, _, err := svc.Get(ctx, header.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, current.Status)
}

func TestCompleteUncountedSheetPostsNothing(t *testing.T) {
	store, stock, svc := newFixture()
	ctx := context.Background()
	seedStock(t, store, stock, 1, 1, "50")

	header, err := svc.Create(ctx, CreateInput{LocationID: 1})
	require.NoError(t, err)
	_, err = svc.Populate(ctx, header.ID)
	require.NoError(t, err)

	// Completing straight from draft: every difference is zero.
	require.NoError(t, svc.Complete(ctx, header.ID, 0))
	require.Len(t, store.state.movements, 1) // only the seed receipt

	current, _, err := svc.Get(ctx, header.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, current.Status)
}

func TestDoubleCompleteRejected(t *testing.T) {
	store, stock, svc := newFixture()
	ctx := context.Background()
	seedStock(t, store, stock, 1, 1, "10")

	header, err := svc.Create(ctx, CreateInput{LocationID: 1})
	require.NoError(t, err)
	_, err = svc.Populate(ctx, header.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Complete(ctx, header.ID, 0))
	require.ErrorIs(t, svc.Complete(ctx, header.ID, 0), ErrInvalidState)
}

func TestCompleteRetriesOnBusy(t *testing.T) {
	store, stock, svc := newFixture()
	ctx := context.Background()
	seedStock(t, store, stock, 1, 1, "20")

	header, err := svc.Create(ctx, CreateInput{LocationID: 1})
	require.NoError(t, err)
	lines, err := svc.Populate(ctx, header.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RecordCounts(ctx, header.ID, []CountInput{{LineID: lines[0].ID, QtyPhysical: dec("18")}}))

	store.busyRemaining = 2
	require.NoError(t, svc.Complete(ctx, header.ID, 0))

	record, err := stock.GetStock(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, record.OnHand.Equal(dec("18")))
}

func TestCompleteBusyExhaustsRetriesAtomically(t *testing.T) {
	store, stock, svc := newFixture()
	ctx := context.Background()
	seedStock(t, store, stock, 1, 1, "20")

	header, err := svc.Create(ctx, CreateInput{LocationID: 1})
	require.NoError(t, err)
	lines, err := svc.Populate(ctx, header.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RecordCounts(ctx, header.ID, []CountInput{{LineID: lines[0].ID, QtyPhysical: dec("18")}}))

	store.busyRemaining = 100
	require.ErrorIs(t, svc.Complete(ctx, header.ID, 0), inventory.ErrBusy)

	current, _, err := svc.Get(ctx, header.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, current.Status)
	require.Len(t, store.state.movements, 1)
}

func TestCancelAndDelete(t *testing.T) {
	store, stock, svc := newFixture()
	ctx := context.Background()
	seedStock(t, store, stock, 1, 1, "10")

	header, err := svc.Create(ctx, CreateInput{LocationID: 1})
	require.NoError(t, err)
	_, err = svc.Populate(ctx, header.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, header.ID, 0))

	require.ErrorIs(t, svc.Cancel(ctx, header.ID), ErrInvalidState)
	require.ErrorIs(t, svc.Delete(ctx, header.ID), ErrInvalidState)

	second, err := svc.Create(ctx, CreateInput{LocationID: 1})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, second.ID))
	// A cancelled count session never reached the ledger, it can go.
	require.NoError(t, svc.Delete(ctx, second.ID))
	_, _, err = svc.Get(ctx, second.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	_, _, svc := newFixture()

	_, err := svc.Create(context.Background(), CreateInput{})
	require.ErrorIs(t, err, ErrValidation)
}
