package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// memoryStockRepo mirrors the guarded semantics of the SQL repository: the
// availability check and the decrement happen under one lock, like one
// statement.
type memoryStockRepo struct {
	mu     sync.Mutex
	stocks map[int64]*int
	names  map[int64]string
}

func newMemoryStockRepo() *memoryStockRepo {
	return &memoryStockRepo{stocks: make(map[int64]*int), names: make(map[int64]string)}
}

func (r *memoryStockRepo) add(id int64, name string, stock *int) {
	r.stocks[id] = stock
	r.names[id] = name
}

func intPtr(v int) *int { return &v }

func (r *memoryStockRepo) DecrementIfAvailable(ctx context.Context, productID int64, qty int) (StockChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stock, ok := r.stocks[productID]
	if !ok {
		return StockChange{}, fmt.Errorf("%w: product %d", ErrProductNotFound, productID)
	}
	if stock == nil {
		return StockChange{ProductID: productID, Name: r.names[productID], Tracked: false}, nil
	}
	if *stock < qty {
		return StockChange{}, &InsufficientStockError{
			ProductID: productID,
			Name:      r.names[productID],
			Available: *stock,
			Requested: qty,
		}
	}
	before := *stock
	*stock -= qty
	return StockChange{ProductID: productID, Name: r.names[productID], Tracked: true, Before: before, After: *stock}, nil
}

func (r *memoryStockRepo) Increment(ctx context.Context, productID int64, qty int) (StockChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stock, ok := r.stocks[productID]
	if !ok {
		return StockChange{}, fmt.Errorf("%w: product %d", ErrProductNotFound, productID)
	}
	if stock == nil {
		return StockChange{ProductID: productID, Name: r.names[productID], Tracked: false}, nil
	}
	before := *stock
	*stock += qty
	return StockChange{ProductID: productID, Name: r.names[productID], Tracked: true, Before: before, After: *stock}, nil
}

func (r *memoryStockRepo) level(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.stocks[id]
}

type capturedAlerts struct {
	changes [][]StockChange
}

func (c *capturedAlerts) NotifyLowStock(ctx context.Context, changes []StockChange) {
	c.changes = append(c.changes, changes)
}

func newTestLedger(repo StockRepository) *Ledger {
	return NewLedger(repo, nil, nil, nil, nil, LedgerConfig{})
}

func TestReduceThenRestoreLeavesStockUnchanged(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.add(1, "Oak Chair", intPtr(25))
	repo.add(2, "Pine Table", intPtr(40))
	ledger := newTestLedger(repo)

	items := []Item{{ProductID: 1, Quantity: 5}, {ProductID: 2, Quantity: 12}}
	_, err := ledger.Reduce(context.Background(), items, false)
	require.NoError(t, err)
	require.Equal(t, 20, repo.level(1))
	require.Equal(t, 28, repo.level(2))

	_, err = ledger.Restore(context.Background(), items)
	require.NoError(t, err)
	require.Equal(t, 25, repo.level(1))
	require.Equal(t, 40, repo.level(2))
}

func TestReduceStrictRollsBackEarlierItems(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.add(1, "Oak Chair", intPtr(10))
	repo.add(2, "Pine Table", intPtr(3))
	ledger := newTestLedger(repo)

	_, err := ledger.Reduce(context.Background(), []Item{
		{ProductID: 1, Quantity: 4},
		{ProductID: 2, Quantity: 5},
	}, false)

	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Equal(t, int64(2), short.ProductID)
	require.Equal(t, "Pine Table", short.Name)
	require.Equal(t, 3, short.Available)
	require.Equal(t, 5, short.Requested)

	// The first item's decrement was undone.
	require.Equal(t, 10, repo.level(1))
	require.Equal(t, 3, repo.level(2))
}

func TestReducePartialSkipsShortItems(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.add(1, "Oak Chair", intPtr(10))
	repo.add(2, "Pine Table", intPtr(3))
	ledger := newTestLedger(repo)

	result, err := ledger.Reduce(context.Background(), []Item{
		{ProductID: 1, Quantity: 4},
		{ProductID: 2, Quantity: 5},
	}, true)
	require.NoError(t, err)
	require.Len(t, result.Affected, 1)
	require.Equal(t, int64(1), result.Affected[0].ProductID)
	require.Equal(t, []Item{{ProductID: 2, Quantity: 5}}, result.Skipped)
	require.Equal(t, 6, repo.level(1))
	require.Equal(t, 3, repo.level(2))
}

func TestReduceUntrackedProductIsNoop(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.add(1, "Custom Service", nil)
	repo.add(2, "Pine Table", intPtr(8))
	ledger := newTestLedger(repo)

	result, err := ledger.Reduce(context.Background(), []Item{
		{ProductID: 1, Quantity: 100},
		{ProductID: 2, Quantity: 2},
	}, false)
	require.NoError(t, err)
	require.Len(t, result.Affected, 1)
	require.Equal(t, int64(2), result.Affected[0].ProductID)
}

func TestReduceReportsLowStock(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.add(1, "Oak Chair", intPtr(12))
	alerts := &capturedAlerts{}
	ledger := NewLedger(repo, nil, alerts, nil, nil, LedgerConfig{LowStockThreshold: 10})

	result, err := ledger.Reduce(context.Background(), []Item{{ProductID: 1, Quantity: 4}}, false)
	require.NoError(t, err)
	require.Len(t, result.LowStock, 1)
	require.Equal(t, 8, result.LowStock[0].After)
	require.Len(t, alerts.changes, 1)
}

func TestReduceRejectsInvalidQuantity(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.add(1, "Oak Chair", intPtr(12))
	ledger := newTestLedger(repo)

	_, err := ledger.Reduce(context.Background(), []Item{{ProductID: 1, Quantity: 0}}, false)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = ledger.Reduce(context.Background(), nil, false)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestAdjustAppliesSignedDeltas(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.add(1, "Oak Chair", intPtr(10))
	repo.add(2, "Pine Table", intPtr(10))
	ledger := newTestLedger(repo)

	oldItems := []Item{{ProductID: 1, Quantity: 4}, {ProductID: 2, Quantity: 6}}
	newItems := []Item{{ProductID: 1, Quantity: 7}, {ProductID: 2, Quantity: 2}}

	_, err := ledger.Adjust(context.Background(), oldItems, newItems)
	require.NoError(t, err)
	require.Equal(t, 7, repo.level(1), "net +3 taken")
	require.Equal(t, 14, repo.level(2), "net 4 given back")
}

func TestAdjustRollsBackOnGuardFailure(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.add(1, "Oak Chair", intPtr(10))
	repo.add(2, "Pine Table", intPtr(1))
	ledger := newTestLedger(repo)

	// Product 2 needs 5 more than before but only 1 is available.
	_, err := ledger.Adjust(context.Background(),
		[]Item{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}},
		[]Item{{ProductID: 1, Quantity: 5}, {ProductID: 2, Quantity: 6}},
	)
	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Equal(t, int64(2), short.ProductID)
	require.Equal(t, 10, repo.level(1), "product 1 delta undone")
	require.Equal(t, 1, repo.level(2))
}

func TestConcurrentReduceNeverOversells(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.add(1, "Oak Chair", intPtr(7))
	ledger := newTestLedger(repo)

	const callers = 10
	var succeeded, failed int64
	var mu sync.Mutex

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := ledger.Reduce(context.Background(), []Item{{ProductID: 1, Quantity: 1}}, false)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return nil
			}
			var short *InsufficientStockError
			if !errors.As(err, &short) {
				return err
			}
			failed++
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.EqualValues(t, 7, succeeded)
	require.EqualValues(t, 3, failed)
	require.Equal(t, 0, repo.level(1))
}
