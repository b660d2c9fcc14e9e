package returns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-oms/meridian-oms/internal/inventory"
	"github.com/meridian-oms/meridian-oms/internal/orders"
	"github.com/meridian-oms/meridian-oms/internal/payments"
	"github.com/meridian-oms/meridian-oms/internal/sequence"
	"github.com/meridian-oms/meridian-oms/internal/shared"
)

type stockRepo struct {
	mu    sync.Mutex
	stock map[int64]int
	names map[int64]string
}

func newStockRepo() *stockRepo {
	return &stockRepo{stock: make(map[int64]int), names: make(map[int64]string)}
}

func (r *stockRepo) DecrementIfAvailable(_ context.Context, id int64, qty int) (inventory.StockChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	have, ok := r.stock[id]
	if !ok {
		return inventory.StockChange{}, inventory.ErrProductNotFound
	}
	if have < qty {
		return inventory.StockChange{}, &inventory.InsufficientStockError{
			ProductID: id, Name: r.names[id], Available: have, Requested: qty,
		}
	}
	r.stock[id] = have - qty
	return inventory.StockChange{ProductID: id, Name: r.names[id], Tracked: true, Before: have, After: have - qty}, nil
}

func (r *stockRepo) Increment(_ context.Context, id int64, qty int) (inventory.StockChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	have, ok := r.stock[id]
	if !ok {
		return inventory.StockChange{}, inventory.ErrProductNotFound
	}
	r.stock[id] = have + qty
	return inventory.StockChange{ProductID: id, Name: r.names[id], Tracked: true, Before: have, After: have + qty}, nil
}

func (r *stockRepo) level(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[id]
}

type memOrders struct {
	mu      sync.Mutex
	seq     int64
	byID    map[int64]*orders.Order
	failOps bool
	deleted []int64
}

func newMemOrders() *memOrders {
	return &memOrders{byID: make(map[int64]*orders.Order)}
}

func (m *memOrders) put(o *orders.Order) *orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	o.ID = m.seq
	cp := *o
	cp.Items = append([]orders.Item(nil), o.Items...)
	m.byID[o.ID] = &cp
	return o
}

func (m *memOrders) Get(_ context.Context, id int64) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	cp := *o
	cp.Items = append([]orders.Item(nil), o.Items...)
	return &cp, nil
}

func (m *memOrders) Save(_ context.Context, o *orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOps {
		return errors.New("order store down")
	}
	if _, ok := m.byID[o.ID]; !ok {
		return orders.ErrOrderNotFound
	}
	cp := *o
	cp.Items = append([]orders.Item(nil), o.Items...)
	m.byID[o.ID] = &cp
	return nil
}

func (m *memOrders) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOps {
		return errors.New("order store down")
	}
	if _, ok := m.byID[id]; !ok {
		return orders.ErrOrderNotFound
	}
	delete(m.byID, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type memReturns struct {
	mu         sync.Mutex
	seq        int64
	byID       map[int64]*Return
	failCreate bool
}

func newMemReturns() *memReturns {
	return &memReturns{byID: make(map[int64]*Return)}
}

func (m *memReturns) Get(_ context.Context, id int64) (*Return, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret, ok := m.byID[id]
	if !ok {
		return nil, ErrReturnNotFound
	}
	cp := *ret
	return &cp, nil
}

func (m *memReturns) Create(_ context.Context, ret *Return) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return errors.New("return store down")
	}
	for _, existing := range m.byID {
		if existing.ReturnNo == ret.ReturnNo {
			return sequence.ErrDuplicateCode
		}
	}
	m.seq++
	ret.ID = m.seq
	cp := *ret
	m.byID[ret.ID] = &cp
	return nil
}

func (m *memReturns) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrReturnNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memReturns) UpdateRefund(_ context.Context, id int64, refunded float64, status RefundStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret, ok := m.byID[id]
	if !ok {
		return ErrReturnNotFound
	}
	ret.RefundedAmount = refunded
	ret.RefundStatus = status
	return nil
}

func (m *memReturns) ListByOrder(_ context.Context, orderID int64) ([]Return, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Return
	for _, ret := range m.byID {
		if ret.OrderID == orderID {
			out = append(out, *ret)
		}
	}
	return out, nil
}

func (m *memReturns) MaxSequence(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, ret := range m.byID {
		var n int
		if _, err := fmt.Sscanf(ret.ReturnNo, prefix+"%04d", &n); err == nil && n > max {
			max = n
		}
	}
	return max, nil
}

type returnCounters struct {
	mu         sync.Mutex
	value      float64
	due        float64
	refundable float64
	count      int
}

func (c *returnCounters) ApplyReturn(_ context.Context, _ int64, returnValue, dueReduction, refundable float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	c.value += returnValue
	c.due += dueReduction
	c.refundable += refundable
	return nil
}

// fakeRefunds mirrors the payment side: a guarded balance debit plus a
// payment document.
type fakeRefunds struct {
	mu      sync.Mutex
	balance float64
	paid    []float64
}

func (f *fakeRefunds) RecordReturnRefund(_ context.Context, _, _ int64, amount float64, _ int64) (*payments.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance < amount {
		return nil, fmt.Errorf("refund %0.2f: %w", amount, errInsufficient)
	}
	f.balance -= amount
	f.paid = append(f.paid, amount)
	return &payments.Payment{Type: payments.TypeReturnRefund, Amount: amount}, nil
}

var errInsufficient = errors.New("insufficient refundable balance")

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (l *fakeLocks) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, shared.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type rig struct {
	stock    *stockRepo
	orders   *memOrders
	returns  *memReturns
	counters *returnCounters
	refunds  *fakeRefunds
	locks    *fakeLocks
	svc      *Service
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		stock:    newStockRepo(),
		orders:   newMemOrders(),
		returns:  newMemReturns(),
		counters: &returnCounters{},
		refunds:  &fakeRefunds{},
		locks:    newFakeLocks(),
	}
	ledger := inventory.NewLedger(r.stock, nil, nil, nil, slog.Default(), inventory.LedgerConfig{})
	r.svc = NewService(Deps{
		Orders:  r.orders,
		Returns: r.returns,
		Ledger:  ledger,
		Clients: r.counters,
		Refunds: r.refunds,
		Locks:   r.locks,
	})
	return r
}

// deliveredOrder builds a fully delivered, fully paid single-line order:
// 10 chairs at 100, advance 1000.
func (r *rig) deliveredOrder(kind orders.Kind) *orders.Order {
	r.stock.mu.Lock()
	r.stock.stock[1] = 0
	r.stock.names[1] = "Oak Chair"
	r.stock.mu.Unlock()

	clientID := int64(1)
	o := &orders.Order{
		OrderNo:    "ORD26080001",
		Kind:       kind,
		GrandTotal: 1000,
		Subtotal:   1000,
		Advance:    1000,
		OrderDate:  time.Now(),
		Items: []orders.Item{{
			LineID: uuid.New(), ProductID: 1, Name: "Oak Chair", UnitPrice: 100,
			OrderedQty: 10, DeliveredQty: 10, RemainingQty: 0, LineTotal: 1000,
		}},
		TotalDeliveries: 1,
	}
	if kind == orders.KindStandard {
		o.ClientID = &clientID
	}
	orders.Recalculate(o)
	return r.orders.put(o)
}

func TestCreateReturnRestoresStockAndReopensOrder(t *testing.T) {
	r := newRig(t)
	o := r.deliveredOrder(orders.KindStandard)
	require.True(t, o.IsLocked)

	ret, err := r.svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: o.ID,
		Lines:   []ReturnLine{{LineID: o.Items[0].LineID, Quantity: 4}},
		Reason:  "damaged in transit",
	})
	require.NoError(t, err)
	require.Equal(t, sequence.Prefix(sequence.KindReturn, time.Now())+"0001", ret.ReturnNo)
	require.Equal(t, 400.0, ret.TotalValue)
	require.Equal(t, 400.0, ret.RefundableAmount, "paid beyond the shrunken effective total")
	require.Equal(t, RefundPending, ret.RefundStatus)

	require.Equal(t, 4, r.stock.level(1))

	got, err := r.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, 400.0, got.ReturnedAmount)
	require.Equal(t, orders.StatusPartialDelivered, got.Status)
	require.False(t, got.IsLocked, "a return unlocks a completed order")
	require.Equal(t, orders.PaymentPaid, got.PaymentStatus, "advance still covers the effective total")
	require.Equal(t, 6, got.Items[0].DeliveredQty)
	require.Equal(t, 4, got.Items[0].RemainingQty)
	require.Equal(t, 1, got.TotalReturns)

	require.Equal(t, 1, r.counters.count)
	require.Equal(t, 400.0, r.counters.refundable)
}

func TestCreateReturnRejectsUndeliveredOrder(t *testing.T) {
	r := newRig(t)
	o := r.deliveredOrder(orders.KindStandard)
	o.Items[0].DeliveredQty = 0
	o.Items[0].RemainingQty = 10
	o.TotalDeliveries = 0
	o.Advance = 0
	orders.Recalculate(o)
	require.NoError(t, r.orders.Save(context.Background(), o))

	_, err := r.svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: o.ID,
		Lines:   []ReturnLine{{LineID: o.Items[0].LineID, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrNothingDelivered)
}

func TestCreateReturnRejectsExcessQuantity(t *testing.T) {
	r := newRig(t)
	o := r.deliveredOrder(orders.KindStandard)

	_, err := r.svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: o.ID,
		Lines:   []ReturnLine{{LineID: o.Items[0].LineID, Quantity: 11}},
	})
	require.ErrorIs(t, err, orders.ErrExceedsDelivered)
	require.Equal(t, 0, r.stock.level(1), "rejected return must not touch stock")
	require.Empty(t, r.returns.byID)
}

func TestCreateReturnCompensatesWhenPersistFails(t *testing.T) {
	r := newRig(t)
	o := r.deliveredOrder(orders.KindStandard)
	r.returns.failCreate = true

	_, err := r.svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: o.ID,
		Lines:   []ReturnLine{{LineID: o.Items[0].LineID, Quantity: 4}},
	})
	require.Error(t, err)
	require.Equal(t, 0, r.stock.level(1), "restored stock must be reduced again")

	got, _ := r.orders.Get(context.Background(), o.ID)
	require.Equal(t, 0.0, got.ReturnedAmount, "order must be untouched after a failed return")
	require.True(t, got.IsLocked)
}

func TestCreateReturnCompensatesWhenOrderSaveFails(t *testing.T) {
	r := newRig(t)
	o := r.deliveredOrder(orders.KindStandard)
	r.orders.failOps = true

	_, err := r.svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: o.ID,
		Lines:   []ReturnLine{{LineID: o.Items[0].LineID, Quantity: 4}},
	})
	require.Error(t, err)
	require.Equal(t, 0, r.stock.level(1))
	require.Empty(t, r.returns.byID, "orphaned return must be deleted")
}

func TestRefundLifecycle(t *testing.T) {
	r := newRig(t)
	o := r.deliveredOrder(orders.KindStandard)
	r.refunds.balance = 400

	ret, err := r.svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: o.ID,
		Lines:   []ReturnLine{{LineID: o.Items[0].LineID, Quantity: 4}},
	})
	require.NoError(t, err)

	partial, err := r.svc.RecordRefund(context.Background(), RefundInput{ReturnID: ret.ID, Amount: 150})
	require.NoError(t, err)
	require.Equal(t, RefundPartial, partial.RefundStatus)
	require.Equal(t, 150.0, partial.RefundedAmount)

	full, err := r.svc.RecordRefund(context.Background(), RefundInput{ReturnID: ret.ID, Amount: 250})
	require.NoError(t, err)
	require.Equal(t, RefundComplete, full.RefundStatus)
	require.Equal(t, 400.0, full.RefundedAmount)
	require.Equal(t, 0.0, r.refunds.balance)

	// Nothing left to pay back.
	_, err = r.svc.RecordRefund(context.Background(), RefundInput{ReturnID: ret.ID, Amount: 1})
	require.ErrorIs(t, err, ErrExceedsRefundable)
}

func TestSequentialReturnsAccrueRefundableIncrementally(t *testing.T) {
	r := newRig(t)
	o := r.deliveredOrder(orders.KindStandard)

	first, err := r.svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: o.ID,
		Lines:   []ReturnLine{{LineID: o.Items[0].LineID, Quantity: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, 400.0, first.RefundableAmount)

	second, err := r.svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: o.ID,
		Lines:   []ReturnLine{{LineID: o.Items[0].LineID, Quantity: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, 200.0, second.RefundableAmount, "second return accrues only its own excess")
	require.Equal(t, 600.0, r.counters.refundable, "credited balance matches the total overpayment")

	// The two documents together authorize exactly the overpaid 600.
	r.refunds.balance = 600
	_, err = r.svc.RecordRefund(context.Background(), RefundInput{ReturnID: first.ID, Amount: 400})
	require.NoError(t, err)
	_, err = r.svc.RecordRefund(context.Background(), RefundInput{ReturnID: second.ID, Amount: 200})
	require.NoError(t, err)
	require.Equal(t, 0.0, r.refunds.balance)

	_, err = r.svc.RecordRefund(context.Background(), RefundInput{ReturnID: second.ID, Amount: 1})
	require.ErrorIs(t, err, ErrExceedsRefundable)
}

func TestRefundRejectsWhenNothingRefundable(t *testing.T) {
	r := newRig(t)
	o := r.deliveredOrder(orders.KindStandard)
	o.Advance = 0
	orders.Recalculate(o)
	require.NoError(t, r.orders.Save(context.Background(), o))

	ret, err := r.svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: o.ID,
		Lines:   []ReturnLine{{LineID: o.Items[0].LineID, Quantity: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, RefundNone, ret.RefundStatus, "unpaid order has nothing to refund")

	_, err = r.svc.RecordRefund(context.Background(), RefundInput{ReturnID: ret.ID, Amount: 100})
	require.ErrorIs(t, err, ErrNoRefundDue)
}

func TestCounterSaleReturnShrinksOrder(t *testing.T) {
	r := newRig(t)
	o := r.deliveredOrder(orders.KindCounterSale)

	ret, err := r.svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: o.ID,
		Lines:   []ReturnLine{{LineID: o.Items[0].LineID, Quantity: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, RefundNone, ret.RefundStatus)
	require.Equal(t, 0.0, ret.RefundableAmount)
	require.Equal(t, 4, r.stock.level(1))

	got, err := r.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, 6, got.Items[0].OrderedQty)
	require.Equal(t, 6, got.Items[0].DeliveredQty)
	require.Equal(t, 600.0, got.GrandTotal)
	require.Equal(t, 600.0, got.Advance, "cash beyond the new total goes back at the counter")
	require.Equal(t, 0.0, got.ReturnedAmount)
}

func TestCounterSaleFullReturnDeletesOrder(t *testing.T) {
	r := newRig(t)
	o := r.deliveredOrder(orders.KindCounterSale)

	_, err := r.svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: o.ID,
		Lines:   []ReturnLine{{LineID: o.Items[0].LineID, Quantity: 10}},
	})
	require.NoError(t, err)
	require.Equal(t, 10, r.stock.level(1))

	_, err = r.orders.Get(context.Background(), o.ID)
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
	require.Equal(t, []int64{o.ID}, r.orders.deleted)
}

func TestCreateReturnLockContention(t *testing.T) {
	r := newRig(t)
	o := r.deliveredOrder(orders.KindStandard)

	release, err := r.locks.Acquire(context.Background(), shared.OrderLockKey(o.ID))
	require.NoError(t, err)
	defer release()

	_, err = r.svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: o.ID,
		Lines:   []ReturnLine{{LineID: o.Items[0].LineID, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrLockHeld)
}
