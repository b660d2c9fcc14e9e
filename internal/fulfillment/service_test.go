package fulfillment

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

	"github.com/meridian-oms/meridian-oms/internal/catalog"
	"github.com/meridian-oms/meridian-oms/internal/clients"
	"github.com/meridian-oms/meridian-oms/internal/inventory"
	"github.com/meridian-oms/meridian-oms/internal/orders"
	"github.com/meridian-oms/meridian-oms/internal/sequence"
	"github.com/meridian-oms/meridian-oms/internal/shared"
)

type memStock struct {
	mu       sync.Mutex
	products map[int64]catalog.Product
}

func newMemStock(products ...catalog.Product) *memStock {
	m := &memStock{products: make(map[int64]catalog.Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *memStock) Get(_ context.Context, id int64) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

func (m *memStock) DecrementIfAvailable(_ context.Context, id int64, qty int) (inventory.StockChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return inventory.StockChange{}, inventory.ErrProductNotFound
	}
	if p.Stock == nil {
		return inventory.StockChange{ProductID: id, Name: p.Name}, nil
	}
	if *p.Stock < qty {
		return inventory.StockChange{}, &inventory.InsufficientStockError{
			ProductID: id, Name: p.Name, Available: *p.Stock, Requested: qty,
		}
	}
	before := *p.Stock
	after := before - qty
	p.Stock = &after
	m.products[id] = p
	return inventory.StockChange{ProductID: id, Name: p.Name, Tracked: true, Before: before, After: after}, nil
}

func (m *memStock) Increment(_ context.Context, id int64, qty int) (inventory.StockChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return inventory.StockChange{}, inventory.ErrProductNotFound
	}
	if p.Stock == nil {
		return inventory.StockChange{ProductID: id, Name: p.Name}, nil
	}
	before := *p.Stock
	after := before + qty
	p.Stock = &after
	m.products[id] = p
	return inventory.StockChange{ProductID: id, Name: p.Name, Tracked: true, Before: before, After: after}, nil
}

func (m *memStock) level(t *testing.T, id int64) int {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	require.NotNil(t, p.Stock)
	return *p.Stock
}

type memOrderStore struct {
	mu         sync.Mutex
	seq        int64
	byID       map[int64]*orders.Order
	failCreate bool
	failSave   bool
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{byID: make(map[int64]*orders.Order)}
}

func cloneOrder(o *orders.Order) *orders.Order {
	cp := *o
	cp.Items = append([]orders.Item(nil), o.Items...)
	return &cp
}

func (m *memOrderStore) Get(_ context.Context, id int64) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *memOrderStore) Create(_ context.Context, o *orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return errors.New("order store down")
	}
	for _, existing := range m.byID {
		if existing.OrderNo == o.OrderNo {
			return sequence.ErrDuplicateCode
		}
	}
	m.seq++
	o.ID = m.seq
	m.byID[o.ID] = cloneOrder(o)
	return nil
}

func (m *memOrderStore) Save(_ context.Context, o *orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errors.New("order store down")
	}
	if _, ok := m.byID[o.ID]; !ok {
		return orders.ErrOrderNotFound
	}
	m.byID[o.ID] = cloneOrder(o)
	return nil
}

func (m *memOrderStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return orders.ErrOrderNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memOrderStore) MaxSequence(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, o := range m.byID {
		var n int
		if _, err := fmt.Sscanf(o.OrderNo, prefix+"%04d", &n); err == nil && n > max {
			max = n
		}
	}
	return max, nil
}

type memDeliveryStore struct {
	mu      sync.Mutex
	seq     int64
	byID    map[int64]*Delivery
	deleted []int64
}

func newMemDeliveryStore() *memDeliveryStore {
	return &memDeliveryStore{byID: make(map[int64]*Delivery)}
}

func (m *memDeliveryStore) Get(_ context.Context, id int64) (*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDeliveryStore) Create(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.DeliveryNo == d.DeliveryNo {
			return sequence.ErrDuplicateCode
		}
	}
	m.seq++
	d.ID = m.seq
	cp := *d
	m.byID[d.ID] = &cp
	return nil
}

func (m *memDeliveryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrDeliveryNotFound
	}
	delete(m.byID, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memDeliveryStore) SetStatus(_ context.Context, id int64, status DeliveryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return ErrDeliveryNotFound
	}
	d.Status = status
	return nil
}

func (m *memDeliveryStore) LinkInvoice(_ context.Context, deliveryID, invoiceID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[deliveryID]
	if !ok {
		return ErrDeliveryNotFound
	}
	d.InvoiceID = &invoiceID
	return nil
}

func (m *memDeliveryStore) ListByOrder(_ context.Context, orderID int64) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Delivery
	for _, d := range m.byID {
		if d.OrderID == orderID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memDeliveryStore) MaxSequence(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, d := range m.byID {
		var n int
		if _, err := fmt.Sscanf(d.DeliveryNo, prefix+"%04d", &n); err == nil && n > max {
			max = n
		}
	}
	return max, nil
}

type memInvoiceStore struct {
	mu   sync.Mutex
	seq  int64
	byID map[int64]*Invoice
}

func newMemInvoiceStore() *memInvoiceStore {
	return &memInvoiceStore{byID: make(map[int64]*Invoice)}
}

func (m *memInvoiceStore) Get(_ context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memInvoiceStore) Create(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.InvoiceNo == inv.InvoiceNo {
			return sequence.ErrDuplicateCode
		}
	}
	m.seq++
	inv.ID = m.seq
	cp := *inv
	m.byID[inv.ID] = &cp
	return nil
}

func (m *memInvoiceStore) MaxSequence(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, inv := range m.byID {
		var n int
		if _, err := fmt.Sscanf(inv.InvoiceNo, prefix+"%04d", &n); err == nil && n > max {
			max = n
		}
	}
	return max, nil
}

type memClientDir struct {
	mu      sync.Mutex
	seq     int64
	byID    map[int64]*clients.Client
	byPhone map[string]int64
}

func newMemClientDir() *memClientDir {
	return &memClientDir{byID: make(map[int64]*clients.Client), byPhone: make(map[string]int64)}
}

func (m *memClientDir) Get(_ context.Context, id int64) (clients.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return clients.Client{}, clients.ErrClientNotFound
	}
	return *c, nil
}

func (m *memClientDir) GetOrCreate(_ context.Context, name, phone, address string) (clients.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byPhone[phone]; ok {
		return *m.byID[id], nil
	}
	m.seq++
	c := &clients.Client{ID: m.seq, Name: name, Phone: phone, Address: address}
	m.byID[c.ID] = c
	m.byPhone[phone] = c.ID
	return *c, nil
}

func (m *memClientDir) ApplyOrderCreated(_ context.Context, id int64, grandTotal, advance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return clients.ErrClientNotFound
	}
	c.TotalOrders++
	c.TotalSpent += grandTotal
	c.TotalPaid += advance
	c.TotalDue += grandTotal - advance
	return nil
}

func (m *memClientDir) ApplyOrderDeleted(_ context.Context, id int64, grandTotal, advance, returned float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return clients.ErrClientNotFound
	}
	c.TotalOrders--
	c.TotalSpent -= grandTotal
	c.TotalPaid -= advance
	c.TotalDue -= grandTotal - advance - returned
	return nil
}

func (m *memClientDir) CreditAdvance(_ context.Context, id int64, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return clients.ErrClientNotFound
	}
	c.AdvanceBalance += amount
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (func(), error) {
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

// fakePayments applies an advance straight to the order, standing in for the
// payment allocator.
type fakePayments struct {
	store *memOrderStore
	fail  bool
}

func (p *fakePayments) RecordOrderAdvance(ctx context.Context, orderID int64, amount float64, _ int64) error {
	if p.fail {
		return errors.New("payments down")
	}
	o, err := p.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	o.Advance += amount
	orders.Recalculate(o)
	return p.store.Save(ctx, o)
}

type fixture struct {
	stock      *memStock
	orders     *memOrderStore
	deliveries *memDeliveryStore
	invoices   *memInvoiceStore
	clients    *memClientDir
	locks      *fakeLocker
	payments   *fakePayments
	svc        *Service
}

func newFixture(t *testing.T, products ...catalog.Product) *fixture {
	t.Helper()
	f := &fixture{
		stock:      newMemStock(products...),
		orders:     newMemOrderStore(),
		deliveries: newMemDeliveryStore(),
		invoices:   newMemInvoiceStore(),
		clients:    newMemClientDir(),
		locks:      newFakeLocker(),
	}
	f.payments = &fakePayments{store: f.orders}
	ledger := inventory.NewLedger(f.stock, nil, nil, nil, slog.Default(), inventory.LedgerConfig{})
	f.svc = NewService(Deps{
		Logger:     slog.Default(),
		Orders:     f.orders,
		Deliveries: f.deliveries,
		Invoices:   f.invoices,
		Catalog:    f.stock,
		Clients:    f.clients,
		Ledger:     ledger,
		Payments:   f.payments,
		Locks:      f.locks,
	})
	return f
}

func intp(v int) *int { return &v }

func chairs(stock int) catalog.Product {
	return catalog.Product{ID: 1, Name: "Oak Chair", UnitPrice: 100, Stock: intp(stock)}
}

func standardOrder(qty int, advance float64) CreateOrderInput {
	return CreateOrderInput{
		ClientName:  "Rahim Traders",
		ClientPhone: "01711000001",
		Lines:       []OrderLine{{ProductID: 1, Quantity: qty}},
		Advance:     advance,
		ActorID:     7,
	}
}

func TestCreateOrderReservesStock(t *testing.T) {
	f := newFixture(t, chairs(10))

	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 0))
	require.NoError(t, err)

	require.Equal(t, 0, f.stock.level(t, 1))
	require.Equal(t, 1000.0, order.GrandTotal)
	require.Equal(t, 1000.0, order.BalanceDue)
	require.Equal(t, orders.StatusOpen, order.Status)
	require.Equal(t, sequence.Prefix(sequence.KindOrder, time.Now())+"0001", order.OrderNo)
	require.NotNil(t, order.ClientID)

	client, err := f.clients.Get(context.Background(), *order.ClientID)
	require.NoError(t, err)
	require.Equal(t, 1, client.TotalOrders)
	require.Equal(t, 1000.0, client.TotalDue)
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	f := newFixture(t, chairs(3))

	_, err := f.svc.CreateOrder(context.Background(), standardOrder(5, 0))
	var short *inventory.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Equal(t, 3, short.Available)

	require.Equal(t, 3, f.stock.level(t, 1), "a rejected order must not touch stock")
	require.Empty(t, f.orders.byID)
}

func TestCreateOrderRestoresStockWhenPersistFails(t *testing.T) {
	f := newFixture(t, chairs(10))
	f.orders.failCreate = true

	_, err := f.svc.CreateOrder(context.Background(), standardOrder(4, 0))
	require.Error(t, err)
	require.Equal(t, 10, f.stock.level(t, 1), "reserved stock must come back")
}

func TestCreateOrderAdvanceFailureCompensates(t *testing.T) {
	f := newFixture(t, chairs(10))
	f.payments.fail = true

	_, err := f.svc.CreateOrder(context.Background(), standardOrder(4, 200))
	require.Error(t, err)
	require.Equal(t, 10, f.stock.level(t, 1))
	require.Empty(t, f.orders.byID)
}

func TestCreateOrderRejectsAdvanceAboveTotal(t *testing.T) {
	f := newFixture(t, chairs(10))

	_, err := f.svc.CreateOrder(context.Background(), standardOrder(4, 500))
	require.ErrorIs(t, err, ErrAdvanceExceedsTotal)
	require.Equal(t, 10, f.stock.level(t, 1))
}

func TestCounterSaleHasNoClient(t *testing.T) {
	f := newFixture(t, chairs(10))

	order, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		CounterSale: true,
		Lines:       []OrderLine{{ProductID: 1, Quantity: 2}},
	})
	require.NoError(t, err)
	require.Nil(t, order.ClientID)
	require.Equal(t, orders.KindCounterSale, order.Kind)
}

func TestCreateDeliveryPartial(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 0))
	require.NoError(t, err)

	delivery, err := f.svc.CreateDelivery(context.Background(), CreateDeliveryInput{
		OrderID: order.ID,
		Lines:   []DeliveryLine{{LineID: order.Items[0].LineID, Quantity: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, 400.0, delivery.Total)
	require.Equal(t, sequence.Prefix(sequence.KindDelivery, time.Now())+"0001", delivery.DeliveryNo)

	got, err := f.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, 40, got.Progress)
	require.Equal(t, orders.StatusPartialDelivered, got.Status)
	require.Equal(t, 6, got.Items[0].RemainingQty)
	require.Equal(t, 1, got.TotalDeliveries)
	require.Nil(t, got.ActualDeliveryDate)
}

func TestCreateDeliveryRemainderCompletesPaidOrder(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 1000))
	require.NoError(t, err)

	_, err = f.svc.CreateDelivery(context.Background(), CreateDeliveryInput{
		OrderID: order.ID,
		Lines:   []DeliveryLine{{LineID: order.Items[0].LineID, Quantity: 4}},
	})
	require.NoError(t, err)

	// No lines means ship everything still remaining.
	_, err = f.svc.CreateDelivery(context.Background(), CreateDeliveryInput{OrderID: order.ID})
	require.NoError(t, err)

	got, err := f.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, 100, got.Progress)
	require.Equal(t, orders.StatusCompleted, got.Status)
	require.True(t, got.IsLocked)
	require.NotNil(t, got.ActualDeliveryDate)

	// Locked orders take no further deliveries.
	_, err = f.svc.CreateDelivery(context.Background(), CreateDeliveryInput{OrderID: order.ID})
	require.ErrorIs(t, err, orders.ErrOrderLocked)
}

func TestCreateDeliveryRejectsExcessQuantity(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 0))
	require.NoError(t, err)

	_, err = f.svc.CreateDelivery(context.Background(), CreateDeliveryInput{
		OrderID: order.ID,
		Lines:   []DeliveryLine{{LineID: order.Items[0].LineID, Quantity: 11}},
	})
	require.ErrorIs(t, err, orders.ErrExceedsRemaining)
	require.Empty(t, f.deliveries.byID)
}

func TestCreateDeliveryLockContention(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 0))
	require.NoError(t, err)

	release, err := f.locks.Acquire(context.Background(), shared.OrderLockKey(order.ID))
	require.NoError(t, err)
	defer release()

	_, err = f.svc.CreateDelivery(context.Background(), CreateDeliveryInput{OrderID: order.ID})
	require.ErrorIs(t, err, shared.ErrLockHeld)
}

func TestCreateDeliveryCompensatesFailedOrderSave(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 0))
	require.NoError(t, err)

	f.orders.failSave = true
	_, err = f.svc.CreateDelivery(context.Background(), CreateDeliveryInput{
		OrderID: order.ID,
		Lines:   []DeliveryLine{{LineID: order.Items[0].LineID, Quantity: 4}},
	})
	require.Error(t, err)
	require.Empty(t, f.deliveries.byID, "orphaned delivery must be deleted")
	require.Len(t, f.deliveries.deleted, 1)
}

func TestGenerateInvoiceForOrder(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 0))
	require.NoError(t, err)

	invoice, err := f.svc.GenerateInvoice(context.Background(), GenerateInvoiceInput{
		OrderID: order.ID,
		Advance: 300,
	})
	require.NoError(t, err)
	require.Equal(t, sequence.Prefix(sequence.KindInvoice, time.Now())+"0001", invoice.InvoiceNo)
	require.Equal(t, 1000.0, invoice.GrandTotal)
	require.Equal(t, 300.0, invoice.Advance)
	require.Equal(t, 700.0, invoice.BalanceDue)
	require.Equal(t, orders.PaymentPartial, invoice.PaymentStatus)

	got, err := f.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, 300.0, got.Advance, "invoice advance lands on the order")
}

func TestGenerateInvoiceForDelivery(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 0))
	require.NoError(t, err)

	delivery, err := f.svc.CreateDelivery(context.Background(), CreateDeliveryInput{
		OrderID: order.ID,
		Lines:   []DeliveryLine{{LineID: order.Items[0].LineID, Quantity: 4}},
	})
	require.NoError(t, err)

	invoice, err := f.svc.GenerateInvoice(context.Background(), GenerateInvoiceInput{
		DeliveryID: delivery.ID,
	})
	require.NoError(t, err)
	require.Equal(t, 400.0, invoice.GrandTotal)
	require.Equal(t, orders.PaymentUnpaid, invoice.PaymentStatus)

	linked, err := f.deliveries.Get(context.Background(), delivery.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.InvoiceID)
	require.Equal(t, invoice.ID, *linked.InvoiceID)
}

func TestInvoiceIsFrozenAfterGeneration(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 0))
	require.NoError(t, err)

	invoice, err := f.svc.GenerateInvoice(context.Background(), GenerateInvoiceInput{OrderID: order.ID})
	require.NoError(t, err)

	err = f.payments.RecordOrderAdvance(context.Background(), order.ID, 500, 0)
	require.NoError(t, err)

	got, err := f.invoices.Get(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.Equal(t, 0.0, got.Advance)
	require.Equal(t, 1000.0, got.BalanceDue)
}

func TestCancelOrderRestoresStock(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 200))
	require.NoError(t, err)
	require.Equal(t, 0, f.stock.level(t, 1))

	cancelled, err := f.svc.CancelOrder(context.Background(), order.ID, 7)
	require.NoError(t, err)
	require.Equal(t, orders.StatusCancelled, cancelled.Status)
	require.Equal(t, 10, f.stock.level(t, 1))

	client, err := f.clients.Get(context.Background(), *order.ClientID)
	require.NoError(t, err)
	require.Equal(t, 0, client.TotalOrders)
	require.Equal(t, 200.0, client.AdvanceBalance, "paid advance becomes client credit")

	// Cancelled is terminal.
	_, err = f.svc.CancelOrder(context.Background(), order.ID, 7)
	require.ErrorIs(t, err, orders.ErrOrderCancelled)
	_, err = f.svc.CreateDelivery(context.Background(), CreateDeliveryInput{OrderID: order.ID})
	require.ErrorIs(t, err, orders.ErrOrderCancelled)
}

func TestCancelOrderRejectedAfterDelivery(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 0))
	require.NoError(t, err)

	_, err = f.svc.CreateDelivery(context.Background(), CreateDeliveryInput{
		OrderID: order.ID,
		Lines:   []DeliveryLine{{LineID: order.Items[0].LineID, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(context.Background(), order.ID, 7)
	require.ErrorIs(t, err, ErrDeliveryStarted)
	require.Equal(t, 0, f.stock.level(t, 1))
}

func TestDeleteOrderReversesCountersNotStock(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 0))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteOrder(context.Background(), order.ID, 7))

	_, err = f.orders.Get(context.Background(), order.ID)
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
	require.Equal(t, 0, f.stock.level(t, 1), "delete is bookkeeping only, stock stays reduced")

	client, err := f.clients.Get(context.Background(), *order.ClientID)
	require.NoError(t, err)
	require.Equal(t, 0, client.TotalOrders)
	require.Equal(t, 0.0, client.TotalDue)
}

func TestUpdateDeliveryStatus(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 0))
	require.NoError(t, err)
	delivery, err := f.svc.CreateDelivery(context.Background(), CreateDeliveryInput{OrderID: order.ID})
	require.NoError(t, err)

	updated, err := f.svc.UpdateDeliveryStatus(context.Background(), delivery.ID, DeliveryDelivered, 7)
	require.NoError(t, err)
	require.Equal(t, DeliveryDelivered, updated.Status)

	_, err = f.svc.UpdateDeliveryStatus(context.Background(), delivery.ID, DeliveryStatus("teleported"), 7)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestDeliveryPerformanceGrading(t *testing.T) {
	expected := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		actual time.Time
		want   Performance
	}{
		{"day before", expected.AddDate(0, 0, -1), PerformanceEarly},
		{"same day", expected, PerformanceOnTime},
		{"next day", expected.AddDate(0, 0, 1), PerformanceOnTime},
		{"two days late", expected.AddDate(0, 0, 2), PerformanceLate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, derivePerformance(tc.actual, &expected))
		})
	}
	require.Equal(t, PerformanceOnTime, derivePerformance(expected, nil))
}

func TestDeliveryLineValidation(t *testing.T) {
	f := newFixture(t, chairs(10))
	order, err := f.svc.CreateOrder(context.Background(), standardOrder(10, 0))
	require.NoError(t, err)

	_, err = f.svc.CreateDelivery(context.Background(), CreateDeliveryInput{
		OrderID: order.ID,
		Lines:   []DeliveryLine{{LineID: uuid.New(), Quantity: 1}},
	})
	require.ErrorIs(t, err, orders.ErrLineNotFound)
}
