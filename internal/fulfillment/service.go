package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-oms/meridian-oms/internal/catalog"
	"github.com/meridian-oms/meridian-oms/internal/clients"
	"github.com/meridian-oms/meridian-oms/internal/events"
	"github.com/meridian-oms/meridian-oms/internal/inventory"
	"github.com/meridian-oms/meridian-oms/internal/observability"
	"github.com/meridian-oms/meridian-oms/internal/orders"
	"github.com/meridian-oms/meridian-oms/internal/platform/cache"
	"github.com/meridian-oms/meridian-oms/internal/sequence"
	"github.com/meridian-oms/meridian-oms/internal/shared"
)

// OrderStore persists order aggregates.
type OrderStore interface {
	Get(ctx context.Context, id int64) (*orders.Order, error)
	Create(ctx context.Context, o *orders.Order) error
	Save(ctx context.Context, o *orders.Order) error
	Delete(ctx context.Context, id int64) error
	MaxSequence(ctx context.Context, prefix string) (int, error)
}

// DeliveryStore persists delivery records.
type DeliveryStore interface {
	Get(ctx context.Context, id int64) (*Delivery, error)
	Create(ctx context.Context, d *Delivery) error
	Delete(ctx context.Context, id int64) error
	SetStatus(ctx context.Context, id int64, status DeliveryStatus) error
	LinkInvoice(ctx context.Context, deliveryID, invoiceID int64) error
	ListByOrder(ctx context.Context, orderID int64) ([]Delivery, error)
	MaxSequence(ctx context.Context, prefix string) (int, error)
}

// InvoiceStore persists invoice snapshots.
type InvoiceStore interface {
	Get(ctx context.Context, id int64) (*Invoice, error)
	Create(ctx context.Context, inv *Invoice) error
	MaxSequence(ctx context.Context, prefix string) (int, error)
}

// ProductCatalog resolves products for line snapshotting.
type ProductCatalog interface {
	Get(ctx context.Context, id int64) (catalog.Product, error)
}

// ClientDirectory resolves clients and maintains their aggregate counters.
// Counter updates are an optimization over the document log; failures are
// logged and healed by the periodic rebuild, never escalated.
type ClientDirectory interface {
	Get(ctx context.Context, id int64) (clients.Client, error)
	GetOrCreate(ctx context.Context, name, phone, address string) (clients.Client, error)
	ApplyOrderCreated(ctx context.Context, id int64, grandTotal, advance float64) error
	ApplyOrderDeleted(ctx context.Context, id int64, grandTotal, advance, returned float64) error
	CreditAdvance(ctx context.Context, id int64, amount float64) error
}

// StockLedger is the inventory side of the fulfillment sagas.
type StockLedger interface {
	Reduce(ctx context.Context, items []inventory.Item, allowPartial bool) (inventory.ReduceResult, error)
	Restore(ctx context.Context, items []inventory.Item) ([]inventory.StockChange, error)
}

// AdvanceRecorder routes an order advance through the payment allocator so a
// payment document exists for every amount received.
type AdvanceRecorder interface {
	RecordOrderAdvance(ctx context.Context, orderID int64, amount float64, actorID int64) error
}

// LockManager hands out per-order advisory locks.
type LockManager interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Auditor records administrative actions.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates order creation, deliveries and invoicing. Cross-store
// steps never share a transaction; each mutation is atomic on its own and
// failures are compensated explicitly.
type Service struct {
	logger     *slog.Logger
	orders     OrderStore
	deliveries DeliveryStore
	invoices   InvoiceStore
	catalog    ProductCatalog
	clients    ClientDirectory
	ledger     StockLedger
	payments   AdvanceRecorder
	locks      LockManager
	publisher  events.Publisher
	audit      Auditor
	cache      *cache.ReadThrough
	metrics    *observability.Metrics

	orderSeq    *sequence.Allocator
	deliverySeq *sequence.Allocator
	invoiceSeq  *sequence.Allocator
	now         func() time.Time
}

// Deps carries the service's collaborators. Publisher, audit, cache and
// metrics may be nil.
type Deps struct {
	Logger     *slog.Logger
	Orders     OrderStore
	Deliveries DeliveryStore
	Invoices   InvoiceStore
	Catalog    ProductCatalog
	Clients    ClientDirectory
	Ledger     StockLedger
	Payments   AdvanceRecorder
	Locks      LockManager
	Publisher  events.Publisher
	Audit      Auditor
	Cache      *cache.ReadThrough
	Metrics    *observability.Metrics
}

// NewService builds the orchestrator.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	s := &Service{
		logger:     d.Logger,
		orders:     d.Orders,
		deliveries: d.Deliveries,
		invoices:   d.Invoices,
		catalog:    d.Catalog,
		clients:    d.Clients,
		ledger:     d.Ledger,
		payments:   d.Payments,
		locks:      d.Locks,
		publisher:  d.Publisher,
		audit:      d.Audit,
		cache:      d.Cache,
		metrics:    d.Metrics,
		now:        time.Now,
	}
	s.orderSeq = sequence.NewAllocator(d.Orders.MaxSequence)
	s.deliverySeq = sequence.NewAllocator(d.Deliveries.MaxSequence)
	s.invoiceSeq = sequence.NewAllocator(d.Invoices.MaxSequence)
	return s
}

// OrderLine is one requested line of a new order.
type OrderLine struct {
	ProductID int64
	Quantity  int
}

// CreateOrderInput carries everything needed to place an order.
type CreateOrderInput struct {
	// ClientID selects an existing client. When zero, the client is resolved
	// (or created) from name/phone. Ignored for counter sales.
	ClientID      int64
	ClientName    string
	ClientPhone   string
	ClientAddress string
	CounterSale   bool

	Lines      []OrderLine
	Freight    float64
	TaxPercent float64
	Discount   float64
	Advance    float64

	OrderDate            time.Time
	ExpectedDeliveryDate *time.Time
	Notes                string
	ActorID              int64
}

// CreateOrder reserves stock, allocates an order number and persists the
// order. Stock is reduced first with an all-or-nothing guard; if the order
// cannot be persisted afterwards, every decrement is restored. The initial
// advance goes through the payment allocator so the money has a document
// trail from the start.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*orders.Order, error) {
	if len(in.Lines) == 0 {
		return nil, ErrEmptyOrder
	}
	if in.Advance < 0 || in.Freight < 0 || in.Discount < 0 || in.TaxPercent < 0 {
		return nil, ErrInvalidAmount
	}

	items := make([]orders.Item, 0, len(in.Lines))
	ledgerItems := make([]inventory.Item, 0, len(in.Lines))
	subtotal := 0.0
	for _, line := range in.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %d", inventory.ErrInvalidQuantity, line.ProductID)
		}
		product, err := s.catalog.Get(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		lineTotal := orders.Round2(float64(line.Quantity) * product.UnitPrice)
		items = append(items, orders.Item{
			LineID:       uuid.New(),
			ProductID:    product.ID,
			Name:         product.Name,
			UnitPrice:    product.UnitPrice,
			OrderedQty:   line.Quantity,
			RemainingQty: line.Quantity,
			LineTotal:    lineTotal,
		})
		ledgerItems = append(ledgerItems, inventory.Item{ProductID: product.ID, Quantity: line.Quantity})
		subtotal += lineTotal
	}

	subtotal = orders.Round2(subtotal)
	taxAmount := orders.Round2(subtotal * in.TaxPercent / 100)
	grandTotal := orders.Round2(subtotal + in.Freight + taxAmount - in.Discount)
	if in.Advance > grandTotal {
		return nil, ErrAdvanceExceedsTotal
	}

	order := &orders.Order{
		Kind:                 orders.KindStandard,
		Items:                items,
		Subtotal:             subtotal,
		Freight:              in.Freight,
		TaxPercent:           in.TaxPercent,
		TaxAmount:            taxAmount,
		Discount:             in.Discount,
		GrandTotal:           grandTotal,
		OrderDate:            in.OrderDate,
		ExpectedDeliveryDate: in.ExpectedDeliveryDate,
		Notes:                in.Notes,
	}
	if order.OrderDate.IsZero() {
		order.OrderDate = s.now()
	}
	if in.CounterSale {
		order.Kind = orders.KindCounterSale
	} else {
		client, err := s.resolveClient(ctx, in)
		if err != nil {
			return nil, err
		}
		order.ClientID = &client.ID
	}
	orders.Recalculate(order)

	if _, err := s.ledger.Reduce(ctx, ledgerItems, false); err != nil {
		return nil, err
	}

	_, err := s.orderSeq.Next(ctx, sequence.KindOrder, order.OrderDate, func(ctx context.Context, code string) error {
		order.OrderNo = code
		return s.orders.Create(ctx, order)
	})
	if err != nil {
		s.restoreStock(ctx, ledgerItems)
		return nil, err
	}

	if order.ClientID != nil {
		if err := s.clients.ApplyOrderCreated(ctx, *order.ClientID, order.GrandTotal, 0); err != nil {
			s.logger.Warn("client counters not updated for new order",
				slog.Int64("client_id", *order.ClientID), slog.Any("error", err))
		}
	}

	if in.Advance > 0 {
		if err := s.payments.RecordOrderAdvance(ctx, order.ID, in.Advance, in.ActorID); err != nil {
			s.compensateOrderCreate(ctx, order, ledgerItems)
			return nil, fmt.Errorf("fulfillment: record initial advance: %w", err)
		}
		order, err = s.orders.Get(ctx, order.ID)
		if err != nil {
			return nil, err
		}
	}

	s.publisher.Publish(ctx, events.OrderCreated, order.OrderNo, map[string]any{
		"order_id":    order.ID,
		"grand_total": order.GrandTotal,
	})
	s.recordAudit(ctx, in.ActorID, "order.create", "order", order.OrderNo, map[string]any{
		"grand_total": order.GrandTotal,
		"advance":     in.Advance,
	})
	return order, nil
}

func (s *Service) resolveClient(ctx context.Context, in CreateOrderInput) (clients.Client, error) {
	if in.ClientID > 0 {
		return s.clients.Get(ctx, in.ClientID)
	}
	if in.ClientName == "" || in.ClientPhone == "" {
		return clients.Client{}, ErrClientRequired
	}
	return s.clients.GetOrCreate(ctx, in.ClientName, in.ClientPhone, in.ClientAddress)
}

// compensateOrderCreate unwinds a half-created order: counters back, order
// gone, stock restored. Each step is best-effort; the original failure is
// what the caller reports.
func (s *Service) compensateOrderCreate(ctx context.Context, order *orders.Order, ledgerItems []inventory.Item) {
	if order.ClientID != nil {
		if err := s.clients.ApplyOrderDeleted(ctx, *order.ClientID, order.GrandTotal, 0, 0); err != nil {
			s.logger.Error("compensation: client counters", slog.Int64("order_id", order.ID), slog.Any("error", err))
		}
	}
	if err := s.orders.Delete(ctx, order.ID); err != nil {
		s.logger.Error("compensation: delete order", slog.Int64("order_id", order.ID), slog.Any("error", err))
	}
	s.restoreStock(ctx, ledgerItems)
}

func (s *Service) restoreStock(ctx context.Context, items []inventory.Item) {
	if _, err := s.ledger.Restore(ctx, items); err != nil {
		s.logger.Error("compensation: restore stock", slog.Any("error", err))
	}
}

// DeliveryLine requests a quantity against one order line.
type DeliveryLine struct {
	LineID   uuid.UUID
	Quantity int
}

// CreateDeliveryInput describes one shipment against an order.
type CreateDeliveryInput struct {
	OrderID int64
	// Lines may be empty, meaning deliver everything still remaining.
	Lines        []DeliveryLine
	DeliveryDate time.Time
	Notes        string
	ActorID      int64
}

// CreateDelivery records a shipment and advances the order's delivery
// bookkeeping under the order's advisory lock. The delivery document is
// persisted before the order update; if the order cannot be saved, the
// delivery is deleted again.
func (s *Service) CreateDelivery(ctx context.Context, in CreateDeliveryInput) (*Delivery, error) {
	release, err := s.locks.Acquire(ctx, shared.OrderLockKey(in.OrderID))
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			s.metrics.LockContention()
		}
		return nil, err
	}
	defer release()

	order, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status == orders.StatusCancelled {
		return nil, orders.ErrOrderCancelled
	}
	if order.IsLocked {
		return nil, orders.ErrOrderLocked
	}

	quantities := make(map[uuid.UUID]int, len(in.Lines))
	for _, line := range in.Lines {
		quantities[line.LineID] += line.Quantity
	}
	if len(in.Lines) == 0 {
		for _, item := range order.Items {
			if item.RemainingQty > 0 {
				quantities[item.LineID] = item.RemainingQty
			}
		}
	}
	if err := order.DeliverQuantities(quantities); err != nil {
		return nil, err
	}

	when := in.DeliveryDate
	if when.IsZero() {
		when = s.now()
	}
	delivery := &Delivery{
		OrderID:              order.ID,
		OrderNo:              order.OrderNo,
		ClientID:             order.ClientID,
		DeliveryDate:         when,
		ExpectedDeliveryDate: order.ExpectedDeliveryDate,
		Performance:          derivePerformance(when, order.ExpectedDeliveryDate),
		Status:               DeliveryDispatched,
		Notes:                in.Notes,
		CreatedBy:            in.ActorID,
	}
	for lineID, qty := range quantities {
		item := order.ItemByLine(lineID)
		lineTotal := orders.Round2(float64(qty) * item.UnitPrice)
		delivery.Items = append(delivery.Items, DeliveryItem{
			LineID:    lineID,
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  qty,
			LineTotal: lineTotal,
		})
		delivery.Total += lineTotal
	}
	delivery.Total = orders.Round2(delivery.Total)

	_, err = s.deliverySeq.Next(ctx, sequence.KindDelivery, when, func(ctx context.Context, code string) error {
		delivery.DeliveryNo = code
		return s.deliveries.Create(ctx, delivery)
	})
	if err != nil {
		return nil, err
	}

	order.TotalDeliveries++
	if order.RemainingQty() == 0 {
		order.ActualDeliveryDate = &when
	}
	orders.Recalculate(order)
	if err := s.orders.Save(ctx, order); err != nil {
		if delErr := s.deliveries.Delete(ctx, delivery.ID); delErr != nil {
			s.logger.Error("compensation: delete delivery",
				slog.Int64("delivery_id", delivery.ID), slog.Any("error", delErr))
		}
		return nil, err
	}

	s.cache.Invalidate(ctx, orders.CacheKey(order.ID))
	s.publisher.Publish(ctx, events.DeliveryCreated, delivery.DeliveryNo, map[string]any{
		"order_id": order.ID,
		"progress": order.Progress,
	})
	s.recordAudit(ctx, in.ActorID, "delivery.create", "delivery", delivery.DeliveryNo, map[string]any{
		"order_no": order.OrderNo,
		"total":    delivery.Total,
	})
	return delivery, nil
}

// GenerateInvoiceInput scopes an invoice to a whole order or one delivery.
type GenerateInvoiceInput struct {
	OrderID    int64
	DeliveryID int64
	// Advance is an optional payment taken at generation time. It is recorded
	// against the order before the snapshot is taken.
	Advance float64
	ActorID int64
}

// GenerateInvoice produces a billing snapshot. Invoice amounts are frozen at
// generation; later order changes do not touch issued invoices.
func (s *Service) GenerateInvoice(ctx context.Context, in GenerateInvoiceInput) (*Invoice, error) {
	if in.Advance < 0 {
		return nil, ErrInvalidAmount
	}

	var delivery *Delivery
	if in.DeliveryID > 0 {
		var err error
		delivery, err = s.deliveries.Get(ctx, in.DeliveryID)
		if err != nil {
			return nil, err
		}
		if in.OrderID == 0 {
			in.OrderID = delivery.OrderID
		} else if delivery.OrderID != in.OrderID {
			return nil, fmt.Errorf("%w: delivery %d belongs to another order", ErrDeliveryNotFound, in.DeliveryID)
		}
	}

	if in.Advance > 0 {
		if err := s.payments.RecordOrderAdvance(ctx, in.OrderID, in.Advance, in.ActorID); err != nil {
			return nil, fmt.Errorf("fulfillment: record invoice advance: %w", err)
		}
	}
	order, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}

	invoice := &Invoice{
		OrderID:  order.ID,
		ClientID: order.ClientID,
		IssuedAt: s.now(),
	}
	if delivery != nil {
		invoice.DeliveryID = &delivery.ID
		invoice.Items = delivery.Items
		invoice.Subtotal = delivery.Total
		invoice.GrandTotal = delivery.Total
		invoice.Advance = in.Advance
	} else {
		for _, item := range order.Items {
			invoice.Items = append(invoice.Items, DeliveryItem{
				LineID:    item.LineID,
				ProductID: item.ProductID,
				Name:      item.Name,
				UnitPrice: item.UnitPrice,
				Quantity:  item.OrderedQty,
				LineTotal: item.LineTotal,
			})
		}
		invoice.Subtotal = order.Subtotal
		invoice.Freight = order.Freight
		invoice.TaxAmount = order.TaxAmount
		invoice.Discount = order.Discount
		invoice.GrandTotal = order.GrandTotal
		invoice.Advance = order.Advance
	}
	invoice.BalanceDue = orders.Round2(invoice.GrandTotal - invoice.Advance)
	invoice.PaymentStatus = paymentStatusFor(invoice.Advance, invoice.GrandTotal)

	_, err = s.invoiceSeq.Next(ctx, sequence.KindInvoice, invoice.IssuedAt, func(ctx context.Context, code string) error {
		invoice.InvoiceNo = code
		return s.invoices.Create(ctx, invoice)
	})
	if err != nil {
		return nil, err
	}

	if delivery != nil {
		if err := s.deliveries.LinkInvoice(ctx, delivery.ID, invoice.ID); err != nil {
			s.logger.Warn("invoice link not recorded",
				slog.Int64("delivery_id", delivery.ID), slog.Any("error", err))
		}
	}
	if in.Advance > 0 {
		s.cache.Invalidate(ctx, orders.CacheKey(order.ID))
	}
	s.publisher.Publish(ctx, events.InvoiceCreated, invoice.InvoiceNo, map[string]any{
		"order_id":    order.ID,
		"grand_total": invoice.GrandTotal,
	})
	s.recordAudit(ctx, in.ActorID, "invoice.generate", "invoice", invoice.InvoiceNo, map[string]any{
		"order_no": order.OrderNo,
	})
	return invoice, nil
}

func paymentStatusFor(advance, total float64) orders.PaymentStatus {
	switch {
	case advance >= total:
		return orders.PaymentPaid
	case advance > 0:
		return orders.PaymentPartial
	default:
		return orders.PaymentUnpaid
	}
}

// UpdateDeliveryStatus moves a delivery along its shipment leg. It is the
// only field of a delivery that may change after creation besides the
// invoice link.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, deliveryID int64, status DeliveryStatus, actorID int64) (*Delivery, error) {
	switch status {
	case DeliveryDispatched, DeliveryInTransit, DeliveryDelivered:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := s.deliveries.SetStatus(ctx, deliveryID, status); err != nil {
		return nil, err
	}
	delivery, err := s.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "delivery.status", "delivery", delivery.DeliveryNo, map[string]any{
		"status": string(status),
	})
	return delivery, nil
}

// CancelOrder cancels an order that has not shipped anything yet. Reserved
// stock goes back to the shelf; a paid advance becomes client credit.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID int64) (*orders.Order, error) {
	release, err := s.locks.Acquire(ctx, shared.OrderLockKey(orderID))
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			s.metrics.LockContention()
		}
		return nil, err
	}
	defer release()

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == orders.StatusCancelled {
		return nil, orders.ErrOrderCancelled
	}
	if order.IsLocked {
		return nil, orders.ErrOrderLocked
	}
	if order.DeliveredQty() > 0 || order.TotalDeliveries > 0 {
		return nil, ErrDeliveryStarted
	}

	ledgerItems := make([]inventory.Item, 0, len(order.Items))
	for _, item := range order.Items {
		ledgerItems = append(ledgerItems, inventory.Item{ProductID: item.ProductID, Quantity: item.OrderedQty})
	}
	if _, err := s.ledger.Restore(ctx, ledgerItems); err != nil {
		return nil, err
	}

	order.Status = orders.StatusCancelled
	orders.Recalculate(order)
	if err := s.orders.Save(ctx, order); err != nil {
		// Take the restored stock back so the cancel can be retried cleanly.
		if _, redErr := s.ledger.Reduce(ctx, ledgerItems, false); redErr != nil {
			s.logger.Error("compensation: re-reduce stock", slog.Int64("order_id", order.ID), slog.Any("error", redErr))
		}
		return nil, err
	}

	if order.ClientID != nil {
		if err := s.clients.ApplyOrderDeleted(ctx, *order.ClientID, order.GrandTotal, order.Advance, 0); err != nil {
			s.logger.Warn("client counters not updated for cancel",
				slog.Int64("client_id", *order.ClientID), slog.Any("error", err))
		}
		if order.Advance > 0 {
			if err := s.clients.CreditAdvance(ctx, *order.ClientID, order.Advance); err != nil {
				s.logger.Error("advance not credited on cancel",
					slog.Int64("client_id", *order.ClientID), slog.Any("error", err))
			}
		}
	}

	s.cache.Invalidate(ctx, orders.CacheKey(order.ID))
	s.recordAudit(ctx, actorID, "order.cancel", "order", order.OrderNo, nil)
	return order, nil
}

// DeleteOrder removes an order outright. Administrative path: client
// aggregates are reversed, stock is deliberately left as-is.
func (s *Service) DeleteOrder(ctx context.Context, orderID, actorID int64) error {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.ClientID != nil {
		if err := s.clients.ApplyOrderDeleted(ctx, *order.ClientID, order.GrandTotal, order.Advance, order.ReturnedAmount); err != nil {
			s.logger.Warn("client counters not updated for delete",
				slog.Int64("client_id", *order.ClientID), slog.Any("error", err))
		}
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, orders.CacheKey(orderID))
	s.publisher.Publish(ctx, events.OrderDeleted, order.OrderNo, map[string]any{
		"order_id": orderID,
	})
	s.recordAudit(ctx, actorID, "order.delete", "order", order.OrderNo, map[string]any{
		"grand_total": order.GrandTotal,
	})
	return nil
}

// GetDelivery loads one delivery.
func (s *Service) GetDelivery(ctx context.Context, id int64) (*Delivery, error) {
	return s.deliveries.Get(ctx, id)
}

// ListDeliveries returns every delivery recorded against an order.
func (s *Service) ListDeliveries(ctx context.Context, orderID int64) ([]Delivery, error) {
	return s.deliveries.ListByOrder(ctx, orderID)
}

// GetInvoice loads one invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.invoices.Get(ctx, id)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
