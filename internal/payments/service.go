package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-oms/meridian-oms/internal/clients"
	"github.com/meridian-oms/meridian-oms/internal/events"
	"github.com/meridian-oms/meridian-oms/internal/fulfillment"
	"github.com/meridian-oms/meridian-oms/internal/observability"
	"github.com/meridian-oms/meridian-oms/internal/orders"
	"github.com/meridian-oms/meridian-oms/internal/platform/cache"
	"github.com/meridian-oms/meridian-oms/internal/sequence"
	"github.com/meridian-oms/meridian-oms/internal/shared"
)

// moneyEpsilon absorbs float drift when comparing two-decimal amounts.
const moneyEpsilon = 1e-6

// OrderStore is the order-side surface the allocator needs.
type OrderStore interface {
	Get(ctx context.Context, id int64) (*orders.Order, error)
	Save(ctx context.Context, o *orders.Order) error
	ListOpenByClient(ctx context.Context, clientID int64) ([]*orders.Order, error)
}

// PaymentStore persists payment documents.
type PaymentStore interface {
	Get(ctx context.Context, id int64) (*Payment, error)
	Create(ctx context.Context, p *Payment) error
	Delete(ctx context.Context, id int64) error
	ListByOrder(ctx context.Context, orderID int64) ([]Payment, error)
	ListByClient(ctx context.Context, clientID int64) ([]Payment, error)
	MaxSequence(ctx context.Context, prefix string) (int, error)
}

// ClientLedger maintains client balances and counters.
type ClientLedger interface {
	Get(ctx context.Context, id int64) (clients.Client, error)
	ApplyPayment(ctx context.Context, id int64, amount float64) error
	CreditAdvance(ctx context.Context, id int64, amount float64) error
	DebitAdvance(ctx context.Context, id int64, amount float64) error
	DebitRefundable(ctx context.Context, id int64, amount float64) error
}

// InvoiceReader resolves invoices for the invoice payment path.
type InvoiceReader interface {
	Get(ctx context.Context, id int64) (*fulfillment.Invoice, error)
}

// LockManager hands out per-order advisory locks.
type LockManager interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Service records payments and allocates them to orders. Every amount
// received or handed back leaves a payment document; order and client updates
// are separate atomic steps with explicit compensation.
type Service struct {
	logger    *slog.Logger
	orders    OrderStore
	payments  PaymentStore
	clients   ClientLedger
	invoices  InvoiceReader
	locks     LockManager
	publisher events.Publisher
	cache     *cache.ReadThrough
	metrics   *observability.Metrics
	seq       *sequence.Allocator
	now       func() time.Time
}

// Deps carries the service's collaborators. Invoices, publisher, cache and
// metrics may be nil.
type Deps struct {
	Logger    *slog.Logger
	Orders    OrderStore
	Payments  PaymentStore
	Clients   ClientLedger
	Invoices  InvoiceReader
	Locks     LockManager
	Publisher events.Publisher
	Cache     *cache.ReadThrough
	Metrics   *observability.Metrics
}

// NewService builds the payment allocator.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	return &Service{
		logger:    d.Logger,
		orders:    d.Orders,
		payments:  d.Payments,
		clients:   d.Clients,
		invoices:  d.Invoices,
		locks:     d.Locks,
		publisher: d.Publisher,
		cache:     d.Cache,
		metrics:   d.Metrics,
		seq:       sequence.NewAllocator(d.Payments.MaxSequence),
		now:       time.Now,
	}
}

// OrderPaymentInput describes money received against one order.
type OrderPaymentInput struct {
	OrderID   int64
	Amount    float64
	Method    string
	Reference string
	Notes     string
	ActorID   int64
}

// RecordOrderPayment applies a payment to a single order. Amounts above the
// order's balance due are rejected outright; clients wanting to overpay use
// the client payment path, which parks the excess as advance credit.
func (s *Service) RecordOrderPayment(ctx context.Context, in OrderPaymentInput) (*Payment, error) {
	return s.payOrder(ctx, in, TypeOrderPayment)
}

// RecordOrderAdvance routes an order advance through the allocator. It exists
// so the fulfillment workflow can record the initial advance without knowing
// payment internals.
func (s *Service) RecordOrderAdvance(ctx context.Context, orderID int64, amount float64, actorID int64) error {
	_, err := s.payOrder(ctx, OrderPaymentInput{
		OrderID: orderID,
		Amount:  amount,
		Method:  "advance",
		ActorID: actorID,
	}, TypeOrderPayment)
	return err
}

// InvoicePaymentInput describes money received against a generated invoice.
type InvoicePaymentInput struct {
	InvoiceID int64
	Amount    float64
	Method    string
	Reference string
	ActorID   int64
}

// RecordInvoicePayment pays the order behind an invoice. The invoice snapshot
// itself stays frozen; only the order's running totals move.
func (s *Service) RecordInvoicePayment(ctx context.Context, in InvoicePaymentInput) (*Payment, error) {
	invoice, err := s.invoices.Get(ctx, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	return s.payOrder(ctx, OrderPaymentInput{
		OrderID:   invoice.OrderID,
		Amount:    in.Amount,
		Method:    in.Method,
		Reference: invoice.InvoiceNo,
		ActorID:   in.ActorID,
	}, TypeInvoicePayment)
}

func (s *Service) payOrder(ctx context.Context, in OrderPaymentInput, typ Type) (*Payment, error) {
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

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
	if in.Amount-order.BalanceDue > moneyEpsilon {
		return nil, fmt.Errorf("%w: due %.2f, offered %.2f", ErrExceedsBalanceDue, order.BalanceDue, in.Amount)
	}

	order.Advance = orders.Round2(order.Advance + in.Amount)
	orders.Recalculate(order)
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, err
	}

	payment := &Payment{
		Type:            typ,
		ClientID:        order.ClientID,
		OrderID:         &order.ID,
		Amount:          in.Amount,
		AllocatedAmount: in.Amount,
		Allocations:     []Allocation{{OrderID: order.ID, OrderNo: order.OrderNo, Amount: in.Amount}},
		Method:          in.Method,
		Reference:       in.Reference,
		Notes:           in.Notes,
		ReceivedAt:      s.now(),
		CreatedBy:       in.ActorID,
	}
	if err := s.persist(ctx, payment); err != nil {
		s.revertOrderAdvance(ctx, order.ID, in.Amount)
		return nil, err
	}

	if order.ClientID != nil {
		if err := s.clients.ApplyPayment(ctx, *order.ClientID, in.Amount); err != nil {
			s.logger.Warn("client counters not updated for payment",
				slog.Int64("client_id", *order.ClientID), slog.Any("error", err))
		}
	}
	s.finish(ctx, payment, order.ID)
	return payment, nil
}

// AllocationRequest asks for part of a client payment to land on one order.
type AllocationRequest struct {
	OrderID int64
	Amount  float64
}

// ClientPaymentInput describes money received from a client, possibly
// covering several orders.
type ClientPaymentInput struct {
	ClientID int64
	Amount   float64
	// Allocations pins amounts to orders. Empty means allocate automatically
	// against open orders, oldest first.
	Allocations []AllocationRequest
	Method      string
	Reference   string
	Notes       string
	ActorID     int64
}

// RecordClientPayment allocates a client payment across their open orders.
// Whatever cannot be allocated becomes advance credit, so the full amount is
// always accounted for.
func (s *Service) RecordClientPayment(ctx context.Context, in ClientPaymentInput) (*Payment, error) {
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	client, err := s.clients.Get(ctx, in.ClientID)
	if err != nil {
		return nil, err
	}

	var applied []Allocation
	if len(in.Allocations) > 0 {
		total := 0.0
		for _, req := range in.Allocations {
			if req.Amount <= 0 {
				return nil, ErrInvalidAmount
			}
			total += req.Amount
		}
		if total-in.Amount > moneyEpsilon {
			return nil, fmt.Errorf("%w: allocations %.2f, amount %.2f", ErrOverAllocated, total, in.Amount)
		}
		applied, err = s.applyExplicit(ctx, client.ID, in.Allocations)
	} else {
		applied, err = s.applyOldestFirst(ctx, client.ID, in.Amount)
	}
	if err != nil {
		s.revertAllocations(ctx, applied)
		return nil, err
	}

	allocated := 0.0
	for _, a := range applied {
		allocated += a.Amount
	}
	allocated = orders.Round2(allocated)
	remaining := orders.Round2(in.Amount - allocated)
	if remaining > 0 {
		if err := s.clients.CreditAdvance(ctx, client.ID, remaining); err != nil {
			s.revertAllocations(ctx, applied)
			return nil, err
		}
	}

	typ := TypeOrderPayment
	if allocated == 0 {
		typ = TypeAdvancePayment
	}
	payment := &Payment{
		Type:            typ,
		ClientID:        &client.ID,
		Amount:          in.Amount,
		AllocatedAmount: allocated,
		RemainingAmount: remaining,
		Allocations:     applied,
		Method:          in.Method,
		Reference:       in.Reference,
		Notes:           in.Notes,
		ReceivedAt:      s.now(),
		CreatedBy:       in.ActorID,
	}
	if err := s.persist(ctx, payment); err != nil {
		if remaining > 0 {
			if debitErr := s.clients.DebitAdvance(ctx, client.ID, remaining); debitErr != nil {
				s.logger.Error("compensation: debit advance", slog.Any("error", debitErr))
			}
		}
		s.revertAllocations(ctx, applied)
		return nil, err
	}

	if allocated > 0 {
		if err := s.clients.ApplyPayment(ctx, client.ID, allocated); err != nil {
			s.logger.Warn("client counters not updated for payment",
				slog.Int64("client_id", client.ID), slog.Any("error", err))
		}
	}
	orderIDs := make([]int64, 0, len(applied))
	for _, a := range applied {
		orderIDs = append(orderIDs, a.OrderID)
	}
	s.finish(ctx, payment, orderIDs...)
	return payment, nil
}

func (s *Service) applyExplicit(ctx context.Context, clientID int64, reqs []AllocationRequest) ([]Allocation, error) {
	var applied []Allocation
	for _, req := range reqs {
		alloc, err := s.allocate(ctx, clientID, req.OrderID, req.Amount, false)
		if err != nil {
			return applied, err
		}
		applied = append(applied, alloc)
	}
	return applied, nil
}

func (s *Service) applyOldestFirst(ctx context.Context, clientID int64, amount float64) ([]Allocation, error) {
	open, err := s.orders.ListOpenByClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	var applied []Allocation
	left := amount
	for _, o := range open {
		if left <= moneyEpsilon {
			break
		}
		share := orders.Round2(left)
		if o.BalanceDue < share {
			share = o.BalanceDue
		}
		if share <= 0 {
			continue
		}
		alloc, err := s.allocate(ctx, clientID, o.ID, share, true)
		if err != nil {
			return applied, err
		}
		applied = append(applied, alloc)
		left = orders.Round2(left - alloc.Amount)
	}
	return applied, nil
}

// allocate applies one amount to one order under its lock. In clamp mode the
// amount shrinks to the order's current balance; otherwise exceeding the
// balance is an error.
func (s *Service) allocate(ctx context.Context, clientID, orderID int64, amount float64, clamp bool) (Allocation, error) {
	release, err := s.locks.Acquire(ctx, shared.OrderLockKey(orderID))
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			s.metrics.LockContention()
		}
		return Allocation{}, err
	}
	defer release()

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Allocation{}, err
	}
	if order.ClientID == nil || *order.ClientID != clientID {
		return Allocation{}, fmt.Errorf("%w: order %d does not belong to client %d", orders.ErrOrderNotFound, orderID, clientID)
	}
	if order.Status == orders.StatusCancelled {
		return Allocation{}, orders.ErrOrderCancelled
	}
	if amount-order.BalanceDue > moneyEpsilon {
		if !clamp {
			return Allocation{}, fmt.Errorf("%w: order %s due %.2f, requested %.2f",
				ErrExceedsBalanceDue, order.OrderNo, order.BalanceDue, amount)
		}
		amount = order.BalanceDue
	}
	if amount <= 0 {
		return Allocation{}, ErrInvalidAmount
	}

	order.Advance = orders.Round2(order.Advance + amount)
	orders.Recalculate(order)
	if err := s.orders.Save(ctx, order); err != nil {
		return Allocation{}, err
	}
	return Allocation{OrderID: order.ID, OrderNo: order.OrderNo, Amount: amount}, nil
}

// revertAllocations backs the advance out of every order a failed payment
// touched.
func (s *Service) revertAllocations(ctx context.Context, applied []Allocation) {
	for i := len(applied) - 1; i >= 0; i-- {
		s.revertOrderAdvance(ctx, applied[i].OrderID, applied[i].Amount)
	}
}

func (s *Service) revertOrderAdvance(ctx context.Context, orderID int64, amount float64) {
	release, err := s.locks.Acquire(ctx, shared.OrderLockKey(orderID))
	if err == nil {
		defer release()
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		s.logger.Error("compensation: reload order", slog.Int64("order_id", orderID), slog.Any("error", err))
		return
	}
	order.Advance = orders.Round2(order.Advance - amount)
	orders.Recalculate(order)
	if err := s.orders.Save(ctx, order); err != nil {
		s.logger.Error("compensation: revert advance", slog.Int64("order_id", orderID), slog.Any("error", err))
	}
}

// RecordAdvancePayment parks money on the client without touching any order.
func (s *Service) RecordAdvancePayment(ctx context.Context, clientID int64, amount float64, method, notes string, actorID int64) (*Payment, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	client, err := s.clients.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := s.clients.CreditAdvance(ctx, client.ID, amount); err != nil {
		return nil, err
	}

	payment := &Payment{
		Type:            TypeAdvancePayment,
		ClientID:        &client.ID,
		Amount:          amount,
		RemainingAmount: amount,
		Method:          method,
		Notes:           notes,
		ReceivedAt:      s.now(),
		CreatedBy:       actorID,
	}
	if err := s.persist(ctx, payment); err != nil {
		if debitErr := s.clients.DebitAdvance(ctx, client.ID, amount); debitErr != nil {
			s.logger.Error("compensation: debit advance", slog.Any("error", debitErr))
		}
		return nil, err
	}
	s.finish(ctx, payment)
	return payment, nil
}

// UseAdvanceForOrder moves existing client credit onto an order. The order is
// updated first; if the guarded debit then finds the credit gone, the order
// update is reverted and the insufficient-advance error propagates.
func (s *Service) UseAdvanceForOrder(ctx context.Context, orderID int64, amount float64, actorID int64) (*Payment, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

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
	if order.ClientID == nil {
		return nil, clients.ErrClientNotFound
	}
	if order.Status == orders.StatusCancelled {
		return nil, orders.ErrOrderCancelled
	}
	if amount-order.BalanceDue > moneyEpsilon {
		return nil, fmt.Errorf("%w: due %.2f, offered %.2f", ErrExceedsBalanceDue, order.BalanceDue, amount)
	}
	clientID := *order.ClientID

	order.Advance = orders.Round2(order.Advance + amount)
	orders.Recalculate(order)
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, err
	}

	if err := s.clients.DebitAdvance(ctx, clientID, amount); err != nil {
		s.revertSavedOrder(ctx, order, amount)
		return nil, err
	}

	payment := &Payment{
		Type:            TypeAdjustment,
		ClientID:        &clientID,
		OrderID:         &order.ID,
		Amount:          amount,
		AllocatedAmount: amount,
		Allocations:     []Allocation{{OrderID: order.ID, OrderNo: order.OrderNo, Amount: amount}},
		Method:          "advance_balance",
		ReceivedAt:      s.now(),
		CreatedBy:       actorID,
	}
	if err := s.persist(ctx, payment); err != nil {
		if creditErr := s.clients.CreditAdvance(ctx, clientID, amount); creditErr != nil {
			s.logger.Error("compensation: re-credit advance", slog.Any("error", creditErr))
		}
		s.revertSavedOrder(ctx, order, amount)
		return nil, err
	}

	if err := s.clients.ApplyPayment(ctx, clientID, amount); err != nil {
		s.logger.Warn("client counters not updated for advance use",
			slog.Int64("client_id", clientID), slog.Any("error", err))
	}
	s.finish(ctx, payment, order.ID)
	return payment, nil
}

// revertSavedOrder undoes an advance applied to an already-loaded order while
// its lock is still held.
func (s *Service) revertSavedOrder(ctx context.Context, order *orders.Order, amount float64) {
	order.Advance = orders.Round2(order.Advance - amount)
	orders.Recalculate(order)
	if err := s.orders.Save(ctx, order); err != nil {
		s.logger.Error("compensation: revert advance", slog.Int64("order_id", order.ID), slog.Any("error", err))
	}
}

// RecordReturnRefund hands money back for returned goods. The payment
// document is created first; the guarded refundable debit then either
// succeeds or the document is removed again.
func (s *Service) RecordReturnRefund(ctx context.Context, orderID, clientID int64, amount float64, actorID int64) (*Payment, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	payment := &Payment{
		Type:            TypeReturnRefund,
		ClientID:        &clientID,
		OrderID:         &orderID,
		Amount:          amount,
		AllocatedAmount: amount,
		ReceivedAt:      s.now(),
		CreatedBy:       actorID,
	}
	if err := s.persist(ctx, payment); err != nil {
		return nil, err
	}
	if err := s.clients.DebitRefundable(ctx, clientID, amount); err != nil {
		if delErr := s.payments.Delete(ctx, payment.ID); delErr != nil {
			s.logger.Error("compensation: delete refund payment", slog.Any("error", delErr))
		}
		return nil, err
	}
	s.finish(ctx, payment, orderID)
	return payment, nil
}

// Get loads one payment.
func (s *Service) Get(ctx context.Context, id int64) (*Payment, error) {
	return s.payments.Get(ctx, id)
}

// ListByOrder returns payments recorded against an order.
func (s *Service) ListByOrder(ctx context.Context, orderID int64) ([]Payment, error) {
	return s.payments.ListByOrder(ctx, orderID)
}

// ListByClient returns a client's payments.
func (s *Service) ListByClient(ctx context.Context, clientID int64) ([]Payment, error) {
	return s.payments.ListByClient(ctx, clientID)
}

func (s *Service) persist(ctx context.Context, payment *Payment) error {
	_, err := s.seq.Next(ctx, sequence.KindPayment, payment.ReceivedAt, func(ctx context.Context, code string) error {
		payment.PaymentNo = code
		return s.payments.Create(ctx, payment)
	})
	return err
}

func (s *Service) finish(ctx context.Context, payment *Payment, orderIDs ...int64) {
	for _, id := range orderIDs {
		s.cache.Invalidate(ctx, orders.CacheKey(id))
	}
	s.publisher.Publish(ctx, events.PaymentRecorded, payment.PaymentNo, map[string]any{
		"type":   string(payment.Type),
		"amount": payment.Amount,
	})
}
