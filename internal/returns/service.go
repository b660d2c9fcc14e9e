package returns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-oms/meridian-oms/internal/events"
	"github.com/meridian-oms/meridian-oms/internal/inventory"
	"github.com/meridian-oms/meridian-oms/internal/observability"
	"github.com/meridian-oms/meridian-oms/internal/orders"
	"github.com/meridian-oms/meridian-oms/internal/payments"
	"github.com/meridian-oms/meridian-oms/internal/platform/cache"
	"github.com/meridian-oms/meridian-oms/internal/sequence"
	"github.com/meridian-oms/meridian-oms/internal/shared"
)

const moneyEpsilon = 1e-6

// OrderStore persists order aggregates. Delete is only reached when a
// counter-sale return empties the order.
type OrderStore interface {
	Get(ctx context.Context, id int64) (*orders.Order, error)
	Save(ctx context.Context, o *orders.Order) error
	Delete(ctx context.Context, id int64) error
}

// ReturnStore persists return documents.
type ReturnStore interface {
	Get(ctx context.Context, id int64) (*Return, error)
	Create(ctx context.Context, ret *Return) error
	Delete(ctx context.Context, id int64) error
	UpdateRefund(ctx context.Context, id int64, refunded float64, status RefundStatus) error
	ListByOrder(ctx context.Context, orderID int64) ([]Return, error)
	MaxSequence(ctx context.Context, prefix string) (int, error)
}

// StockLedger restores returned goods and re-reduces them on compensation.
type StockLedger interface {
	Reduce(ctx context.Context, items []inventory.Item, allowPartial bool) (inventory.ReduceResult, error)
	Restore(ctx context.Context, items []inventory.Item) ([]inventory.StockChange, error)
}

// ClientLedger maintains client return counters.
type ClientLedger interface {
	ApplyReturn(ctx context.Context, id int64, returnValue, dueReduction, refundable float64) error
}

// RefundRecorder pays refundable money back through the payment allocator.
type RefundRecorder interface {
	RecordReturnRefund(ctx context.Context, orderID, clientID int64, amount float64, actorID int64) (*payments.Payment, error)
}

// LockManager hands out per-order advisory locks.
type LockManager interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Auditor records administrative actions.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service reconciles returned goods with stock and money. Goods go back on
// the shelf first; the financial consequences follow on the order, the
// return document and the client's refundable balance.
type Service struct {
	logger    *slog.Logger
	orders    OrderStore
	returns   ReturnStore
	ledger    StockLedger
	clients   ClientLedger
	refunds   RefundRecorder
	locks     LockManager
	publisher events.Publisher
	audit     Auditor
	cache     *cache.ReadThrough
	metrics   *observability.Metrics
	seq       *sequence.Allocator
	now       func() time.Time
}

// Deps carries the service's collaborators. Publisher, audit, cache and
// metrics may be nil.
type Deps struct {
	Logger    *slog.Logger
	Orders    OrderStore
	Returns   ReturnStore
	Ledger    StockLedger
	Clients   ClientLedger
	Refunds   RefundRecorder
	Locks     LockManager
	Publisher events.Publisher
	Audit     Auditor
	Cache     *cache.ReadThrough
	Metrics   *observability.Metrics
}

// NewService builds the return reconciler.
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
		returns:   d.Returns,
		ledger:    d.Ledger,
		clients:   d.Clients,
		refunds:   d.Refunds,
		locks:     d.Locks,
		publisher: d.Publisher,
		audit:     d.Audit,
		cache:     d.Cache,
		metrics:   d.Metrics,
		seq:       sequence.NewAllocator(d.Returns.MaxSequence),
		now:       time.Now,
	}
}

// ReturnLine asks to return a quantity against one order line.
type ReturnLine struct {
	LineID   uuid.UUID
	Quantity int
}

// CreateReturnInput describes goods coming back against an order.
type CreateReturnInput struct {
	OrderID int64
	Lines   []ReturnLine
	Reason  string
	ActorID int64
}

// CreateReturn takes delivered goods back. Stock is restored first; if the
// return document or the order update cannot be persisted afterwards, the
// restored quantities are reduced again. A return against a completed order
// reopens and unlocks it. Counter-sale returns shrink the order itself
// instead of accruing a refundable amount, deleting it once every line is
// gone.
func (s *Service) CreateReturn(ctx context.Context, in CreateReturnInput) (*Return, error) {
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("%w: empty return", inventory.ErrInvalidQuantity)
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
	if order.DeliveredQty() == 0 {
		return nil, ErrNothingDelivered
	}
	dueBefore := math.Max(order.BalanceDue, 0)

	quantities := make(map[uuid.UUID]int, len(in.Lines))
	for _, line := range in.Lines {
		quantities[line.LineID] += line.Quantity
	}

	ret := &Return{
		OrderID:   order.ID,
		OrderNo:   order.OrderNo,
		ClientID:  order.ClientID,
		Reason:    in.Reason,
		CreatedBy: in.ActorID,
	}
	stockItems := make([]inventory.Item, 0, len(quantities))
	for lineID, qty := range quantities {
		item := order.ItemByLine(lineID)
		if item == nil {
			return nil, fmt.Errorf("%w: line %s", orders.ErrLineNotFound, lineID)
		}
		lineTotal := orders.Round2(float64(qty) * item.UnitPrice)
		ret.Items = append(ret.Items, Item{
			LineID:    lineID,
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  qty,
			LineTotal: lineTotal,
		})
		stockItems = append(stockItems, inventory.Item{ProductID: item.ProductID, Quantity: qty})
		ret.TotalValue += lineTotal
	}
	ret.TotalValue = orders.Round2(ret.TotalValue)

	if err := order.ReturnQuantities(quantities); err != nil {
		return nil, err
	}

	deleteOrder := false
	if order.CounterSale() {
		deleteOrder = shrinkCounterSale(order, quantities)
		ret.RefundStatus = RefundNone
	} else {
		order.ReturnedAmount = orders.Round2(order.ReturnedAmount + ret.TotalValue)
		// Earlier returns already banked their share of the overpayment;
		// only the excess this return newly creates accrues here.
		accrued, err := s.accruedRefundable(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		ret.RefundableAmount = orders.Round2(math.Max(0, order.Advance-order.EffectiveTotal()-accrued))
		if ret.RefundableAmount > 0 {
			ret.RefundStatus = RefundPending
		} else {
			ret.RefundStatus = RefundNone
		}
	}
	order.TotalReturns++
	orders.Recalculate(order)

	if _, err := s.ledger.Restore(ctx, stockItems); err != nil {
		return nil, err
	}

	_, err = s.seq.Next(ctx, sequence.KindReturn, s.now(), func(ctx context.Context, code string) error {
		ret.ReturnNo = code
		return s.returns.Create(ctx, ret)
	})
	if err != nil {
		s.reReduce(ctx, stockItems)
		return nil, err
	}

	if deleteOrder {
		err = s.orders.Delete(ctx, order.ID)
	} else {
		err = s.orders.Save(ctx, order)
	}
	if err != nil {
		if delErr := s.returns.Delete(ctx, ret.ID); delErr != nil {
			s.logger.Error("compensation: delete return", slog.Int64("return_id", ret.ID), slog.Any("error", delErr))
		}
		s.reReduce(ctx, stockItems)
		return nil, err
	}

	if order.ClientID != nil {
		dueAfter := math.Max(order.BalanceDue, 0)
		err := s.clients.ApplyReturn(ctx, *order.ClientID, ret.TotalValue, dueBefore-dueAfter, ret.RefundableAmount)
		if err != nil {
			s.logger.Warn("client counters not updated for return",
				slog.Int64("client_id", *order.ClientID), slog.Any("error", err))
		}
	}

	s.cache.Invalidate(ctx, orders.CacheKey(order.ID))
	s.publisher.Publish(ctx, events.ReturnCreated, ret.ReturnNo, map[string]any{
		"order_id":   order.ID,
		"value":      ret.TotalValue,
		"refundable": ret.RefundableAmount,
	})
	s.recordAudit(ctx, in.ActorID, "return.create", "return", ret.ReturnNo, map[string]any{
		"order_no": ret.OrderNo,
		"value":    ret.TotalValue,
	})
	return ret, nil
}

// shrinkCounterSale removes the returned quantities from the sale itself:
// ordered quantities drop, totals are recomputed, and any money collected
// beyond the new total is treated as handed straight back at the counter.
// Reports whether the order has no lines left.
func shrinkCounterSale(order *orders.Order, quantities map[uuid.UUID]int) bool {
	kept := order.Items[:0]
	for i := range order.Items {
		item := order.Items[i]
		if qty := quantities[item.LineID]; qty > 0 {
			item.OrderedQty -= qty
			item.RemainingQty = item.OrderedQty - item.DeliveredQty
			item.LineTotal = orders.Round2(float64(item.OrderedQty) * item.UnitPrice)
		}
		if item.OrderedQty > 0 {
			kept = append(kept, item)
		}
	}
	order.Items = kept

	subtotal := 0.0
	for _, item := range order.Items {
		subtotal += item.LineTotal
	}
	order.Subtotal = orders.Round2(subtotal)
	order.TaxAmount = orders.Round2(order.Subtotal * order.TaxPercent / 100)
	order.GrandTotal = orders.Round2(order.Subtotal + order.Freight + order.TaxAmount - order.Discount)
	if order.Advance > order.GrandTotal {
		order.Advance = order.GrandTotal
	}
	return len(order.Items) == 0
}

// accruedRefundable sums the refundable amounts already granted by existing
// return documents on the order.
func (s *Service) accruedRefundable(ctx context.Context, orderID int64) (float64, error) {
	prior, err := s.returns.ListByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, p := range prior {
		total += p.RefundableAmount
	}
	return total, nil
}

func (s *Service) reReduce(ctx context.Context, items []inventory.Item) {
	// Partial mode: goods sold in the meantime cannot be pulled back, and a
	// failed compensation must not mask the original error.
	if _, err := s.ledger.Reduce(ctx, items, true); err != nil {
		s.logger.Error("compensation: re-reduce stock", slog.Any("error", err))
	}
}

// RefundInput asks to pay back part of a return's refundable amount.
type RefundInput struct {
	ReturnID int64
	Amount   float64
	ActorID  int64
}

// RecordRefund hands refundable money back. The payment side (document plus
// guarded balance debit) either completes or nothing moves; the return
// document's refunded tally follows.
func (s *Service) RecordRefund(ctx context.Context, in RefundInput) (*Return, error) {
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	ret, err := s.returns.Get(ctx, in.ReturnID)
	if err != nil {
		return nil, err
	}
	if ret.ClientID == nil || ret.RefundableAmount <= 0 {
		return nil, ErrNoRefundDue
	}
	outstanding := orders.Round2(ret.RefundableAmount - ret.RefundedAmount)
	if in.Amount-outstanding > moneyEpsilon {
		return nil, fmt.Errorf("%w: outstanding %.2f, requested %.2f", ErrExceedsRefundable, outstanding, in.Amount)
	}

	if _, err := s.refunds.RecordReturnRefund(ctx, ret.OrderID, *ret.ClientID, in.Amount, in.ActorID); err != nil {
		return nil, err
	}

	ret.RefundedAmount = orders.Round2(ret.RefundedAmount + in.Amount)
	if ret.RefundableAmount-ret.RefundedAmount <= moneyEpsilon {
		ret.RefundStatus = RefundComplete
	} else {
		ret.RefundStatus = RefundPartial
	}
	if err := s.returns.UpdateRefund(ctx, ret.ID, ret.RefundedAmount, ret.RefundStatus); err != nil {
		// The money moved correctly; only the tally is stale. Surface the
		// error so the caller retries the bookkeeping.
		s.logger.Error("refund tally not persisted", slog.Int64("return_id", ret.ID), slog.Any("error", err))
		return nil, err
	}

	s.recordAudit(ctx, in.ActorID, "return.refund", "return", ret.ReturnNo, map[string]any{
		"amount": in.Amount,
	})
	return ret, nil
}

// Get loads one return.
func (s *Service) Get(ctx context.Context, id int64) (*Return, error) {
	return s.returns.Get(ctx, id)
}

// ListByOrder returns every return recorded against an order.
func (s *Service) ListByOrder(ctx context.Context, orderID int64) ([]Return, error) {
	return s.returns.ListByOrder(ctx, orderID)
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
