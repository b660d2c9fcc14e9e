package orders

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind tags the two order variants. Counter sales have no client ledger to
// reconcile against, which changes how returns are handled.
type Kind string

const (
	KindStandard    Kind = "standard"
	KindCounterSale Kind = "counter_sale"
)

// Status is the order lifecycle state, derived on every save.
type Status string

const (
	StatusOpen             Status = "open"
	StatusInProgress       Status = "in_progress"
	StatusPartialDelivered Status = "partial_delivered"
	StatusDelivered        Status = "delivered"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
)

// PaymentStatus tracks how much of the effective total has been collected.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// Item is one ordered line. LineID is assigned at order creation and is the
// only key deliveries and returns match on.
type Item struct {
	LineID       uuid.UUID `json:"line_id"`
	ProductID    int64     `json:"product_id"`
	Name         string    `json:"name"`
	UnitPrice    float64   `json:"unit_price"`
	OrderedQty   int       `json:"ordered_qty"`
	DeliveredQty int       `json:"delivered_qty"`
	RemainingQty int       `json:"remaining_qty"`
	LineTotal    float64   `json:"line_total"`
}

// Order is the aggregate root of the fulfillment workflow. Derived fields
// (Progress, Status, PaymentStatus, BalanceDue, IsLocked) are recomputed by
// Recalculate on every save and never written directly.
type Order struct {
	ID       int64     `json:"id"`
	OrderNo  string    `json:"order_no"`
	ClientID *int64    `json:"client_id,omitempty"`
	Kind     Kind      `json:"kind"`
	Items    []Item    `json:"items"`

	Subtotal   float64 `json:"subtotal"`
	Freight    float64 `json:"freight"`
	TaxPercent float64 `json:"tax_percent"`
	TaxAmount  float64 `json:"tax_amount"`
	Discount   float64 `json:"discount"`
	GrandTotal float64 `json:"grand_total"`

	Advance        float64 `json:"advance"`
	ReturnedAmount float64 `json:"returned_amount"`
	BalanceDue     float64 `json:"balance_due"`

	Progress      int           `json:"progress"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	IsLocked      bool          `json:"is_locked"`

	TotalDeliveries int `json:"total_deliveries"`
	TotalReturns    int `json:"total_returns"`

	OrderDate            time.Time  `json:"order_date"`
	ExpectedDeliveryDate *time.Time `json:"expected_delivery_date,omitempty"`
	ActualDeliveryDate   *time.Time `json:"actual_delivery_date,omitempty"`

	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrOrderNotFound indicates a missing order.
	ErrOrderNotFound = errors.New("orders: order not found")
	// ErrOrderLocked rejects edits to a completed order. Only the return
	// workflow may unlock it.
	ErrOrderLocked = errors.New("orders: order is locked")
	// ErrOrderCancelled rejects mutations against a cancelled order.
	ErrOrderCancelled = errors.New("orders: order is cancelled")
	// ErrLineNotFound indicates a delivery or return referencing an unknown
	// line item.
	ErrLineNotFound = errors.New("orders: line item not found")
	// ErrExceedsRemaining rejects a delivery quantity above the line's
	// remaining quantity.
	ErrExceedsRemaining = errors.New("orders: quantity exceeds remaining")
	// ErrExceedsDelivered rejects a return quantity above the line's
	// delivered quantity.
	ErrExceedsDelivered = errors.New("orders: quantity exceeds delivered")
	// ErrNothingToDeliver indicates an empty or fully delivered order.
	ErrNothingToDeliver = errors.New("orders: nothing left to deliver")
)

// CounterSale reports whether the order is a till-style counter sale.
func (o *Order) CounterSale() bool {
	return o.Kind == KindCounterSale
}

// ItemByLine returns a pointer to the item with the given line ID.
func (o *Order) ItemByLine(lineID uuid.UUID) *Item {
	for i := range o.Items {
		if o.Items[i].LineID == lineID {
			return &o.Items[i]
		}
	}
	return nil
}
