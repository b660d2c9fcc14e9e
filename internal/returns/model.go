package returns

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RefundStatus tracks how much of a return's refundable amount has been paid
// back.
type RefundStatus string

const (
	// RefundPending means refundable money exists and none has been paid out.
	RefundPending RefundStatus = "pending"
	// RefundPartial means some but not all of the refundable amount was paid.
	RefundPartial RefundStatus = "partial"
	// RefundComplete means the full refundable amount was handed back.
	RefundComplete RefundStatus = "refunded"
	// RefundNone means the return produced nothing to pay back; the value
	// only reduced the outstanding balance.
	RefundNone RefundStatus = "no_refund"
)

// Item is one returned line.
type Item struct {
	LineID    uuid.UUID `json:"line_id"`
	ProductID int64     `json:"product_id"`
	Name      string    `json:"name"`
	UnitPrice float64   `json:"unit_price"`
	Quantity  int       `json:"quantity"`
	LineTotal float64   `json:"line_total"`
}

// Return records goods coming back against an order. RefundableAmount is
// fixed at creation: the part of the money already collected that the
// shrunken effective total no longer justifies.
type Return struct {
	ID       int64  `json:"id"`
	ReturnNo string `json:"return_no"`
	OrderID  int64  `json:"order_id"`
	OrderNo  string `json:"order_no"`
	ClientID *int64 `json:"client_id,omitempty"`
	Items    []Item `json:"items"`

	TotalValue       float64      `json:"total_value"`
	RefundableAmount float64      `json:"refundable_amount"`
	RefundedAmount   float64      `json:"refunded_amount"`
	RefundStatus     RefundStatus `json:"refund_status"`

	Reason    string    `json:"reason,omitempty"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	// ErrReturnNotFound indicates a missing return.
	ErrReturnNotFound = errors.New("returns: return not found")
	// ErrNothingDelivered rejects a return against an order that has not
	// shipped anything.
	ErrNothingDelivered = errors.New("returns: order has no delivered goods")
	// ErrExceedsRefundable rejects a refund above the return's remaining
	// refundable amount.
	ErrExceedsRefundable = errors.New("returns: amount exceeds refundable")
	// ErrNoRefundDue rejects a refund against a return with nothing to pay
	// back.
	ErrNoRefundDue = errors.New("returns: no refund due")
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("returns: amount must be positive")
)
