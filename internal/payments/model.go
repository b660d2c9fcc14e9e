package payments

import (
	"errors"
	"time"
)

// Type classifies how a payment entered the books.
type Type string

const (
	// TypeOrderPayment is money received against one specific order.
	TypeOrderPayment Type = "order_payment"
	// TypeAdvancePayment is unallocated credit parked on the client.
	TypeAdvancePayment Type = "advance_payment"
	// TypeInvoicePayment is money received against a generated invoice.
	TypeInvoicePayment Type = "invoice_payment"
	// TypeReturnRefund is money handed back for returned goods.
	TypeReturnRefund Type = "return_refund"
	// TypeAdjustment moves existing client credit onto an order; no new money
	// changes hands.
	TypeAdjustment Type = "adjustment"
)

// Allocation records how much of a payment landed on one order.
type Allocation struct {
	OrderID int64   `json:"order_id"`
	OrderNo string  `json:"order_no"`
	Amount  float64 `json:"amount"`
}

// Payment is the immutable record of money movement. The invariant
// AllocatedAmount + RemainingAmount == Amount holds on every persisted
// payment; the remainder is credited to the client's advance balance.
type Payment struct {
	ID        int64  `json:"id"`
	PaymentNo string `json:"payment_no"`
	Type      Type   `json:"type"`
	ClientID  *int64 `json:"client_id,omitempty"`
	OrderID   *int64 `json:"order_id,omitempty"`

	Amount          float64      `json:"amount"`
	AllocatedAmount float64      `json:"allocated_amount"`
	RemainingAmount float64      `json:"remaining_amount"`
	Allocations     []Allocation `json:"allocations"`

	Method    string `json:"method,omitempty"`
	Reference string `json:"reference,omitempty"`
	Notes     string `json:"notes,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
	CreatedBy  int64     `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	// ErrPaymentNotFound indicates a missing payment.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("payments: amount must be positive")
	// ErrExceedsBalanceDue rejects a payment above the order's outstanding
	// balance. Overpayments go through the client payment path, which parks
	// the excess as advance credit.
	ErrExceedsBalanceDue = errors.New("payments: amount exceeds balance due")
	// ErrOverAllocated rejects explicit allocations summing above the payment
	// amount.
	ErrOverAllocated = errors.New("payments: allocations exceed payment amount")
)
