package clients

import (
	"errors"
	"time"
)

// Client aggregates the financial relationship with one customer. The counter
// fields are running totals maintained incrementally by the order, payment and
// return workflows; the document log remains the source of truth and the
// counters can be rebuilt from it at any time.
type Client struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`

	TotalOrders      int     `json:"total_orders"`
	TotalSpent       float64 `json:"total_spent"`
	TotalPaid        float64 `json:"total_paid"`
	TotalDue         float64 `json:"total_due"`
	TotalReturns     int     `json:"total_returns"`
	TotalReturnValue float64 `json:"total_return_value"`

	// AdvanceBalance is unallocated credit; RefundableBalance is money the
	// business owes back. Both are kept non-negative by guarded debits.
	AdvanceBalance    float64 `json:"advance_balance"`
	RefundableBalance float64 `json:"refundable_balance"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrClientNotFound indicates a missing client.
	ErrClientNotFound = errors.New("clients: client not found")
	// ErrInsufficientAdvance is returned when a guarded advance debit would
	// drive the balance negative.
	ErrInsufficientAdvance = errors.New("clients: insufficient advance balance")
	// ErrInsufficientRefundable is returned when a refund exceeds the
	// client's refundable balance.
	ErrInsufficientRefundable = errors.New("clients: insufficient refundable balance")
)
