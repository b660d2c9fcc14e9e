package fulfillment

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-oms/meridian-oms/internal/orders"
)

// DeliveryStatus tracks the shipment leg of a delivery record. The record
// itself is immutable after creation except for status and invoice linkage.
type DeliveryStatus string

const (
	DeliveryDispatched DeliveryStatus = "dispatched"
	DeliveryInTransit  DeliveryStatus = "in_transit"
	DeliveryDelivered  DeliveryStatus = "delivered"
)

// Performance grades a delivery against the order's expected date.
type Performance string

const (
	PerformanceEarly  Performance = "early"
	PerformanceOnTime Performance = "on_time"
	PerformanceLate   Performance = "late"
)

// DeliveryItem is a snapshot of one shipped line.
type DeliveryItem struct {
	LineID    uuid.UUID `json:"line_id"`
	ProductID int64     `json:"product_id"`
	Name      string    `json:"name"`
	UnitPrice float64   `json:"unit_price"`
	Quantity  int       `json:"quantity"`
	LineTotal float64   `json:"line_total"`
}

// Delivery is an immutable record of a single shipment event against one
// order.
type Delivery struct {
	ID         int64          `json:"id"`
	DeliveryNo string         `json:"delivery_no"`
	OrderID    int64          `json:"order_id"`
	OrderNo    string         `json:"order_no"`
	ClientID   *int64         `json:"client_id,omitempty"`
	Items      []DeliveryItem `json:"items"`
	Total      float64        `json:"total"`

	DeliveryDate         time.Time   `json:"delivery_date"`
	ExpectedDeliveryDate *time.Time  `json:"expected_delivery_date,omitempty"`
	Performance          Performance `json:"performance"`

	Status    DeliveryStatus `json:"status"`
	InvoiceID *int64         `json:"invoice_id,omitempty"`
	Notes     string         `json:"notes,omitempty"`
	CreatedBy int64          `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
}

// Invoice is a billing snapshot derived from an order or a delivery at a
// point in time. Its advance/balance fields are independent of the order's
// running totals.
type Invoice struct {
	ID         int64          `json:"id"`
	InvoiceNo  string         `json:"invoice_no"`
	OrderID    int64          `json:"order_id"`
	DeliveryID *int64         `json:"delivery_id,omitempty"`
	ClientID   *int64         `json:"client_id,omitempty"`
	Items      []DeliveryItem `json:"items"`

	Subtotal   float64 `json:"subtotal"`
	Freight    float64 `json:"freight"`
	TaxAmount  float64 `json:"tax_amount"`
	Discount   float64 `json:"discount"`
	GrandTotal float64 `json:"grand_total"`

	Advance       float64              `json:"advance"`
	BalanceDue    float64              `json:"balance_due"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`

	IssuedAt time.Time `json:"issued_at"`
}

var (
	// ErrDeliveryNotFound indicates a missing delivery record.
	ErrDeliveryNotFound = errors.New("fulfillment: delivery not found")
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = errors.New("fulfillment: invoice not found")
	// ErrInvalidStatus rejects an unknown delivery status transition.
	ErrInvalidStatus = errors.New("fulfillment: invalid delivery status")
	// ErrAdvanceExceedsTotal rejects an advance above the order total.
	ErrAdvanceExceedsTotal = errors.New("fulfillment: advance exceeds grand total")
	// ErrEmptyOrder rejects an order with no items.
	ErrEmptyOrder = errors.New("fulfillment: order must contain at least one item")
	// ErrDeliveryStarted rejects cancellation once goods have shipped.
	ErrDeliveryStarted = errors.New("fulfillment: order already has deliveries")
	// ErrInvalidAmount rejects negative money amounts.
	ErrInvalidAmount = errors.New("fulfillment: amount must not be negative")
	// ErrClientRequired rejects a standard order without a resolvable client.
	ErrClientRequired = errors.New("fulfillment: client name and phone required")
)

// derivePerformance grades the actual delivery date against the expected
// date: early when strictly before, on time within one day after, late
// otherwise. Without an expected date there is nothing to miss.
func derivePerformance(actual time.Time, expected *time.Time) Performance {
	if expected == nil || expected.IsZero() {
		return PerformanceOnTime
	}
	if actual.Before(*expected) {
		return PerformanceEarly
	}
	if actual.Sub(*expected) <= 24*time.Hour {
		return PerformanceOnTime
	}
	return PerformanceLate
}
