package orders

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// OrderedQty sums ordered quantities across all items.
func (o *Order) OrderedQty() int {
	total := 0
	for _, item := range o.Items {
		total += item.OrderedQty
	}
	return total
}

// DeliveredQty sums delivered quantities across all items.
func (o *Order) DeliveredQty() int {
	total := 0
	for _, item := range o.Items {
		total += item.DeliveredQty
	}
	return total
}

// RemainingQty sums remaining quantities across all items.
func (o *Order) RemainingQty() int {
	total := 0
	for _, item := range o.Items {
		total += item.RemainingQty
	}
	return total
}

// EffectiveTotal is the grand total net of returned goods. Payment status is
// always judged against it, never against the raw grand total.
func (o *Order) EffectiveTotal() float64 {
	return o.GrandTotal - o.ReturnedAmount
}

// Recalculate derives every computed field from the current base fields. It
// is a pure function of the order and is applied on every save. Cancelled is
// sticky and wins over everything else.
func Recalculate(o *Order) {
	ordered := o.OrderedQty()
	delivered := o.DeliveredQty()

	switch {
	case delivered <= 0:
		o.Progress = 0
	case delivered >= ordered:
		o.Progress = 100
	default:
		o.Progress = int(math.Round(100 * float64(delivered) / float64(ordered)))
	}

	effective := o.EffectiveTotal()
	switch {
	case o.Advance >= effective:
		o.PaymentStatus = PaymentPaid
	case o.Advance > 0:
		o.PaymentStatus = PaymentPartial
	default:
		o.PaymentStatus = PaymentUnpaid
	}

	o.BalanceDue = o.GrandTotal - o.Advance - o.ReturnedAmount

	if o.Status == StatusCancelled {
		o.IsLocked = false
		return
	}

	switch {
	case delivered == 0:
		if o.Advance > 0 || o.TotalDeliveries > 0 {
			o.Status = StatusInProgress
		} else {
			o.Status = StatusOpen
		}
	case delivered < ordered:
		o.Status = StatusPartialDelivered
	default:
		if o.PaymentStatus == PaymentPaid {
			o.Status = StatusCompleted
		} else {
			o.Status = StatusDelivered
		}
	}

	o.IsLocked = o.Status == StatusCompleted
}

// DeliverQuantities moves quantities from remaining to delivered for the
// referenced lines. Validation happens before any line is touched, so a
// rejected request leaves the order unchanged.
func (o *Order) DeliverQuantities(quantities map[uuid.UUID]int) error {
	if len(quantities) == 0 {
		return ErrNothingToDeliver
	}
	for lineID, qty := range quantities {
		item := o.ItemByLine(lineID)
		if item == nil {
			return fmt.Errorf("%w: line %s", ErrLineNotFound, lineID)
		}
		if qty <= 0 {
			return fmt.Errorf("%w: line %s", ErrExceedsRemaining, lineID)
		}
		if qty > item.RemainingQty {
			return fmt.Errorf("%w: line %s has %d remaining, requested %d",
				ErrExceedsRemaining, lineID, item.RemainingQty, qty)
		}
	}
	for lineID, qty := range quantities {
		item := o.ItemByLine(lineID)
		item.DeliveredQty += qty
		item.RemainingQty = item.OrderedQty - item.DeliveredQty
	}
	return nil
}

// ReturnQuantities moves quantities back from delivered to remaining. As with
// DeliverQuantities, validation is all-or-nothing.
func (o *Order) ReturnQuantities(quantities map[uuid.UUID]int) error {
	if len(quantities) == 0 {
		return ErrExceedsDelivered
	}
	for lineID, qty := range quantities {
		item := o.ItemByLine(lineID)
		if item == nil {
			return fmt.Errorf("%w: line %s", ErrLineNotFound, lineID)
		}
		if qty <= 0 || qty > item.DeliveredQty {
			return fmt.Errorf("%w: line %s has %d delivered, requested %d",
				ErrExceedsDelivered, lineID, item.DeliveredQty, qty)
		}
	}
	for lineID, qty := range quantities {
		item := o.ItemByLine(lineID)
		item.DeliveredQty -= qty
		item.RemainingQty = item.OrderedQty - item.DeliveredQty
	}
	return nil
}

// Round2 rounds a money amount to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
