package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/meridian-oms/meridian-oms/internal/events"
	"github.com/meridian-oms/meridian-oms/internal/observability"
)

// StockRepository is the per-product atomic primitive set the ledger is built
// on. Both operations are single guarded statements: the precondition and the
// mutation are one store operation with no visible intermediate state.
type StockRepository interface {
	// DecrementIfAvailable subtracts qty only when the current tracked stock
	// is at least qty. It returns *InsufficientStockError when the guard
	// fails, ErrProductNotFound when the product is missing, and a no-op
	// change with Tracked=false when stock counting is disabled.
	DecrementIfAvailable(ctx context.Context, productID int64, qty int) (StockChange, error)
	// Increment adds qty unconditionally. There is no upper bound to guard.
	Increment(ctx context.Context, productID int64, qty int) (StockChange, error)
}

// AlertSink receives low-stock notifications. Delivery is best-effort.
type AlertSink interface {
	NotifyLowStock(ctx context.Context, changes []StockChange)
}

// Ledger is the only code path allowed to change product stock counts.
type Ledger struct {
	repo      StockRepository
	publisher events.Publisher
	alerts    AlertSink
	metrics   *observability.Metrics
	logger    *slog.Logger
	threshold int
}

// LedgerConfig groups optional settings.
type LedgerConfig struct {
	// LowStockThreshold marks products for notification when their count
	// drops below it after a reduce. Defaults to 10.
	LowStockThreshold int
}

// NewLedger builds a Ledger. Publisher, alerts and metrics may be nil.
func NewLedger(repo StockRepository, publisher events.Publisher, alerts AlertSink, metrics *observability.Metrics, logger *slog.Logger, cfg LedgerConfig) *Ledger {
	threshold := cfg.LowStockThreshold
	if threshold <= 0 {
		threshold = 10
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		repo:      repo,
		publisher: publisher,
		alerts:    alerts,
		metrics:   metrics,
		logger:    logger,
		threshold: threshold,
	}
}

// Reduce decrements stock for every tracked item in the batch. In strict mode
// (allowPartial=false) a failed guard undoes every decrement already applied
// in the same batch and returns the insufficient-stock error; in partial mode
// the short item is skipped and the batch continues. Items referencing
// untracked products are no-ops.
func (l *Ledger) Reduce(ctx context.Context, items []Item, allowPartial bool) (ReduceResult, error) {
	if err := validateItems(items); err != nil {
		return ReduceResult{}, err
	}

	var result ReduceResult
	for _, item := range items {
		change, err := l.repo.DecrementIfAvailable(ctx, item.ProductID, item.Quantity)
		if err != nil {
			var short *InsufficientStockError
			if errors.As(err, &short) {
				l.metrics.StockGuardFailure()
				if allowPartial {
					result.Skipped = append(result.Skipped, item)
					continue
				}
			}
			l.rollbackDecrements(ctx, result.Affected)
			return ReduceResult{}, err
		}
		if !change.Tracked {
			continue
		}
		result.Affected = append(result.Affected, change)
		if change.After < l.threshold {
			result.LowStock = append(result.LowStock, change)
		}
	}

	l.announce(ctx, result.Affected)
	if len(result.LowStock) > 0 && l.alerts != nil {
		l.alerts.NotifyLowStock(ctx, result.LowStock)
	}
	return result, nil
}

// Restore increments stock for every tracked item. It has no guard to
// violate; it is used by cancellations and returns.
func (l *Ledger) Restore(ctx context.Context, items []Item) ([]StockChange, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}

	var applied []StockChange
	for _, item := range items {
		change, err := l.repo.Increment(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return applied, err
		}
		if change.Tracked {
			applied = append(applied, change)
		}
	}
	l.announce(ctx, applied)
	return applied, nil
}

// Adjust applies the signed per-product difference between an order's old and
// new item sets. Positive deltas are guarded decrements and run first, so a
// guard failure only ever has decrements to unwind; negative deltas are
// unconditional increments applied after every decrement succeeded.
func (l *Ledger) Adjust(ctx context.Context, oldItems, newItems []Item) ([]StockChange, error) {
	deltas := make(map[int64]int)
	order := make([]int64, 0, len(newItems)+len(oldItems))
	note := func(id int64) {
		if _, seen := deltas[id]; !seen {
			order = append(order, id)
			deltas[id] = 0
		}
	}
	for _, item := range newItems {
		note(item.ProductID)
		deltas[item.ProductID] += item.Quantity
	}
	for _, item := range oldItems {
		note(item.ProductID)
		deltas[item.ProductID] -= item.Quantity
	}

	var applied []StockChange
	for _, id := range order {
		if deltas[id] <= 0 {
			continue
		}
		change, err := l.repo.DecrementIfAvailable(ctx, id, deltas[id])
		if err != nil {
			l.rollbackDecrements(ctx, applied)
			return nil, err
		}
		if change.Tracked {
			applied = append(applied, change)
		}
	}
	for _, id := range order {
		if deltas[id] >= 0 {
			continue
		}
		change, err := l.repo.Increment(ctx, id, -deltas[id])
		if err != nil {
			return applied, err
		}
		if change.Tracked {
			applied = append(applied, change)
		}
	}
	l.announce(ctx, applied)
	return applied, nil
}

// rollbackDecrements re-increments every decrement applied earlier in a
// failed batch. Compensation failures are logged; they cannot be allowed to
// mask the original error.
func (l *Ledger) rollbackDecrements(ctx context.Context, applied []StockChange) {
	if len(applied) == 0 {
		return
	}
	l.metrics.LedgerRollback()
	for i := len(applied) - 1; i >= 0; i-- {
		change := applied[i]
		qty := change.Before - change.After
		if qty <= 0 {
			continue
		}
		if _, err := l.repo.Increment(ctx, change.ProductID, qty); err != nil {
			l.logger.Error("ledger rollback failed",
				slog.Int64("product_id", change.ProductID),
				slog.Int("quantity", qty),
				slog.Any("error", err))
		}
	}
}

func (l *Ledger) announce(ctx context.Context, changes []StockChange) {
	for _, change := range changes {
		l.publisher.Publish(ctx, events.InventoryUpdated, strconv.FormatInt(change.ProductID, 10), map[string]any{
			"product_id": change.ProductID,
			"before":     change.Before,
			"after":      change.After,
		})
	}
}

func validateItems(items []Item) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidQuantity)
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: product %d", ErrInvalidQuantity, item.ProductID)
		}
	}
	return nil
}
