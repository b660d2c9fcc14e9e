package inventory

import (
	"errors"
	"fmt"
)

// Item names a product and a quantity inside a ledger batch.
type Item struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// StockChange records one applied stock mutation with before/after counts.
// Tracked is false for products with stock counting disabled; those entries
// were no-ops.
type StockChange struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Tracked   bool   `json:"tracked"`
	Before    int    `json:"before"`
	After     int    `json:"after"`
}

// ReduceResult describes the outcome of a successful reduce batch.
type ReduceResult struct {
	// Affected lists tracked products whose counts changed.
	Affected []StockChange
	// LowStock lists affected products that fell below the alert threshold.
	LowStock []StockChange
	// Skipped lists items passed over in partial mode for lack of stock.
	Skipped []Item
}

// InsufficientStockError reports a guarded decrement rejected because the
// available count was below the requested quantity.
type InsufficientStockError struct {
	ProductID int64
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %q (product %d): available %d, requested %d",
		e.Name, e.ProductID, e.Available, e.Requested)
}

// ErrProductNotFound indicates a batch item referencing a missing product.
var ErrProductNotFound = errors.New("inventory: product not found")

// ErrInvalidQuantity indicates a non-positive quantity in a batch.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
