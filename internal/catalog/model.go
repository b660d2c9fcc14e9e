package catalog

import (
	"errors"
	"time"
)

// Product is a sellable item. Stock is nil when tracking is disabled, which
// the inventory ledger treats as infinite availability. The stock count is
// mutated only through the inventory ledger; every other write path leaves it
// untouched.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	UnitPrice float64   `json:"unit_price"`
	Stock     *int      `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracked reports whether stock counting is enabled for the product.
func (p Product) Tracked() bool {
	return p.Stock != nil
}

// ErrProductNotFound indicates a missing product.
var ErrProductNotFound = errors.New("catalog: product not found")
