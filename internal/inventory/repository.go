package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements StockRepository against PostgreSQL. Each operation is
// one guarded UPDATE: the availability check and the decrement are the same
// statement, so there is no read-then-write gap for concurrent callers to
// slip through.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DecrementIfAvailable implements StockRepository.
func (r *Repository) DecrementIfAvailable(ctx context.Context, productID int64, qty int) (StockChange, error) {
	var name string
	var after int
	err := r.pool.QueryRow(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock IS NOT NULL AND stock >= $2
		RETURNING name, stock`, productID, qty).Scan(&name, &after)
	if err == nil {
		return StockChange{
			ProductID: productID,
			Name:      name,
			Tracked:   true,
			Before:    after + qty,
			After:     after,
		}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return StockChange{}, fmt.Errorf("inventory: guarded decrement: %w", err)
	}
	return r.diagnose(ctx, productID, qty)
}

// Increment implements StockRepository.
func (r *Repository) Increment(ctx context.Context, productID int64, qty int) (StockChange, error) {
	var name string
	var after int
	err := r.pool.QueryRow(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1 AND stock IS NOT NULL
		RETURNING name, stock`, productID, qty).Scan(&name, &after)
	if err == nil {
		return StockChange{
			ProductID: productID,
			Name:      name,
			Tracked:   true,
			Before:    after - qty,
			After:     after,
		}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return StockChange{}, fmt.Errorf("inventory: increment: %w", err)
	}
	// Either the product is missing or tracking is disabled.
	change, diagErr := r.diagnose(ctx, productID, 0)
	if diagErr != nil {
		return StockChange{}, diagErr
	}
	return change, nil
}

// diagnose distinguishes the three reasons a guarded update matched no row:
// missing product, tracking disabled, or insufficient stock. The state read
// here is advisory only; the mutation itself already happened (or not)
// atomically.
func (r *Repository) diagnose(ctx context.Context, productID int64, requested int) (StockChange, error) {
	var name string
	var stock *int
	err := r.pool.QueryRow(ctx, `SELECT name, stock FROM products WHERE id = $1`, productID).Scan(&name, &stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockChange{}, fmt.Errorf("%w: product %d", ErrProductNotFound, productID)
		}
		return StockChange{}, fmt.Errorf("inventory: inspect product: %w", err)
	}
	if stock == nil {
		return StockChange{ProductID: productID, Name: name, Tracked: false}, nil
	}
	return StockChange{}, &InsufficientStockError{
		ProductID: productID,
		Name:      name,
		Available: *stock,
		Requested: requested,
	}
}
