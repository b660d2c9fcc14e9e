package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-oms/meridian-oms/internal/platform/db"
	"github.com/meridian-oms/meridian-oms/internal/sequence"
)

const orderColumns = `id, order_no, client_id, kind,
	subtotal, freight, tax_percent, tax_amount, discount, grand_total,
	advance, returned_amount, balance_due,
	progress, status, payment_status, is_locked,
	total_deliveries, total_returns,
	order_date, expected_delivery_date, actual_delivery_date,
	notes, created_at, updated_at`

// Repository persists orders and their items in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.OrderNo, &o.ClientID, &o.Kind,
		&o.Subtotal, &o.Freight, &o.TaxPercent, &o.TaxAmount, &o.Discount, &o.GrandTotal,
		&o.Advance, &o.ReturnedAmount, &o.BalanceDue,
		&o.Progress, &o.Status, &o.PaymentStatus, &o.IsLocked,
		&o.TotalDeliveries, &o.TotalReturns,
		&o.OrderDate, &o.ExpectedDeliveryDate, &o.ActualDeliveryDate,
		&o.Notes, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

// Get loads an order with its items.
func (r *Repository) Get(ctx context.Context, id int64) (*Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("orders: get: %w", err)
	}
	items, err := r.getItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (r *Repository) getItems(ctx context.Context, orderID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT line_id, product_id, name, unit_price, ordered_qty, delivered_qty, remaining_qty, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("orders: get items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.LineID, &it.ProductID, &it.Name, &it.UnitPrice,
			&it.OrderedQty, &it.DeliveredQty, &it.RemainingQty, &it.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Create inserts the order header and its items in one transaction. A unique
// violation on order_no surfaces as sequence.ErrDuplicateCode so the
// allocator can retry with the next candidate.
func (r *Repository) Create(ctx context.Context, o *Order) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO orders (
				order_no, client_id, kind,
				subtotal, freight, tax_percent, tax_amount, discount, grand_total,
				advance, returned_amount, balance_due,
				progress, status, payment_status, is_locked,
				total_deliveries, total_returns,
				order_date, expected_delivery_date, actual_delivery_date,
				notes, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
				$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, NOW(), NOW()
			)
			RETURNING id, created_at, updated_at`,
			o.OrderNo, o.ClientID, o.Kind,
			o.Subtotal, o.Freight, o.TaxPercent, o.TaxAmount, o.Discount, o.GrandTotal,
			o.Advance, o.ReturnedAmount, o.BalanceDue,
			o.Progress, o.Status, o.PaymentStatus, o.IsLocked,
			o.TotalDeliveries, o.TotalReturns,
			o.OrderDate, o.ExpectedDeliveryDate, o.ActualDeliveryDate, o.Notes,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return sequence.ErrDuplicateCode
			}
			return fmt.Errorf("orders: insert: %w", err)
		}
		for _, item := range o.Items {
			_, err := tx.Exec(ctx, `
				INSERT INTO order_items (order_id, line_id, product_id, name, unit_price, ordered_qty, delivered_qty, remaining_qty, line_total)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				o.ID, item.LineID, item.ProductID, item.Name, item.UnitPrice,
				item.OrderedQty, item.DeliveredQty, item.RemainingQty, item.LineTotal)
			if err != nil {
				return fmt.Errorf("orders: insert item: %w", err)
			}
		}
		return nil
	})
}

// Save updates the order header and rewrites item quantities. Items no longer
// present on the order (counter-sale return shrinking) are deleted.
func (r *Repository) Save(ctx context.Context, o *Order) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET
				subtotal = $2, freight = $3, tax_percent = $4, tax_amount = $5,
				discount = $6, grand_total = $7,
				advance = $8, returned_amount = $9, balance_due = $10,
				progress = $11, status = $12, payment_status = $13, is_locked = $14,
				total_deliveries = $15, total_returns = $16,
				expected_delivery_date = $17, actual_delivery_date = $18,
				notes = $19, updated_at = NOW()
			WHERE id = $1`,
			o.ID, o.Subtotal, o.Freight, o.TaxPercent, o.TaxAmount,
			o.Discount, o.GrandTotal,
			o.Advance, o.ReturnedAmount, o.BalanceDue,
			o.Progress, o.Status, o.PaymentStatus, o.IsLocked,
			o.TotalDeliveries, o.TotalReturns,
			o.ExpectedDeliveryDate, o.ActualDeliveryDate, o.Notes)
		if err != nil {
			return fmt.Errorf("orders: update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrOrderNotFound
		}

		for _, item := range o.Items {
			_, err := tx.Exec(ctx, `
				UPDATE order_items SET
					delivered_qty = $3, remaining_qty = $4, ordered_qty = $5, line_total = $6
				WHERE order_id = $1 AND line_id = $2`,
				o.ID, item.LineID, item.DeliveredQty, item.RemainingQty, item.OrderedQty, item.LineTotal)
			if err != nil {
				return fmt.Errorf("orders: update item: %w", err)
			}
		}
		if len(o.Items) > 0 {
			_, err = tx.Exec(ctx, `
				DELETE FROM order_items
				WHERE order_id = $1 AND NOT (line_id = ANY($2))`, o.ID, lineIDs(o.Items))
			if err != nil {
				return fmt.Errorf("orders: prune items: %w", err)
			}
		}
		return nil
	})
}

// Delete removes an order and its items. Administrative path only; the caller
// reverses client aggregates and leaves stock untouched.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, id); err != nil {
			return fmt.Errorf("orders: delete items: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("orders: delete: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrOrderNotFound
		}
		return nil
	})
}

// ListOpenByClient returns the client's orders with a positive balance due,
// oldest order date first. Used by oldest-first auto allocation.
func (r *Repository) ListOpenByClient(ctx context.Context, clientID int64) ([]*Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE client_id = $1 AND balance_due > 0 AND status <> 'cancelled'
		ORDER BY order_date, id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("orders: list open: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range out {
		items, err := r.getItems(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		o.Items = items
	}
	return out, nil
}

// List returns orders filtered by client and/or status, newest first.
func (r *Repository) List(ctx context.Context, clientID int64, status Status, limit, offset int) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 = 0 OR client_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY order_date DESC, id DESC
		LIMIT $3 OFFSET $4`, clientID, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("orders: list: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MaxSequence returns the highest numeric code suffix for a month prefix.
func (r *Repository) MaxSequence(ctx context.Context, prefix string) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(SUBSTRING(order_no FROM '^'||$1||'(\d{4})$')::int), 0)
		FROM orders
		WHERE order_no LIKE $1 || '%'`, prefix).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("orders: max sequence: %w", err)
	}
	return max, nil
}

func lineIDs(items []Item) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.LineID)
	}
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
