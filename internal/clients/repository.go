package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const clientColumns = `id, name, phone, address,
	total_orders, total_spent, total_paid, total_due,
	total_returns, total_return_value,
	advance_balance, refundable_balance,
	created_at, updated_at`

// Repository persists clients in PostgreSQL. Counter updates are single-row
// increments; the advance and refundable balances additionally carry a guard
// so they can never go negative under concurrent debits.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(
		&c.ID, &c.Name, &c.Phone, &c.Address,
		&c.TotalOrders, &c.TotalSpent, &c.TotalPaid, &c.TotalDue,
		&c.TotalReturns, &c.TotalReturnValue,
		&c.AdvanceBalance, &c.RefundableBalance,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// Get loads a client by ID.
func (r *Repository) Get(ctx context.Context, id int64) (Client, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrClientNotFound
		}
		return Client{}, fmt.Errorf("clients: get: %w", err)
	}
	return c, nil
}

// GetOrCreate resolves a client by phone, creating it when missing.
func (r *Repository) GetOrCreate(ctx context.Context, name, phone, address string) (Client, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO clients (name, phone, address, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (phone) DO UPDATE SET updated_at = NOW()
		RETURNING `+clientColumns, name, phone, address)
	c, err := scanClient(row)
	if err != nil {
		return Client{}, fmt.Errorf("clients: get or create: %w", err)
	}
	return c, nil
}

// List returns clients ordered by name.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Client, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("clients: list: %w", err)
	}
	defer rows.Close()
	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ApplyOrderCreated bumps aggregate counters for a newly created order.
func (r *Repository) ApplyOrderCreated(ctx context.Context, id int64, grandTotal, advance float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE clients SET
			total_orders = total_orders + 1,
			total_spent = total_spent + $2,
			total_paid = total_paid + $3,
			total_due = total_due + $2 - $3,
			updated_at = NOW()
		WHERE id = $1`, id, grandTotal, advance)
	if err != nil {
		return fmt.Errorf("clients: apply order created: %w", err)
	}
	return nil
}

// ApplyOrderDeleted reverses the aggregate effect of an administratively
// deleted order. Stock is deliberately untouched here.
func (r *Repository) ApplyOrderDeleted(ctx context.Context, id int64, grandTotal, advance, returned float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE clients SET
			total_orders = total_orders - 1,
			total_spent = total_spent - $2,
			total_paid = total_paid - $3,
			total_due = total_due - ($2 - $3 - $4),
			updated_at = NOW()
		WHERE id = $1`, id, grandTotal, advance, returned)
	if err != nil {
		return fmt.Errorf("clients: apply order deleted: %w", err)
	}
	return nil
}

// ApplyPayment records money received against outstanding dues.
func (r *Repository) ApplyPayment(ctx context.Context, id int64, amount float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE clients SET
			total_paid = total_paid + $2,
			total_due = GREATEST(total_due - $2, 0),
			updated_at = NOW()
		WHERE id = $1`, id, amount)
	if err != nil {
		return fmt.Errorf("clients: apply payment: %w", err)
	}
	return nil
}

// ApplyReturn records a return's effect on the aggregates.
func (r *Repository) ApplyReturn(ctx context.Context, id int64, returnValue, dueReduction, refundable float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE clients SET
			total_returns = total_returns + 1,
			total_return_value = total_return_value + $2,
			total_due = GREATEST(total_due - $3, 0),
			refundable_balance = refundable_balance + $4,
			updated_at = NOW()
		WHERE id = $1`, id, returnValue, dueReduction, refundable)
	if err != nil {
		return fmt.Errorf("clients: apply return: %w", err)
	}
	return nil
}

// CreditAdvance adds unallocated credit.
func (r *Repository) CreditAdvance(ctx context.Context, id int64, amount float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE clients SET advance_balance = advance_balance + $2, updated_at = NOW()
		WHERE id = $1`, id, amount)
	if err != nil {
		return fmt.Errorf("clients: credit advance: %w", err)
	}
	return nil
}

// DebitAdvance atomically subtracts from the advance balance only when the
// full amount is available.
func (r *Repository) DebitAdvance(ctx context.Context, id int64, amount float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE clients SET advance_balance = advance_balance - $2, updated_at = NOW()
		WHERE id = $1 AND advance_balance >= $2`, id, amount)
	if err != nil {
		return fmt.Errorf("clients: debit advance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrInsufficientAdvance
	}
	return nil
}

// CreditRefundable adds to the refundable balance. Returns and refund
// compensations are its only callers.
func (r *Repository) CreditRefundable(ctx context.Context, id int64, amount float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE clients SET refundable_balance = refundable_balance + $2, updated_at = NOW()
		WHERE id = $1`, id, amount)
	if err != nil {
		return fmt.Errorf("clients: credit refundable: %w", err)
	}
	return nil
}

// DebitRefundable atomically subtracts from the refundable balance only when
// the full amount is available. Paying a refund also reduces total_paid: the
// money is handed back.
func (r *Repository) DebitRefundable(ctx context.Context, id int64, amount float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE clients SET
			refundable_balance = refundable_balance - $2,
			total_paid = total_paid - $2,
			updated_at = NOW()
		WHERE id = $1 AND refundable_balance >= $2`, id, amount)
	if err != nil {
		return fmt.Errorf("clients: debit refundable: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrInsufficientRefundable
	}
	return nil
}

// RebuildAggregates recomputes every counter from the order, payment and
// return log. The incremental counters are an optimization; this is the
// authoritative derivation, run periodically by the worker.
func (r *Repository) RebuildAggregates(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE clients c SET
			total_orders = o.cnt,
			total_spent = o.spent,
			total_due = o.due,
			total_returns = o.returns,
			total_return_value = o.return_value,
			updated_at = NOW()
		FROM (
			SELECT c2.id,
				COUNT(ord.id) AS cnt,
				COALESCE(SUM(ord.grand_total), 0) AS spent,
				COALESCE(SUM(GREATEST(ord.grand_total - ord.advance - ord.returned_amount, 0)), 0) AS due,
				COALESCE(SUM(ord.total_returns), 0) AS returns,
				COALESCE(SUM(ord.returned_amount), 0) AS return_value
			FROM clients c2
			LEFT JOIN orders ord ON ord.client_id = c2.id AND ord.status <> 'cancelled'
			GROUP BY c2.id
		) o
		WHERE o.id = c.id`)
	if err != nil {
		return fmt.Errorf("clients: rebuild aggregates: %w", err)
	}
	return nil
}
