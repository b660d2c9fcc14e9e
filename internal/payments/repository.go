package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-oms/meridian-oms/internal/sequence"
)

// Repository persists payment documents in PostgreSQL. Allocations are a
// JSONB snapshot; per-order listing goes through the order_id column for
// single-order payments and JSONB containment for client payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const paymentColumns = `id, payment_no, type, client_id, order_id,
	amount, allocated_amount, remaining_amount, allocations,
	method, reference, notes, received_at, created_by, created_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.PaymentNo, &p.Type, &p.ClientID, &p.OrderID,
		&p.Amount, &p.AllocatedAmount, &p.RemainingAmount, &p.Allocations,
		&p.Method, &p.Reference, &p.Notes, &p.ReceivedAt, &p.CreatedBy, &p.CreatedAt,
	)
	return p, err
}

// Get loads one payment.
func (r *Repository) Get(ctx context.Context, id int64) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payments: get: %w", err)
	}
	return &p, nil
}

// Create inserts a payment, translating a duplicate payment_no for the
// allocator.
func (r *Repository) Create(ctx context.Context, p *Payment) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payments (
			payment_no, type, client_id, order_id,
			amount, allocated_amount, remaining_amount, allocations,
			method, reference, notes, received_at, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		RETURNING id, created_at`,
		p.PaymentNo, p.Type, p.ClientID, p.OrderID,
		p.Amount, p.AllocatedAmount, p.RemainingAmount, p.Allocations,
		p.Method, p.Reference, p.Notes, p.ReceivedAt, p.CreatedBy,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sequence.ErrDuplicateCode
		}
		return fmt.Errorf("payments: insert: %w", err)
	}
	return nil
}

// Delete removes a payment. Compensation path only.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("payments: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// ListByOrder returns payments touching an order, oldest first.
func (r *Repository) ListByOrder(ctx context.Context, orderID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE order_id = $1
		   OR allocations @> jsonb_build_array(jsonb_build_object('order_id', $1::bigint))
		ORDER BY received_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("payments: list by order: %w", err)
	}
	return collect(rows)
}

// ListByClient returns a client's payments, newest first.
func (r *Repository) ListByClient(ctx context.Context, clientID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE client_id = $1
		ORDER BY received_at DESC, id DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("payments: list by client: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Payment, error) {
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MaxSequence returns the highest numeric code suffix for a month prefix.
func (r *Repository) MaxSequence(ctx context.Context, prefix string) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(SUBSTRING(payment_no FROM '^'||$1||'(\d{4})$')::int), 0)
		FROM payments
		WHERE payment_no LIKE $1 || '%'`, prefix).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("payments: max sequence: %w", err)
	}
	return max, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
