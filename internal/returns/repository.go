package returns

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-oms/meridian-oms/internal/sequence"
)

// Repository persists return documents in PostgreSQL. Items are a JSONB
// snapshot, same as deliveries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const returnColumns = `id, return_no, order_id, order_no, client_id, items,
	total_value, refundable_amount, refunded_amount, refund_status,
	reason, created_by, created_at`

func scanReturn(row pgx.Row) (Return, error) {
	var ret Return
	err := row.Scan(
		&ret.ID, &ret.ReturnNo, &ret.OrderID, &ret.OrderNo, &ret.ClientID, &ret.Items,
		&ret.TotalValue, &ret.RefundableAmount, &ret.RefundedAmount, &ret.RefundStatus,
		&ret.Reason, &ret.CreatedBy, &ret.CreatedAt,
	)
	return ret, err
}

// Get loads one return.
func (r *Repository) Get(ctx context.Context, id int64) (*Return, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM returns WHERE id = $1`, id)
	ret, err := scanReturn(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReturnNotFound
		}
		return nil, fmt.Errorf("returns: get: %w", err)
	}
	return &ret, nil
}

// Create inserts a return, translating a duplicate return_no for the
// allocator.
func (r *Repository) Create(ctx context.Context, ret *Return) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO returns (
			return_no, order_id, order_no, client_id, items,
			total_value, refundable_amount, refunded_amount, refund_status,
			reason, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING id, created_at`,
		ret.ReturnNo, ret.OrderID, ret.OrderNo, ret.ClientID, ret.Items,
		ret.TotalValue, ret.RefundableAmount, ret.RefundedAmount, ret.RefundStatus,
		ret.Reason, ret.CreatedBy,
	).Scan(&ret.ID, &ret.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sequence.ErrDuplicateCode
		}
		return fmt.Errorf("returns: insert: %w", err)
	}
	return nil
}

// Delete removes a return. Compensation path only.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM returns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("returns: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReturnNotFound
	}
	return nil
}

// UpdateRefund persists the refunded tally and status.
func (r *Repository) UpdateRefund(ctx context.Context, id int64, refunded float64, status RefundStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE returns SET refunded_amount = $2, refund_status = $3
		WHERE id = $1`, id, refunded, status)
	if err != nil {
		return fmt.Errorf("returns: update refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReturnNotFound
	}
	return nil
}

// ListByOrder returns an order's returns in creation order.
func (r *Repository) ListByOrder(ctx context.Context, orderID int64) ([]Return, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+returnColumns+` FROM returns
		WHERE order_id = $1
		ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("returns: list by order: %w", err)
	}
	defer rows.Close()

	var out []Return
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}

// MaxSequence returns the highest numeric code suffix for a month prefix.
func (r *Repository) MaxSequence(ctx context.Context, prefix string) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(SUBSTRING(return_no FROM '^'||$1||'(\d{4})$')::int), 0)
		FROM returns
		WHERE return_no LIKE $1 || '%'`, prefix).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("returns: max sequence: %w", err)
	}
	return max, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
