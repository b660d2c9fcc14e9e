package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-oms/meridian-oms/internal/sequence"
)

// DeliveryRepository persists delivery records in PostgreSQL. Line snapshots
// are stored as JSONB: deliveries are immutable documents, never queried by
// line.
type DeliveryRepository struct {
	pool *pgxpool.Pool
}

// NewDeliveryRepository constructs DeliveryRepository.
func NewDeliveryRepository(pool *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

const deliveryColumns = `id, delivery_no, order_id, order_no, client_id, items, total,
	delivery_date, expected_delivery_date, performance,
	status, invoice_id, notes, created_by, created_at`

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	err := row.Scan(
		&d.ID, &d.DeliveryNo, &d.OrderID, &d.OrderNo, &d.ClientID, &d.Items, &d.Total,
		&d.DeliveryDate, &d.ExpectedDeliveryDate, &d.Performance,
		&d.Status, &d.InvoiceID, &d.Notes, &d.CreatedBy, &d.CreatedAt,
	)
	return d, err
}

// Get loads one delivery.
func (r *DeliveryRepository) Get(ctx context.Context, id int64) (*Delivery, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("fulfillment: get delivery: %w", err)
	}
	return &d, nil
}

// Create inserts a delivery. A duplicate delivery_no surfaces as
// sequence.ErrDuplicateCode for the allocator to retry.
func (r *DeliveryRepository) Create(ctx context.Context, d *Delivery) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO deliveries (
			delivery_no, order_id, order_no, client_id, items, total,
			delivery_date, expected_delivery_date, performance,
			status, notes, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING id, created_at`,
		d.DeliveryNo, d.OrderID, d.OrderNo, d.ClientID, d.Items, d.Total,
		d.DeliveryDate, d.ExpectedDeliveryDate, d.Performance,
		d.Status, d.Notes, d.CreatedBy,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sequence.ErrDuplicateCode
		}
		return fmt.Errorf("fulfillment: insert delivery: %w", err)
	}
	return nil
}

// Delete removes a delivery. Only the compensation path of a failed order
// save uses it.
func (r *DeliveryRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM deliveries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("fulfillment: delete delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// SetStatus updates the shipment leg status.
func (r *DeliveryRepository) SetStatus(ctx context.Context, id int64, status DeliveryStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE deliveries SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("fulfillment: set delivery status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// LinkInvoice attaches a generated invoice to its delivery.
func (r *DeliveryRepository) LinkInvoice(ctx context.Context, deliveryID, invoiceID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE deliveries SET invoice_id = $2 WHERE id = $1`, deliveryID, invoiceID)
	if err != nil {
		return fmt.Errorf("fulfillment: link invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// ListByOrder returns an order's deliveries in creation order.
func (r *DeliveryRepository) ListByOrder(ctx context.Context, orderID int64) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE order_id = $1
		ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("fulfillment: list deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MaxSequence returns the highest numeric code suffix for a month prefix.
func (r *DeliveryRepository) MaxSequence(ctx context.Context, prefix string) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(SUBSTRING(delivery_no FROM '^'||$1||'(\d{4})$')::int), 0)
		FROM deliveries
		WHERE delivery_no LIKE $1 || '%'`, prefix).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("fulfillment: delivery max sequence: %w", err)
	}
	return max, nil
}

// InvoiceRepository persists invoice snapshots in PostgreSQL.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository constructs InvoiceRepository.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

const invoiceColumns = `id, invoice_no, order_id, delivery_id, client_id, items,
	subtotal, freight, tax_amount, discount, grand_total,
	advance, balance_due, payment_status, issued_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.InvoiceNo, &inv.OrderID, &inv.DeliveryID, &inv.ClientID, &inv.Items,
		&inv.Subtotal, &inv.Freight, &inv.TaxAmount, &inv.Discount, &inv.GrandTotal,
		&inv.Advance, &inv.BalanceDue, &inv.PaymentStatus, &inv.IssuedAt,
	)
	return inv, err
}

// Get loads one invoice.
func (r *InvoiceRepository) Get(ctx context.Context, id int64) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("fulfillment: get invoice: %w", err)
	}
	return &inv, nil
}

// Create inserts an invoice, translating a duplicate invoice_no for the
// allocator.
func (r *InvoiceRepository) Create(ctx context.Context, inv *Invoice) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO invoices (
			invoice_no, order_id, delivery_id, client_id, items,
			subtotal, freight, tax_amount, discount, grand_total,
			advance, balance_due, payment_status, issued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		inv.InvoiceNo, inv.OrderID, inv.DeliveryID, inv.ClientID, inv.Items,
		inv.Subtotal, inv.Freight, inv.TaxAmount, inv.Discount, inv.GrandTotal,
		inv.Advance, inv.BalanceDue, inv.PaymentStatus, inv.IssuedAt,
	).Scan(&inv.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return sequence.ErrDuplicateCode
		}
		return fmt.Errorf("fulfillment: insert invoice: %w", err)
	}
	return nil
}

// MaxSequence returns the highest numeric code suffix for a month prefix.
func (r *InvoiceRepository) MaxSequence(ctx context.Context, prefix string) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(SUBSTRING(invoice_no FROM '^'||$1||'(\d{4})$')::int), 0)
		FROM invoices
		WHERE invoice_no LIKE $1 || '%'`, prefix).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("fulfillment: invoice max sequence: %w", err)
	}
	return max, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
