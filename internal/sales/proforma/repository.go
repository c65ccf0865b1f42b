package proforma

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkline-erp/arkline/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// Get returns a proforma with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Proforma, error) {
	p, err := scanProforma(r.pool.QueryRow(ctx, `SELECT id, number, customer_id, status, notes, subtotal, discount, tax, grand_total, valid_until, issued_at, converted_at, COALESCE(sales_order_id, 0), created_at
		FROM proforma_invoices WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proforma{}, ErrNotFound
		}
		return Proforma{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, proforma_id, item_id, item_name, unit, qty, unit_price, discount_percent, tax_percent, discount_amount, tax_amount, line_total
		FROM proforma_invoice_lines WHERE proforma_id = $1 ORDER BY id`, id)
	if err != nil {
		return Proforma{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ProformaLine
		if err := rows.Scan(&l.ID, &l.ProformaID, &l.ItemID, &l.ItemName, &l.Unit, &l.Qty, &l.UnitPrice,
			&l.DiscountPercent, &l.TaxPercent, &l.DiscountAmount, &l.TaxAmount, &l.LineTotal); err != nil {
			return Proforma{}, err
		}
		p.Lines = append(p.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return Proforma{}, err
	}
	return p, nil
}

// List returns proformas filtered by status and customer.
func (r *Repository) List(ctx context.Context, limit, offset int, status Status, customerID int64) ([]Proforma, int, error) {
	countSQL := `SELECT COUNT(*) FROM proforma_invoices WHERE 1=1`
	dataSQL := `SELECT id, number, customer_id, status, notes, subtotal, discount, tax, grand_total, valid_until, issued_at, converted_at, COALESCE(sales_order_id, 0), created_at
		FROM proforma_invoices WHERE 1=1`
	args := []any{}
	argNum := 1
	if status != "" {
		clause := ` AND status = $` + strconv.Itoa(argNum)
		countSQL += clause
		dataSQL += clause
		args = append(args, string(status))
		argNum++
	}
	if customerID > 0 {
		clause := ` AND customer_id = $` + strconv.Itoa(argNum)
		countSQL += clause
		dataSQL += clause
		args = append(args, customerID)
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(argNum) + ` OFFSET $` + strconv.Itoa(argNum+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Proforma
	for rows.Next() {
		p, err := scanProforma(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProforma(row rowScanner) (Proforma, error) {
	var (
		p           Proforma
		validUntil  pgtype.Timestamptz
		issuedAt    pgtype.Timestamptz
		convertedAt pgtype.Timestamptz
	)
	err := row.Scan(&p.ID, &p.Number, &p.CustomerID, &p.Status, &p.Notes,
		&p.Subtotal, &p.Discount, &p.Tax, &p.GrandTotal,
		&validUntil, &issuedAt, &convertedAt, &p.SalesOrderID, &p.CreatedAt)
	if err != nil {
		return Proforma{}, err
	}
	if validUntil.Valid {
		p.ValidUntil = validUntil.Time
	}
	if issuedAt.Valid {
		p.IssuedAt = issuedAt.Time
	}
	if convertedAt.Valid {
		p.ConvertedAt = convertedAt.Time
	}
	return p, nil
}

func nullableTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func (tx *txRepo) Create(ctx context.Context, p Proforma) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO proforma_invoices (number, customer_id, status, notes, subtotal, discount, tax, grand_total, valid_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		p.Number, p.CustomerID, string(p.Status), p.Notes,
		p.Subtotal, p.Discount, p.Tax, p.GrandTotal, nullableTime(p.ValidUntil)).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertLine(ctx context.Context, line ProformaLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO proforma_invoice_lines (proforma_id, item_id, item_name, unit, qty, unit_price, discount_percent, tax_percent, discount_amount, tax_amount, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		line.ProformaID, line.ItemID, line.ItemName, line.Unit, line.Qty, line.UnitPrice,
		line.DiscountPercent, line.TaxPercent, line.DiscountAmount, line.TaxAmount, line.LineTotal).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateHeader(ctx context.Context, p Proforma) error {
	_, err := tx.tx.Exec(ctx, `UPDATE proforma_invoices
		SET notes = $1, subtotal = $2, discount = $3, tax = $4, grand_total = $5, valid_until = $6, issued_at = $7
		WHERE id = $8`,
		p.Notes, p.Subtotal, p.Discount, p.Tax, p.GrandTotal,
		nullableTime(p.ValidUntil), nullableTime(p.IssuedAt), p.ID)
	return err
}

func (tx *txRepo) DeleteLines(ctx context.Context, proformaID int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM proforma_invoice_lines WHERE proforma_id = $1`, proformaID)
	return err
}

func (tx *txRepo) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	switch status {
	case StatusIssued:
		_, err := tx.tx.Exec(ctx, `UPDATE proforma_invoices SET status = $1, issued_at = $2 WHERE id = $3`, string(status), at, id)
		return err
	default:
		_, err := tx.tx.Exec(ctx, `UPDATE proforma_invoices SET status = $1 WHERE id = $2`, string(status), id)
		return err
	}
}

func (tx *txRepo) SetConversion(ctx context.Context, id, salesOrderID int64, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE proforma_invoices SET status = $1, sales_order_id = $2, converted_at = $3 WHERE id = $4`,
		string(StatusConverted), salesOrderID, at, id)
	return err
}

func (tx *txRepo) CreateSalesOrder(ctx context.Context, order SalesOrder) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO sales_orders (number, customer_id, proforma_id, status)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		order.Number, order.CustomerID, order.ProformaID, order.Status).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertSalesOrderLine(ctx context.Context, orderID int64, line ProformaLine) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO sales_order_lines (order_id, item_id, item_name, unit, qty, delivered_qty, unit_price)
		VALUES ($1, $2, $3, $4, $5, 0, $6)`,
		orderID, line.ItemID, line.ItemName, line.Unit, line.Qty, line.UnitPrice)
	return err
}
