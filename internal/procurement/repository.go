package procurement

import (
	"context"
	"errors"
	"fmt"

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

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line POLine) (int64, error)
	UpdatePOHeader(ctx context.Context, po PurchaseOrder) error
	UpdatePOStatus(ctx context.Context, id int64, status POStatus) error
	DeletePOLines(ctx context.Context, poID int64) error
	DeletePO(ctx context.Context, id int64) error
	GetPOLines(ctx context.Context, poID int64) ([]POLine, error)
	AddReceivedQty(ctx context.Context, poLineID int64, qty int64) (bool, error)
	CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error)
	InsertReceiptLine(ctx context.Context, line ReceiptLine) (int64, error)
	UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction. The isolation level
// together with the guarded counter update serializes concurrent receipts
// against the same purchase order.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetPO returns a purchase order with its lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	var (
		po       PurchaseOrder
		expected pgtype.Date
	)
	err := r.pool.QueryRow(ctx, `SELECT id, number, supplier_id, status, tax_rate, expected_delivery, notes, created_at
		FROM purchase_orders WHERE id = $1`, id).
		Scan(&po.ID, &po.Number, &po.SupplierID, &po.Status, &po.TaxRate, &expected, &po.Notes, &po.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	if expected.Valid {
		po.ExpectedDelivery = expected.Time
	}
	po.Lines, err = scanPOLines(ctx, r.pool, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// GetGRN returns a goods receipt with its lines.
func (r *Repository) GetGRN(ctx context.Context, id int64) (GoodsReceipt, error) {
	var (
		grn     GoodsReceipt
		invDate pgtype.Date
	)
	err := r.pool.QueryRow(ctx, `SELECT id, number, po_id, supplier_id, status, invoice_number, invoice_date, received_date, notes, total_amount, created_at
		FROM goods_receipts WHERE id = $1`, id).
		Scan(&grn.ID, &grn.Number, &grn.POID, &grn.SupplierID, &grn.Status, &grn.InvoiceNumber, &invDate, &grn.ReceivedDate, &grn.Notes, &grn.TotalAmount, &grn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, ErrNotFound
		}
		return GoodsReceipt{}, err
	}
	if invDate.Valid {
		grn.InvoiceDate = invDate.Time
	}

	rows, err := r.pool.Query(ctx, `SELECT id, grn_id, po_line_id, item_id, item_name, unit, ordered_qty, previously_received, remaining_qty, received_qty, accepted_qty, rejected_qty, unit_price, subtotal
		FROM goods_receipt_lines WHERE grn_id = $1 ORDER BY id`, id)
	if err != nil {
		return GoodsReceipt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ReceiptLine
		if err := rows.Scan(&l.ID, &l.GRNID, &l.POLineID, &l.ItemID, &l.ItemName, &l.Unit,
			&l.OrderedQty, &l.PreviouslyReceived, &l.RemainingQty, &l.ReceivedQty,
			&l.AcceptedQty, &l.RejectedQty, &l.UnitPrice, &l.Subtotal); err != nil {
			return GoodsReceipt{}, err
		}
		grn.Lines = append(grn.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return GoodsReceipt{}, err
	}
	return grn, nil
}

// ListPendingPOs returns orders with outstanding quantity.
func (r *Repository) ListPendingPOs(ctx context.Context) ([]PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, supplier_id, status, tax_rate, expected_delivery, notes, created_at
		FROM purchase_orders WHERE status IN ('SENT', 'PARTIAL') ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pos []PurchaseOrder
	for rows.Next() {
		var (
			po       PurchaseOrder
			expected pgtype.Date
		)
		if err := rows.Scan(&po.ID, &po.Number, &po.SupplierID, &po.Status, &po.TaxRate, &expected, &po.Notes, &po.CreatedAt); err != nil {
			return nil, err
		}
		if expected.Valid {
			po.ExpectedDelivery = expected.Time
		}
		pos = append(pos, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range pos {
		lines, err := scanPOLines(ctx, r.pool, pos[i].ID)
		if err != nil {
			return nil, err
		}
		pos[i].Lines = lines
	}
	return pos, nil
}

// ListPOs returns purchase orders with supplier name and total.
func (r *Repository) ListPOs(ctx context.Context, limit, offset int, filters ListFilters) ([]POListItem, int, error) {
	countSQL := `SELECT COUNT(*) FROM purchase_orders p WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Status != "" {
		countSQL += ` AND p.status = $` + itoa(argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if filters.SupplierID > 0 {
		countSQL += ` AND p.supplier_id = $` + itoa(argNum)
		args = append(args, filters.SupplierID)
		argNum++
	}
	if filters.Search != "" {
		countSQL += ` AND p.number ILIKE $` + itoa(argNum)
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `SELECT p.id, p.number, p.supplier_id, COALESCE(s.name, '') AS supplier_name,
		p.status, COALESCE(p.expected_delivery, CURRENT_DATE), p.created_at,
		COALESCE((SELECT SUM(qty * unit_price) FROM purchase_order_lines WHERE po_id = p.id), 0) AS total
	FROM purchase_orders p
	LEFT JOIN suppliers s ON s.id = p.supplier_id
	WHERE 1=1`

	args2 := []any{}
	argNum2 := 1
	if filters.Status != "" {
		dataSQL += ` AND p.status = $` + itoa(argNum2)
		args2 = append(args2, filters.Status)
		argNum2++
	}
	if filters.SupplierID > 0 {
		dataSQL += ` AND p.supplier_id = $` + itoa(argNum2)
		args2 = append(args2, filters.SupplierID)
		argNum2++
	}
	if filters.Search != "" {
		dataSQL += ` AND p.number ILIKE $` + itoa(argNum2)
		args2 = append(args2, "%"+filters.Search+"%")
		argNum2++
	}

	orderBy := sortOrderPO(filters.SortBy, filters.SortDir)
	dataSQL += ` ORDER BY ` + orderBy + ` LIMIT $` + itoa(argNum2) + ` OFFSET $` + itoa(argNum2+1)
	args2 = append(args2, limit, offset)

	rows, err := r.pool.Query(ctx, dataSQL, args2...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []POListItem
	for rows.Next() {
		var item POListItem
		if err := rows.Scan(&item.ID, &item.Number, &item.SupplierID, &item.SupplierName,
			&item.Status, &item.ExpectedDelivery, &item.CreatedAt, &item.Total); err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListGRNs returns goods receipts with supplier and PO numbers.
func (r *Repository) ListGRNs(ctx context.Context, limit, offset int, filters ListFilters) ([]GRNListItem, int, error) {
	countSQL := `SELECT COUNT(*) FROM goods_receipts g WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Status != "" {
		countSQL += ` AND g.status = $` + itoa(argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if filters.SupplierID > 0 {
		countSQL += ` AND g.supplier_id = $` + itoa(argNum)
		args = append(args, filters.SupplierID)
		argNum++
	}
	if filters.Search != "" {
		countSQL += ` AND g.number ILIKE $` + itoa(argNum)
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `SELECT g.id, g.number, g.po_id, COALESCE(p.number, '') AS po_number,
		g.supplier_id, COALESCE(s.name, '') AS supplier_name,
		g.status, g.received_date, g.created_at, g.total_amount
	FROM goods_receipts g
	LEFT JOIN purchase_orders p ON p.id = g.po_id
	LEFT JOIN suppliers s ON s.id = g.supplier_id
	WHERE 1=1`

	args2 := []any{}
	argNum2 := 1
	if filters.Status != "" {
		dataSQL += ` AND g.status = $` + itoa(argNum2)
		args2 = append(args2, filters.Status)
		argNum2++
	}
	if filters.SupplierID > 0 {
		dataSQL += ` AND g.supplier_id = $` + itoa(argNum2)
		args2 = append(args2, filters.SupplierID)
		argNum2++
	}
	if filters.Search != "" {
		dataSQL += ` AND g.number ILIKE $` + itoa(argNum2)
		args2 = append(args2, "%"+filters.Search+"%")
		argNum2++
	}

	orderBy := sortOrderGRN(filters.SortBy, filters.SortDir)
	dataSQL += ` ORDER BY ` + orderBy + ` LIMIT $` + itoa(argNum2) + ` OFFSET $` + itoa(argNum2+1)
	args2 = append(args2, limit, offset)

	rows, err := r.pool.Query(ctx, dataSQL, args2...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []GRNListItem
	for rows.Next() {
		var item GRNListItem
		if err := rows.Scan(&item.ID, &item.Number, &item.POID, &item.PONumber,
			&item.SupplierID, &item.SupplierName, &item.Status, &item.ReceivedDate,
			&item.CreatedAt, &item.Total); err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanPOLines(ctx context.Context, q queryer, poID int64) ([]POLine, error) {
	rows, err := q.Query(ctx, `SELECT id, po_id, item_id, item_name, qty, unit_price, unit, received_qty
		FROM purchase_order_lines WHERE po_id = $1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []POLine
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.POID, &l.ItemID, &l.ItemName, &l.Qty, &l.UnitPrice, &l.Unit, &l.ReceivedQty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// itoa converts int to string for dynamic query building.
func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}

// sortOrderPO returns a safe ORDER BY clause for PO queries.
func sortOrderPO(sortBy, sortDir string) string {
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	switch sortBy {
	case "number":
		return "p.number " + dir
	case "supplier":
		return "supplier_name " + dir
	case "expected_delivery":
		return "p.expected_delivery " + dir
	case "total":
		return "total " + dir
	case "status":
		return "p.status " + dir
	default:
		return "p.created_at DESC"
	}
}

// sortOrderGRN returns a safe ORDER BY clause for GRN queries.
func sortOrderGRN(sortBy, sortDir string) string {
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	switch sortBy {
	case "number":
		return "g.number " + dir
	case "supplier":
		return "supplier_name " + dir
	case "received_date":
		return "g.received_date " + dir
	case "status":
		return "g.status " + dir
	default:
		return "g.created_at DESC"
	}
}

func (tx *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var expected pgtype.Date
	if !po.ExpectedDelivery.IsZero() {
		expected = pgtype.Date{Time: po.ExpectedDelivery, Valid: true}
	}
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, status, tax_rate, expected_delivery, notes)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		po.Number, po.SupplierID, string(po.Status), po.TaxRate, expected, po.Notes).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertPOLine(ctx context.Context, line POLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (po_id, item_id, item_name, qty, unit_price, unit, received_qty)
		VALUES ($1, $2, $3, $4, $5, $6, 0) RETURNING id`,
		line.POID, line.ItemID, line.ItemName, line.Qty, line.UnitPrice, line.Unit).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdatePOHeader(ctx context.Context, po PurchaseOrder) error {
	var expected pgtype.Date
	if !po.ExpectedDelivery.IsZero() {
		expected = pgtype.Date{Time: po.ExpectedDelivery, Valid: true}
	}
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET tax_rate = $1, expected_delivery = $2, notes = $3 WHERE id = $4`,
		po.TaxRate, expected, po.Notes, po.ID)
	return err
}

func (tx *txRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET status = $1 WHERE id = $2`, string(status), id)
	return err
}

func (tx *txRepo) DeletePOLines(ctx context.Context, poID int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM purchase_order_lines WHERE po_id = $1`, poID)
	return err
}

func (tx *txRepo) DeletePO(ctx context.Context, id int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1`, id)
	return err
}

func (tx *txRepo) GetPOLines(ctx context.Context, poID int64) ([]POLine, error) {
	return scanPOLines(ctx, tx.tx, poID)
}

// AddReceivedQty increments the cumulative counter of a PO line. The guard in
// the WHERE clause keeps received_qty <= qty even when two receipts race; a
// false return means the increment would breach the invariant.
func (tx *txRepo) AddReceivedQty(ctx context.Context, poLineID int64, qty int64) (bool, error) {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_order_lines
		SET received_qty = received_qty + $1
		WHERE id = $2 AND received_qty + $1 <= qty`, qty, poLineID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (tx *txRepo) CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	var invDate pgtype.Date
	if !grn.InvoiceDate.IsZero() {
		invDate = pgtype.Date{Time: grn.InvoiceDate, Valid: true}
	}
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO goods_receipts (number, po_id, supplier_id, status, invoice_number, invoice_date, received_date, notes, total_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		grn.Number, grn.POID, grn.SupplierID, string(grn.Status), grn.InvoiceNumber, invDate, grn.ReceivedDate, grn.Notes, grn.TotalAmount).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertReceiptLine(ctx context.Context, line ReceiptLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO goods_receipt_lines (grn_id, po_line_id, item_id, item_name, unit, ordered_qty, previously_received, remaining_qty, received_qty, accepted_qty, rejected_qty, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		line.GRNID, line.POLineID, line.ItemID, line.ItemName, line.Unit,
		line.OrderedQty, line.PreviouslyReceived, line.RemainingQty, line.ReceivedQty,
		line.AcceptedQty, line.RejectedQty, line.UnitPrice, line.Subtotal).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE goods_receipts SET status = $1 WHERE id = $2`, string(status), id)
	return err
}
