package inventory

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
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

// GetTransfer returns a transfer with its lines.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	var t Transfer
	err := r.pool.QueryRow(ctx, `SELECT id, number, src_warehouse_id, dst_warehouse_id, status, notes, created_at
		FROM stock_transfers WHERE id = $1`, id).
		Scan(&t.ID, &t.Number, &t.SrcWarehouseID, &t.DstWarehouseID, &t.Status, &t.Notes, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, err
	}
	t.Lines, err = scanTransferLines(ctx, r.pool, id)
	if err != nil {
		return Transfer{}, err
	}
	return t, nil
}

// ListTransfers returns transfers filtered by status.
func (r *Repository) ListTransfers(ctx context.Context, limit, offset int, status TransferStatus) ([]Transfer, int, error) {
	countSQL := `SELECT COUNT(*) FROM stock_transfers WHERE 1=1`
	dataSQL := `SELECT id, number, src_warehouse_id, dst_warehouse_id, status, notes, created_at
		FROM stock_transfers WHERE 1=1`
	args := []any{}
	if status != "" {
		countSQL += ` AND status = $1`
		dataSQL += ` AND status = $1`
		args = append(args, string(status))
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL += ` ORDER BY created_at DESC LIMIT $` + itoaInv(len(args)+1) + ` OFFSET $` + itoaInv(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var transfers []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.Number, &t.SrcWarehouseID, &t.DstWarehouseID, &t.Status, &t.Notes, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return transfers, total, nil
}

// GetBalance returns the on-hand balance for a warehouse and item. A missing
// row reads as a zero balance.
func (r *Repository) GetBalance(ctx context.Context, warehouseID, itemID int64) (Balance, error) {
	var b Balance
	err := r.pool.QueryRow(ctx, `SELECT warehouse_id, item_id, qty, avg_cost, updated_at
		FROM stock_balances WHERE warehouse_id = $1 AND item_id = $2`, warehouseID, itemID).
		Scan(&b.WarehouseID, &b.ItemID, &b.Qty, &b.AvgCost, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{WarehouseID: warehouseID, ItemID: itemID}, nil
		}
		return Balance{}, err
	}
	return b, nil
}

// ListLedger returns stock ledger entries matching the filter.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]StockEntry, error) {
	sql := `SELECT id, code, direction, warehouse_id, item_id, qty, unit_cost, balance_qty, note, ref_module, ref_id, posted_at
		FROM stock_entries WHERE 1=1`
	args := []any{}
	argNum := 1
	if filter.WarehouseID > 0 {
		sql += ` AND warehouse_id = $` + itoaInv(argNum)
		args = append(args, filter.WarehouseID)
		argNum++
	}
	if filter.ItemID > 0 {
		sql += ` AND item_id = $` + itoaInv(argNum)
		args = append(args, filter.ItemID)
		argNum++
	}
	if !filter.From.IsZero() {
		sql += ` AND posted_at >= $` + itoaInv(argNum)
		args = append(args, filter.From)
		argNum++
	}
	if !filter.To.IsZero() {
		sql += ` AND posted_at <= $` + itoaInv(argNum)
		args = append(args, filter.To)
		argNum++
	}
	sql += ` ORDER BY posted_at DESC, id DESC LIMIT $` + itoaInv(argNum)
	args = append(args, filter.Limit)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []StockEntry
	for rows.Next() {
		var e StockEntry
		if err := rows.Scan(&e.ID, &e.Code, &e.Direction, &e.WarehouseID, &e.ItemID, &e.Qty,
			&e.UnitCost, &e.BalanceQty, &e.Note, &e.RefModule, &e.RefID, &e.PostedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanTransferLines(ctx context.Context, q queryer, transferID int64) ([]TransferLine, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, item_id, item_name, unit, qty, received_qty, unit_cost
		FROM stock_transfer_lines WHERE transfer_id = $1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []TransferLine
	for rows.Next() {
		var l TransferLine
		if err := rows.Scan(&l.ID, &l.TransferID, &l.ItemID, &l.ItemName, &l.Unit, &l.Qty, &l.ReceivedQty, &l.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func itoaInv(i int) string {
	return strconv.Itoa(i)
}

func (tx *txRepo) GetBalanceForUpdate(ctx context.Context, warehouseID, itemID int64) (Balance, error) {
	var b Balance
	err := tx.tx.QueryRow(ctx, `SELECT warehouse_id, item_id, qty, avg_cost, updated_at
		FROM stock_balances WHERE warehouse_id = $1 AND item_id = $2 FOR UPDATE`, warehouseID, itemID).
		Scan(&b.WarehouseID, &b.ItemID, &b.Qty, &b.AvgCost, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (tx *txRepo) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO stock_balances (warehouse_id, item_id, qty, avg_cost, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (warehouse_id, item_id)
		DO UPDATE SET qty = EXCLUDED.qty, avg_cost = EXCLUDED.avg_cost, updated_at = EXCLUDED.updated_at`,
		balance.WarehouseID, balance.ItemID, balance.Qty, balance.AvgCost, balance.UpdatedAt)
	return err
}

func (tx *txRepo) InsertStockEntry(ctx context.Context, entry StockEntry) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO stock_entries (code, direction, warehouse_id, item_id, qty, unit_cost, balance_qty, note, ref_module, ref_id, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		entry.Code, string(entry.Direction), entry.WarehouseID, entry.ItemID, entry.Qty,
		entry.UnitCost, entry.BalanceQty, entry.Note, entry.RefModule, entry.RefID, entry.PostedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) CreateTransfer(ctx context.Context, transfer Transfer) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO stock_transfers (number, src_warehouse_id, dst_warehouse_id, status, notes)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		transfer.Number, transfer.SrcWarehouseID, transfer.DstWarehouseID, string(transfer.Status), transfer.Notes).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertTransferLine(ctx context.Context, line TransferLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO stock_transfer_lines (transfer_id, item_id, item_name, unit, qty, received_qty, unit_cost)
		VALUES ($1, $2, $3, $4, $5, 0, $6) RETURNING id`,
		line.TransferID, line.ItemID, line.ItemName, line.Unit, line.Qty, line.UnitCost).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateTransferLineCost(ctx context.Context, lineID int64, unitCost float64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE stock_transfer_lines SET unit_cost = $1 WHERE id = $2`, unitCost, lineID)
	return err
}

func (tx *txRepo) UpdateTransferStatus(ctx context.Context, id int64, status TransferStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE stock_transfers SET status = $1 WHERE id = $2`, string(status), id)
	return err
}

// AddTransferReceivedQty increments the arrival counter, refusing increments
// past the dispatched quantity.
func (tx *txRepo) AddTransferReceivedQty(ctx context.Context, lineID int64, qty int64) (bool, error) {
	tag, err := tx.tx.Exec(ctx, `UPDATE stock_transfer_lines
		SET received_qty = received_qty + $1
		WHERE id = $2 AND received_qty + $1 <= qty`, qty, lineID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (tx *txRepo) GetTransferLines(ctx context.Context, transferID int64) ([]TransferLine, error) {
	return scanTransferLines(ctx, tx.tx, transferID)
}
