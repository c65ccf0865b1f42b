package delivery

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

// GetChallan returns a challan with its lines.
func (r *Repository) GetChallan(ctx context.Context, id int64) (Challan, error) {
	var (
		c            Challan
		dispatchedAt pgtype.Timestamptz
		deliveredAt  pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `SELECT id, number, sales_order_id, status, notes, created_at, dispatched_at, delivered_at
		FROM delivery_challans WHERE id = $1`, id).
		Scan(&c.ID, &c.Number, &c.SalesOrderID, &c.Status, &c.Notes, &c.CreatedAt, &dispatchedAt, &deliveredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Challan{}, ErrNotFound
		}
		return Challan{}, err
	}
	if dispatchedAt.Valid {
		c.DispatchedAt = dispatchedAt.Time
	}
	if deliveredAt.Valid {
		c.DeliveredAt = deliveredAt.Time
	}

	rows, err := r.pool.Query(ctx, `SELECT id, challan_id, so_line_id, item_id, item_name, unit, ordered_qty, previously_delivered, remaining_qty, qty
		FROM delivery_challan_lines WHERE challan_id = $1 ORDER BY id`, id)
	if err != nil {
		return Challan{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ChallanLine
		if err := rows.Scan(&l.ID, &l.ChallanID, &l.SOLineID, &l.ItemID, &l.ItemName, &l.Unit,
			&l.OrderedQty, &l.PreviouslyDelivered, &l.RemainingQty, &l.Qty); err != nil {
			return Challan{}, err
		}
		c.Lines = append(c.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return Challan{}, err
	}
	return c, nil
}

// ListChallans returns challans filtered by status and sales order.
func (r *Repository) ListChallans(ctx context.Context, limit, offset int, status ChallanStatus, salesOrderID int64) ([]Challan, int, error) {
	countSQL := `SELECT COUNT(*) FROM delivery_challans WHERE 1=1`
	dataSQL := `SELECT id, number, sales_order_id, status, notes, created_at, dispatched_at, delivered_at
		FROM delivery_challans WHERE 1=1`
	args := []any{}
	argNum := 1
	if status != "" {
		clause := ` AND status = $` + strconv.Itoa(argNum)
		countSQL += clause
		dataSQL += clause
		args = append(args, string(status))
		argNum++
	}
	if salesOrderID > 0 {
		clause := ` AND sales_order_id = $` + strconv.Itoa(argNum)
		countSQL += clause
		dataSQL += clause
		args = append(args, salesOrderID)
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

	var challans []Challan
	for rows.Next() {
		var (
			c            Challan
			dispatchedAt pgtype.Timestamptz
			deliveredAt  pgtype.Timestamptz
		)
		if err := rows.Scan(&c.ID, &c.Number, &c.SalesOrderID, &c.Status, &c.Notes, &c.CreatedAt, &dispatchedAt, &deliveredAt); err != nil {
			return nil, 0, err
		}
		if dispatchedAt.Valid {
			c.DispatchedAt = dispatchedAt.Time
		}
		if deliveredAt.Valid {
			c.DeliveredAt = deliveredAt.Time
		}
		challans = append(challans, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return challans, total, nil
}

// GetSOLines returns the sales order lines with their delivered counters.
func (r *Repository) GetSOLines(ctx context.Context, orderID int64) ([]SOLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, item_id, item_name, unit, qty, delivered_qty
		FROM sales_order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []SOLine
	for rows.Next() {
		var l SOLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.ItemName, &l.Unit, &l.Qty, &l.DeliveredQty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (tx *txRepo) CreateChallan(ctx context.Context, challan Challan) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO delivery_challans (number, sales_order_id, status, notes)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		challan.Number, challan.SalesOrderID, string(challan.Status), challan.Notes).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertChallanLine(ctx context.Context, line ChallanLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO delivery_challan_lines (challan_id, so_line_id, item_id, item_name, unit, ordered_qty, previously_delivered, remaining_qty, qty)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		line.ChallanID, line.SOLineID, line.ItemID, line.ItemName, line.Unit,
		line.OrderedQty, line.PreviouslyDelivered, line.RemainingQty, line.Qty).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateChallanStatus(ctx context.Context, id int64, status ChallanStatus, at time.Time) error {
	var err error
	switch status {
	case ChallanStatusDispatched:
		_, err = tx.tx.Exec(ctx, `UPDATE delivery_challans SET status = $1, dispatched_at = $2 WHERE id = $3`, string(status), at, id)
	case ChallanStatusDelivered:
		_, err = tx.tx.Exec(ctx, `UPDATE delivery_challans SET status = $1, delivered_at = $2 WHERE id = $3`, string(status), at, id)
	default:
		_, err = tx.tx.Exec(ctx, `UPDATE delivery_challans SET status = $1 WHERE id = $2`, string(status), id)
	}
	return err
}

// AddDeliveredQty increments the delivered counter, refusing increments past
// the ordered quantity.
func (tx *txRepo) AddDeliveredQty(ctx context.Context, soLineID int64, qty int64) (bool, error) {
	tag, err := tx.tx.Exec(ctx, `UPDATE sales_order_lines
		SET delivered_qty = delivered_qty + $1
		WHERE id = $2 AND delivered_qty + $1 <= qty`, qty, soLineID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
