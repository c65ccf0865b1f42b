// Package items exposes the item master. The core modules treat items as
// read-only reference data maintained elsewhere.
package items

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkline-erp/arkline/internal/masterdata"
)

// Item is one row of the item master with its aggregate stock.
type Item struct {
	ID        int64   `json:"id"`
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit"`
	BuyPrice  float64 `json:"buy_price"`
	SellPrice float64 `json:"sell_price"`
	Stock     int64   `json:"stock"`
}

// ErrNotFound indicates an unknown item.
var ErrNotFound = errors.New("items: not found")

// Repository provides PostgreSQL backed reads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns items matching the search term, ordered by code.
func (r *Repository) List(ctx context.Context, search string, limit int) ([]Item, error) {
	sql := `SELECT i.id, i.code, i.name, i.unit, i.buy_price, i.sell_price,
		COALESCE((SELECT SUM(qty) FROM stock_balances WHERE item_id = i.id), 0) AS stock
	FROM items i WHERE 1=1`
	args := []any{}
	argNum := 1
	if search != "" {
		sql += ` AND (i.code ILIKE $` + strconv.Itoa(argNum) + ` OR i.name ILIKE $` + strconv.Itoa(argNum) + `)`
		args = append(args, "%"+search+"%")
		argNum++
	}
	sql += ` ORDER BY i.code LIMIT $` + strconv.Itoa(argNum)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Code, &it.Name, &it.Unit, &it.BuyPrice, &it.SellPrice, &it.Stock); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Get returns one item by id.
func (r *Repository) Get(ctx context.Context, id int64) (Item, error) {
	var it Item
	err := r.pool.QueryRow(ctx, `SELECT i.id, i.code, i.name, i.unit, i.buy_price, i.sell_price,
		COALESCE((SELECT SUM(qty) FROM stock_balances WHERE item_id = i.id), 0) AS stock
	FROM items i WHERE i.id = $1`, id).
		Scan(&it.ID, &it.Code, &it.Name, &it.Unit, &it.BuyPrice, &it.SellPrice, &it.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return it, nil
}

// RepositoryPort describes the reads the service needs.
type RepositoryPort interface {
	List(ctx context.Context, search string, limit int) ([]Item, error)
	Get(ctx context.Context, id int64) (Item, error)
}

// Service serves item reads through the master data cache.
type Service struct {
	repo  RepositoryPort
	cache *masterdata.Cache
}

// NewService constructs items service.
func NewService(repo RepositoryPort, cache *masterdata.Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// List returns items, cached per search term.
func (s *Service) List(ctx context.Context, search string, limit int) ([]Item, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	key := fmt.Sprintf("masterdata:items:%s:%d", search, limit)
	var items []Item
	err := s.cache.FetchJSON(ctx, key, &items, func(ctx context.Context) (any, error) {
		return s.repo.List(ctx, search, limit)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	return s.repo.Get(ctx, id)
}
