// Package suppliers exposes the supplier master used by procurement.
package suppliers

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Supplier is one row of the supplier master.
type Supplier struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	ContactName string `json:"contact_name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Address     string `json:"address"`
}

// ErrNotFound indicates an unknown supplier.
var ErrNotFound = errors.New("suppliers: not found")

// Repository provides PostgreSQL backed reads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const supplierColumns = `id, code, name,
	COALESCE(contact_name, ''), COALESCE(phone, ''), COALESCE(email, ''), COALESCE(address, '')`

// List returns suppliers matching the search term, ordered by name.
func (r *Repository) List(ctx context.Context, search string, limit int) ([]Supplier, error) {
	sql := `SELECT ` + supplierColumns + ` FROM suppliers WHERE 1=1`
	args := []any{}
	argNum := 1
	if search != "" {
		sql += ` AND (code ILIKE $` + strconv.Itoa(argNum) + ` OR name ILIKE $` + strconv.Itoa(argNum) + `)`
		args = append(args, "%"+search+"%")
		argNum++
	}
	sql += ` ORDER BY name LIMIT $` + strconv.Itoa(argNum)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.ContactName, &s.Phone, &s.Email, &s.Address); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get returns one supplier by id.
func (r *Repository) Get(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id).
		Scan(&s.ID, &s.Code, &s.Name, &s.ContactName, &s.Phone, &s.Email, &s.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrNotFound
		}
		return Supplier{}, err
	}
	return s, nil
}

// RepositoryPort describes the reads the service needs.
type RepositoryPort interface {
	List(ctx context.Context, search string, limit int) ([]Supplier, error)
	Get(ctx context.Context, id int64) (Supplier, error)
}

// Service serves supplier reads. The list is small and changes rarely,
// so it goes straight to the database.
type Service struct {
	repo RepositoryPort
}

// NewService constructs suppliers service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// List returns suppliers matching the search term.
func (s *Service) List(ctx context.Context, search string, limit int) ([]Supplier, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, search, limit)
}

// Get returns one supplier.
func (s *Service) Get(ctx context.Context, id int64) (Supplier, error) {
	return s.repo.Get(ctx, id)
}
