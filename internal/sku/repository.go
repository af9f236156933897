package sku

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists SKU master data in PostgreSQL.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]SKU, int, error)
	Get(ctx context.Context, id int64) (SKU, error)
	Create(ctx context.Context, s SKU) (SKU, error)
	Update(ctx context.Context, id int64, s SKU) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const skuColumns = `id, code, name, current_stock, min_stock_level, is_active, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters ListFilters) ([]SKU, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		placeholder := `$` + strconv.Itoa(argCount)
		where += ` AND (name ILIKE ` + placeholder + ` OR code ILIKE ` + placeholder + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.IsActive != nil {
		argCount++
		where += ` AND is_active = $` + strconv.Itoa(argCount)
		args = append(args, *filters.IsActive)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM skus`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + skuColumns + ` FROM skus` + where + ` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir)

	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var skus []SKU
	for rows.Next() {
		var s SKU
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.CurrentStock, &s.MinStockLevel, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		skus = append(skus, s)
	}
	return skus, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (SKU, error) {
	var s SKU
	err := r.db.QueryRow(ctx, `SELECT `+skuColumns+` FROM skus WHERE id = $1`, id).
		Scan(&s.ID, &s.Code, &s.Name, &s.CurrentStock, &s.MinStockLevel, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SKU{}, ErrNotFound
	}
	return s, err
}

func (r *repository) Create(ctx context.Context, s SKU) (SKU, error) {
	now := time.Now().UTC()
	err := r.db.QueryRow(ctx,
		`INSERT INTO skus (code, name, current_stock, min_stock_level, is_active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`,
		s.Code, s.Name, s.CurrentStock, s.MinStockLevel, s.IsActive, now).Scan(&s.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return SKU{}, ErrDuplicateCode
		}
		return SKU{}, err
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	return s, nil
}

// Update changes master fields only; current_stock stays with the ledger.
func (r *repository) Update(ctx context.Context, id int64, s SKU) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE skus SET code = $1, name = $2, min_stock_level = $3, is_active = $4, updated_at = $5 WHERE id = $6`,
		s.Code, s.Name, s.MinStockLevel, s.IsActive, time.Now().UTC(), id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateCode
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	case "current_stock":
		return "current_stock " + dir
	case "created_at":
		return "created_at " + dir
	default:
		return "name " + dir
	}
}
