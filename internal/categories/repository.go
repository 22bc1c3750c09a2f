package categories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/larder-hq/larder/internal/shared"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for categories.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns all categories ordered by name.
func (r *Repository) List(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var categories []Category
	for rows.Next() {
		var category Category
		if err := rows.Scan(&category.ID, &category.Name, &category.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

// Create inserts a category; duplicate names map to shared.ErrDuplicate.
func (r *Repository) Create(ctx context.Context, input Input) (Category, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO categories (name) VALUES ($1) RETURNING id, name, created_at`, input.Name)
	var category Category
	if err := row.Scan(&category.ID, &category.Name, &category.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Category{}, shared.ErrDuplicate
		}
		return Category{}, err
	}
	return category, nil
}

// Rename changes a category's name.
func (r *Repository) Rename(ctx context.Context, id int64, input Input) (Category, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE categories SET name = $2 WHERE id = $1 RETURNING id, name, created_at`, id, input.Name)
	var category Category
	if err := row.Scan(&category.ID, &category.Name, &category.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Category{}, shared.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Category{}, shared.ErrDuplicate
		}
		return Category{}, err
	}
	return category, nil
}

// Delete removes a category and returns the removed row.
func (r *Repository) Delete(ctx context.Context, id int64) (Category, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM categories WHERE id = $1 RETURNING id, name, created_at`, id)
	var category Category
	if err := row.Scan(&category.ID, &category.Name, &category.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Category{}, shared.ErrNotFound
		}
		return Category{}, err
	}
	return category, nil
}
