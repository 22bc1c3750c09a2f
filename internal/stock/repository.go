package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/larder-hq/larder/internal/shared"
)

// Repository provides PostgreSQL backed persistence for stock items.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `id, name, quantity, unit, expiry, created_at, updated_at`

// List returns all stock items ordered by name.
func (r *Repository) List(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stocks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListByExpiry returns all stock items ordered by expiry ascending, the
// projection the dashboard renders.
func (r *Repository) ListByExpiry(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stocks ORDER BY expiry`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListLowStock returns items at or below the threshold, ordered by
// quantity ascending.
func (r *Repository) ListLowStock(ctx context.Context, threshold float64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stocks WHERE quantity <= $1 ORDER BY quantity`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListExpiringBefore returns items whose expiry falls before the cutoff,
// used by the nightly expiry scan.
func (r *Repository) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stocks WHERE expiry <= $1 ORDER BY expiry`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// Get returns one stock item by id.
func (r *Repository) Get(ctx context.Context, id int64) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM stocks WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, shared.ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// Create inserts a stock item and returns the stored row.
func (r *Repository) Create(ctx context.Context, input CreateInput) (Item, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO stocks (name, quantity, unit, expiry) VALUES ($1, $2, $3, $4) RETURNING `+itemColumns,
		input.Name, input.Quantity, input.Unit, input.Expiry)
	return scanItem(row)
}

// Update replaces the mutable fields of a stock item.
func (r *Repository) Update(ctx context.Context, id int64, input UpdateInput) (Item, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE stocks SET name = $2, quantity = $3, unit = $4, expiry = $5, updated_at = now() WHERE id = $1 RETURNING `+itemColumns,
		id, input.Name, input.Quantity, input.Unit, input.Expiry)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, shared.ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// Delete removes a stock item and returns the removed row.
func (r *Repository) Delete(ctx context.Context, id int64) (Item, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM stocks WHERE id = $1 RETURNING `+itemColumns, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, shared.ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func scanItems(rows pgx.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Name, &item.Quantity, &item.Unit, &item.Expiry, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}
