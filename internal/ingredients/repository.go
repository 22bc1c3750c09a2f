package ingredients

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/larder-hq/larder/internal/shared"
)

// Repository provides PostgreSQL backed persistence for recipes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recipeColumns = `id, product, ingredients, created_at, updated_at`

// List returns all recipes.
func (r *Repository) List(ctx context.Context) ([]Recipe, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recipeColumns+` FROM ingredients ORDER BY product`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recipes []Recipe
	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recipes, nil
}

// Create inserts a recipe.
func (r *Repository) Create(ctx context.Context, input Input) (Recipe, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO ingredients (product, ingredients) VALUES ($1, $2) RETURNING `+recipeColumns,
		input.Product, input.Ingredients)
	return scanRecipe(row)
}

// Update replaces a recipe's fields.
func (r *Repository) Update(ctx context.Context, id int64, input Input) (Recipe, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE ingredients SET product = $2, ingredients = $3, updated_at = now() WHERE id = $1 RETURNING `+recipeColumns,
		id, input.Product, input.Ingredients)
	recipe, err := scanRecipe(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipe{}, shared.ErrNotFound
		}
		return Recipe{}, err
	}
	return recipe, nil
}

// Delete removes a recipe and returns the removed row.
func (r *Repository) Delete(ctx context.Context, id int64) (Recipe, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM ingredients WHERE id = $1 RETURNING `+recipeColumns, id)
	recipe, err := scanRecipe(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipe{}, shared.ErrNotFound
		}
		return Recipe{}, err
	}
	return recipe, nil
}

func scanRecipe(row pgx.Row) (Recipe, error) {
	var recipe Recipe
	err := row.Scan(&recipe.ID, &recipe.Product, &recipe.Ingredients, &recipe.CreatedAt, &recipe.UpdatedAt)
	return recipe, err
}
