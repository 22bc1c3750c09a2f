// Package ingredients manages the recipe mapping between products and
// their ingredient lists.
package ingredients

import (
	"strconv"
	"time"
)

// Table is the change-feed table name for recipes.
const Table = "ingredients"

// Recipe links a product to its ingredient list.
type Recipe struct {
	ID          int64     `json:"id"`
	Product     string    `json:"product"`
	Ingredients string    `json:"ingredients"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RecordID implements mirror.Record.
func (r Recipe) RecordID() string {
	return strconv.FormatInt(r.ID, 10)
}

// Input describes a new or updated recipe.
type Input struct {
	Product     string `json:"product" validate:"required,max=120"`
	Ingredients string `json:"ingredients" validate:"required"`
}
