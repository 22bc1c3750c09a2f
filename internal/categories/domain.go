// Package categories manages the product category list. It is a small,
// low-churn table; its mirror runs in refetch mode.
package categories

import (
	"strconv"
	"time"
)

// Table is the change-feed table name for categories.
const Table = "categories"

// Category is one category row.
type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordID implements mirror.Record.
func (c Category) RecordID() string {
	return strconv.FormatInt(c.ID, 10)
}

// Input describes a new or renamed category.
type Input struct {
	Name string `json:"name" validate:"required,max=80"`
}
