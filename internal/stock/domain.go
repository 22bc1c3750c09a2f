// Package stock manages the stocks table: the inventory items shown on the
// dashboard and the stock page. Every mutation is published to the change
// feed so mirrors stay current without refetching.
package stock

import (
	"strconv"
	"time"
)

// Table is the change-feed table name for stock items.
const Table = "stocks"

// DefaultLowStockThreshold marks items considered low stock.
const DefaultLowStockThreshold = 10

// Item is one stock row.
type Item struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Quantity  float64   `json:"quantity"`
	Unit      string    `json:"unit"`
	Expiry    time.Time `json:"expiry"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordID implements mirror.Record.
func (i Item) RecordID() string {
	return strconv.FormatInt(i.ID, 10)
}

// CreateInput describes a new stock item.
type CreateInput struct {
	Name     string    `json:"name" validate:"required,max=120"`
	Quantity float64   `json:"quantity" validate:"gte=0"`
	Unit     string    `json:"unit" validate:"required,max=32"`
	Expiry   time.Time `json:"expiry"`
}

// UpdateInput describes changes to an existing stock item.
type UpdateInput struct {
	Name     string    `json:"name" validate:"required,max=120"`
	Quantity float64   `json:"quantity" validate:"gte=0"`
	Unit     string    `json:"unit" validate:"required,max=32"`
	Expiry   time.Time `json:"expiry"`
}
