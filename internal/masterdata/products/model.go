package products

import (
	"errors"
	"time"
)

// Product is a sellable item tracked by the warehouse. Stock rows
// reference products by id, so products are deactivated, never deleted.
type Product struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter narrows List results.
type Filter struct {
	Search     string
	ActiveOnly bool
	Page       int
	Limit      int
}

// ErrNotFound indicates the product does not exist.
var ErrNotFound = errors.New("products: not found")

// ErrSKUTaken indicates the SKU is already registered.
var ErrSKUTaken = errors.New("products: sku already registered")

// ErrValidation indicates rejected input.
var ErrValidation = errors.New("products: validation failed")
