package sku

import (
	"errors"
	"time"
)

// SKU is a trackable inventory item with its own cached stock count.
// CurrentStock is only ever mutated by the ledger writer's transaction.
type SKU struct {
	ID            int64     `json:"id"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	CurrentStock  int64     `json:"currentStock"`
	MinStockLevel int64     `json:"minStockLevel"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ListFilters narrows SKU listings.
type ListFilters struct {
	Search   string
	IsActive *bool
	Page     int
	Limit    int
	SortBy   string
	SortDir  string
}

// ErrNotFound indicates the SKU does not exist.
var ErrNotFound = errors.New("sku: not found")

// ErrInvalid indicates master data validation failed.
var ErrInvalid = errors.New("sku: invalid")

// ErrDuplicateCode indicates the SKU code is already taken.
var ErrDuplicateCode = errors.New("sku: code already exists")
