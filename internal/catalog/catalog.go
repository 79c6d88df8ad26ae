// Package catalog defines the products vendors sell.
package catalog

import (
	"context"
	"errors"
	"time"
)

// Product belongs to exactly one vendor. Price is in minor units.
type Product struct {
	ID          string    `json:"id"`
	VendorID    string    `json:"vendorId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       int64     `json:"price"`
	Category    string    `json:"category,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	IsAvailable bool      `json:"isAvailable"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summary is the trimmed form attached to discovery results.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price"`
}

var (
	ErrNotFound = errors.New("catalog: not found")
)

// Store describes catalog persistence.
type Store interface {
	CreateProduct(ctx context.Context, p *Product) error
	FindProduct(ctx context.Context, id string) (*Product, error)
	ListProductsByVendor(ctx context.Context, vendorID string) ([]*Product, error)
	UpdateProduct(ctx context.Context, p *Product) error
	DeleteProduct(ctx context.Context, id, vendorID string) error

	// ListAvailable returns up to limit available products for a vendor, in
	// catalog order.
	ListAvailable(ctx context.Context, vendorID string, limit int) ([]*Product, error)

	// FindForOrder returns the subset of ids that exist, belong to the vendor
	// and are currently available.
	FindForOrder(ctx context.Context, ids []string, vendorID string) ([]*Product, error)
}
