// Package order coordinates the multi-party order lifecycle between clients
// and vendors, and pushes status changes to the counterparty in real time.
package order

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusPreparing, StatusReady, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus normalizes a wire value into a Status.
func ParseStatus(raw string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status: %q", raw)
	}
	return st, nil
}

// Item is one order line. UnitPrice is in minor units, resolved from the
// vendor's catalog at creation time.
type Item struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

// Order is created by a client, mutated by vendor actions and never deleted;
// terminal states are retained. Total is immutable after creation and always
// equals the recomputed sum over items.
type Order struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"clientId"`
	VendorID      string    `json:"vendorId"`
	Items         []Item    `json:"items"`
	Total         int64     `json:"total"`
	Status        Status    `json:"status"`
	PaymentMethod string    `json:"paymentMethod"`
	DeliveryNotes string    `json:"deliveryNotes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

var (
	ErrNotFound           = errors.New("order: not found")
	ErrInvalidTransition  = errors.New("order: not found or already processed")
	ErrVendorUnavailable  = errors.New("order: vendor unavailable")
	ErrProductUnavailable = errors.New("order: product unavailable")
	ErrUnauthorized       = errors.New("order: unauthorized")
	ErrInvalidOrder       = errors.New("order: invalid order")
)

// ProductError carries the identifiers of the offending catalog items.
// It matches ErrProductUnavailable under errors.Is.
type ProductError struct {
	IDs []string
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("order: products unavailable: %s", strings.Join(e.IDs, ", "))
}

func (e *ProductError) Is(target error) bool {
	return target == ErrProductUnavailable
}
