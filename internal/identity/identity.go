// Package identity defines the user identities that own sessions and orders.
package identity

import (
	"errors"
	"time"
)

// ErrNotFound indicates no user exists for the given identifier or email.
var ErrNotFound = errors.New("identity: user not found")

// Role distinguishes which side of the marketplace an identity acts on.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleVendor Role = "VENDOR"
	RoleAdmin  Role = "ADMIN"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleVendor, RoleAdmin:
		return true
	}
	return false
}

// User is a registered identity. The real-time layer treats it as read-only;
// it is fetched once at connection-authentication time.
type User struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	Address      string    `json:"address,omitempty"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`

	// Demo marks a synthetic identity; demo users skip persistence writes.
	Demo bool `json:"-"`
}

// Synthetic identities handed out when no valid credential is presented.
// Demo sessions participate fully in presence and notification flows but are
// exempt from persistence writes.
const (
	DemoVendorID = "vendor-demo-1"
	DemoClientID = "client-demo-1"
)

// Demo builds the synthetic identity for the given role hint. Any role other
// than VENDOR falls back to the demo client.
func Demo(role Role, id string) User {
	if role == RoleVendor {
		if id == "" {
			id = DemoVendorID
		}
		return User{
			ID:       id,
			Role:     RoleVendor,
			Name:     "Vendedor Demo",
			Email:    "vendedor@demo.com",
			IsActive: true,
			Demo:     true,
		}
	}
	if id == "" {
		id = DemoClientID
	}
	return User{
		ID:       id,
		Role:     RoleClient,
		Name:     "Cliente Demo",
		Email:    "cliente@demo.com",
		IsActive: true,
		Demo:     true,
	}
}

// IsDemo reports whether the identifier belongs to a synthetic demo identity.
func IsDemo(id string) bool {
	return id == DemoVendorID || id == DemoClientID
}
