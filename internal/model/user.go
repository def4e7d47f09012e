package model

import "time"

// User represents an application user record as stored in the `users`
// table. Registered users carry a bcrypt password hash; guest buyers are
// bootstrapped during checkout with IsGuest set and no password. The
// engine only needs users as holder/buyer identities — full account
// management lives outside this service.
//
// Fields:
//
//	ID           – primary key identifier.
//	Email        – unique contact identifier (lower-cased).
//	PasswordHash – bcrypt hash; empty for guest accounts.
//	Role         – role name (CUSTOMER, ADMIN).
//	IsGuest      – whether the account was bootstrapped at checkout.
//	IsActive     – whether the account is active.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	IsGuest      bool      // users.is_guest
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// Role names used in JWT claims and ownership checks.
const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
)
