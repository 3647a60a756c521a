// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package account

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// User represents a registered account.
//
// HashedPassword is never serialized; AuthenticatedAt is transient session
// state attached when a session token is verified, not a column that login
// mutates on the base record.
type User struct {
	ID              ulid.ULID  `json:"id"`
	Email           string     `json:"email"`
	HashedPassword  string     `json:"-"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	AuthenticatedAt *time.Time `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Confirmed reports whether the account's email has been confirmed.
func (u *User) Confirmed() bool {
	return u.ConfirmedAt != nil
}

// UserRepository manages user persistence. Implementations must enforce
// case-insensitive email uniqueness with a storage-level constraint and
// report collisions as ErrEmailTaken.
type UserRepository interface {
	// Create stores a new user. Returns ErrEmailTaken on a duplicate email.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email, matched case-insensitively.
	// Returns ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// EmailExists reports whether any user holds the email, ignoring case.
	EmailExists(ctx context.Context, email string) (bool, error)

	// UpdateEmail sets a new email for the user. Returns ErrEmailTaken on a
	// duplicate and ErrNotFound if the user is absent.
	UpdateEmail(ctx context.Context, id ulid.ULID, email string) error

	// UpdatePassword replaces the stored password hash.
	// Returns ErrNotFound if the user is absent.
	UpdatePassword(ctx context.Context, id ulid.ULID, hashedPassword string) error
}
