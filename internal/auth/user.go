// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ProviderLocal marks accounts created with an email and password.
const ProviderLocal = "local"

// User is an account as held by the credential store.
type User struct {
	ID             ulid.ULID
	Name           string
	Email          string
	Phone          string
	PasswordHash   string
	AuthProvider   string
	Plan           string
	LastLoginAt    *time.Time
	ResetTokenHash *string
	ResetExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewUser creates a local User with a fresh ID, created at now. The email is
// normalized.
func NewUser(name, email, phone, passwordHash string, now time.Time) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidInput("name", "Name is required")
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, invalidInput("password", "Password is required")
	}

	now = now.UTC()
	return &User{
		ID:           ulid.Make(),
		Name:         name,
		Email:        normalized,
		Phone:        strings.TrimSpace(phone),
		PasswordHash: passwordHash,
		AuthProvider: ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail trims and lower-cases an email address after checking that
// it parses as a bare address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", invalidInput("email", "Email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalidInput("email", "Please provide a valid email")
	}
	return email, nil
}

// HasPendingReset reports whether a reset token is set and unexpired at now.
func (u *User) HasPendingReset(now time.Time) bool {
	return u.ResetTokenHash != nil && u.ResetExpiresAt != nil && u.ResetExpiresAt.After(now)
}

// SetReset stores a reset token hash together with its expiry.
func (u *User) SetReset(hash string, expiresAt time.Time) {
	u.ResetTokenHash = &hash
	u.ResetExpiresAt = &expiresAt
}

// ClearReset removes the reset token hash and expiry together.
func (u *User) ClearReset() {
	u.ResetTokenHash = nil
	u.ResetExpiresAt = nil
}

// Profile returns the outward view of the user, without credentials.
func (u *User) Profile() Profile {
	return Profile{
		ID:           u.ID.String(),
		Name:         u.Name,
		Email:        u.Email,
		Phone:        u.Phone,
		Plan:         u.Plan,
		AuthProvider: u.AuthProvider,
		LastLoginAt:  u.LastLoginAt,
		CreatedAt:    u.CreatedAt,
	}
}

// Profile is the user representation returned to clients.
type Profile struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone,omitempty"`
	Plan         string     `json:"plan,omitempty"`
	AuthProvider string     `json:"authProvider"`
	LastLoginAt  *time.Time `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrDuplicateEmail if the email is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by normalized email. Returns ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByResetTokenHash retrieves the user holding the given reset hash
	// whose expiry is after now. Returns ErrNotFound otherwise.
	GetByResetTokenHash(ctx context.Context, hash string, now time.Time) (*User, error)

	// RecordLogin sets the last-login timestamp.
	RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// SetResetToken stores a reset hash and its expiry.
	SetResetToken(ctx context.Context, id ulid.ULID, hash string, expiresAt time.Time) error

	// ConsumeResetToken replaces the password hash and clears the reset
	// fields, but only while the given hash is still stored and unexpired.
	// Returns ErrNotFound when no row matched.
	ConsumeResetToken(ctx context.Context, id ulid.ULID, hash, passwordHash string, now time.Time) error
}
