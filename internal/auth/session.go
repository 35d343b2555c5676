// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionCache holds the single live refresh token per user and the
// blacklist of revoked access tokens. Entries expire through their TTL.
// Implementations must be safe for concurrent use, and every operation
// must be idempotent under retry.
type SessionCache interface {
	// StoreRefreshToken overwrites any refresh token stored for userID.
	StoreRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error

	// GetRefreshToken returns the stored refresh token, with found=false if absent.
	GetRefreshToken(ctx context.Context, userID string) (token string, found bool, err error)

	// DeleteRefreshToken removes the stored refresh token, if any.
	DeleteRefreshToken(ctx context.Context, userID string) error

	// BlacklistAccessToken marks token as revoked for ttl. A non-positive ttl is a no-op.
	BlacklistAccessToken(ctx context.Context, token string, ttl time.Duration) error

	// IsBlacklisted reports whether token has been revoked.
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// Principal is the caller resolved by the authentication gate.
type Principal struct {
	UserID    ulid.ULID
	Token     string
	ExpiresAt time.Time
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
