// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package sessioncache stores refresh tokens and the access token blacklist.
package sessioncache

// Key prefixes shared by every implementation.
const (
	refreshTokenPrefix = "refresh_token:"
	blacklistPrefix    = "blacklist:"
	blacklistMarker    = "true"
)

// RefreshTokenKey returns the key holding the refresh token of userID.
func RefreshTokenKey(userID string) string {
	return refreshTokenPrefix + userID
}

// BlacklistKey returns the key marking token as revoked.
func BlacklistKey(token string) string {
	return blacklistPrefix + token
}
