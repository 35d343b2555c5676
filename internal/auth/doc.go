// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package auth implements account credentials and the session token lifecycle.
//
// # Tokens
//
// Access and refresh tokens are HS256 JWTs signed with two distinct secrets
// by TokenCodec, so neither kind can be passed off as the other. Only the
// most recently issued refresh token per user is honored: it lives in a
// single SessionCache slot that every login overwrites. Logout deletes that
// slot and blacklists the presented access token.
//
// Refresh tokens are not rotated on use. A refresh token stays valid until
// the next login, logout, or its own expiry.
//
// # Password reset
//
// A reset token is 32 random bytes, hex encoded. Only its SHA-256 digest is
// stored on the user, together with a short expiry; the raw value goes out
// through a ResetNotifier. Consuming the token clears both fields in the
// same conditional update that replaces the password hash.
//
// # Services
//
// Service is created with NewService, which validates its Deps. Errors are
// oops errors wrapping the sentinels in errors.go; classify them with
// errors.Is.
package auth
