// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Sentinel errors returned (wrapped in oops errors) by the auth service and
// its repositories. Callers classify failures with errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when a request is missing required fields
	// or carries malformed values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateEmail is returned when registering an email that is already taken.
	ErrDuplicateEmail = errors.New("user already exists with this email")

	// ErrInvalidCredentials is returned for both unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidRefreshToken covers every refresh failure: bad signature,
	// expiry, and a token that no longer matches the stored one.
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")

	// ErrInvalidOrExpiredToken is returned when a password-reset token is
	// unknown, already used, or past its expiry.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")

	// ErrUnauthorized is returned by the authentication gate.
	ErrUnauthorized = errors.New("not authorized")

	// ErrUpstreamUnavailable marks failures of the credential store, session
	// cache, or mail collaborator.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrTokenInvalid is returned by the token codec for malformed, tampered,
	// or wrongly signed tokens.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired is returned by the token codec for well-formed tokens
	// past their expiry.
	ErrTokenExpired = errors.New("token expired")
)

// upstream joins err with ErrUpstreamUnavailable so that both the cause and
// the classification survive errors.Is.
func upstream(err error) error {
	return errors.Join(ErrUpstreamUnavailable, err)
}

// InputError describes a rejected request field. It matches ErrInvalidInput
// under errors.Is and carries a client-safe message.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string { return e.Message }

// Is reports whether target is ErrInvalidInput.
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

func invalidInput(field, message string) error {
	return oops.Code("AUTH_INVALID_INPUT").With("field", field).Wrap(&InputError{Field: field, Message: message})
}
