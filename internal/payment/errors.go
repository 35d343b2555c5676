// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package payment

import (
	"errors"

	"github.com/samber/oops"
)

// Sentinel errors returned (wrapped in oops errors) by the payment service,
// its gateways and its repository.
var (
	// ErrNotFound is returned for absent payments and for payments owned by
	// another user.
	ErrNotFound = errors.New("payment not found")

	// ErrInvalidInput is returned when a request carries missing or
	// malformed fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProviderDisabled is returned when the requested provider has no
	// credentials configured.
	ErrProviderDisabled = errors.New("payment provider not configured")

	// ErrInvalidSignature is returned for webhooks whose signature does not
	// verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrNotPending is returned by Repository.Settle when the payment has
	// already left the pending state.
	ErrNotPending = errors.New("payment is not pending")

	// ErrUpstreamUnavailable marks failures of the database or a provider API.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

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
	return oops.Code("PAYMENT_INVALID_INPUT").With("field", field).Wrap(&InputError{Field: field, Message: message})
}
