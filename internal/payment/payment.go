// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package payment records plan purchases made through M-Pesa STK push or
// Stripe payment intents and settles them from provider callbacks.
package payment

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Provider names a payment rail.
type Provider string

// Supported providers.
const (
	ProviderMpesa  Provider = "mpesa"
	ProviderStripe Provider = "stripe"
)

// Status is the settlement state of a payment.
type Status string

// Payment states. A payment moves from pending to exactly one of the final
// states and never back.
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Final reports whether s is completed or failed.
func (s Status) Final() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Payment is one purchase attempt.
type Payment struct {
	ID     ulid.ULID
	UserID ulid.ULID

	Provider Provider
	// Amount is whole shillings for M-Pesa and minor units for Stripe.
	Amount   int64
	Currency string
	Plan     string
	Status   Status

	// ProviderRef is the M-Pesa CheckoutRequestID or the Stripe
	// PaymentIntent id. It is empty until the provider accepts the request.
	ProviderRef string
	Receipt     string
	Phone       string
	Description string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPayment creates a pending payment with a fresh ID.
func NewPayment(userID ulid.ULID, provider Provider, amount int64, currency, plan string, now time.Time) *Payment {
	now = now.UTC()
	return &Payment{
		ID:        ulid.Make(),
		UserID:    userID,
		Provider:  provider,
		Amount:    amount,
		Currency:  currency,
		Plan:      plan,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Settlement is the outcome a provider reported for a pending payment.
type Settlement struct {
	Status      Status
	Receipt     string
	Description string
	At          time.Time
}

// Apply moves p to the settled state. It returns ErrNotPending if p is
// already final.
func (p *Payment) Apply(s Settlement) error {
	if p.Status != StatusPending {
		return ErrNotPending
	}
	p.Status = s.Status
	p.Receipt = s.Receipt
	p.Description = s.Description
	p.UpdatedAt = s.At.UTC()
	return nil
}

// View is the client-facing representation of a payment.
type View struct {
	ID          string    `json:"id"`
	Provider    Provider  `json:"provider"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Plan        string    `json:"plan"`
	Status      Status    `json:"status"`
	Reference   string    `json:"reference,omitempty"`
	Receipt     string    `json:"receipt,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// View returns the client-facing representation of p.
func (p *Payment) View() View {
	return View{
		ID:          p.ID.String(),
		Provider:    p.Provider,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Plan:        p.Plan,
		Status:      p.Status,
		Reference:   p.ProviderRef,
		Receipt:     p.Receipt,
		Phone:       p.Phone,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// Repository persists payments.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id ulid.ULID) (*Payment, error)
	GetByProviderRef(ctx context.Context, provider Provider, ref string) (*Payment, error)
	// ListByUser returns the user's payments, newest first.
	ListByUser(ctx context.Context, userID ulid.ULID) ([]*Payment, error)
	SetProviderRef(ctx context.Context, id ulid.ULID, ref string) error
	// Settle applies s only while the payment is pending and returns
	// ErrNotPending otherwise.
	Settle(ctx context.Context, id ulid.ULID, s Settlement) error
}

// PlanActivator grants the purchased plan once a payment completes.
type PlanActivator interface {
	SetPlan(ctx context.Context, userID ulid.ULID, plan string) error
}
