// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package paymenttest provides in-memory test doubles for the payment package.
package paymenttest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/lanconnect/lanconnect/internal/payment"
)

// Store is an in-memory payment.Repository.
type Store struct {
	mu       sync.Mutex
	payments map[ulid.ULID]payment.Payment

	// Err, when set, is returned from every call.
	Err error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{payments: make(map[ulid.ULID]payment.Payment)}
}

// Create stores p.
func (s *Store) Create(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.payments[p.ID] = *p
	return nil
}

// GetByID returns a copy of the payment.
func (s *Store) GetByID(_ context.Context, id ulid.ULID) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.payments[id]
	if !ok {
		return nil, oops.Code("PAYMENT_NOT_FOUND").With("id", id.String()).Wrap(payment.ErrNotFound)
	}
	return &p, nil
}

// GetByProviderRef returns the payment carrying ref.
func (s *Store) GetByProviderRef(_ context.Context, provider payment.Provider, ref string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, p := range s.payments {
		if p.Provider == provider && p.ProviderRef == ref && ref != "" {
			return &p, nil
		}
	}
	return nil, oops.Code("PAYMENT_NOT_FOUND").With("provider_ref", ref).Wrap(payment.ErrNotFound)
}

// ListByUser returns the user's payments, newest first.
func (s *Store) ListByUser(_ context.Context, userID ulid.ULID) ([]*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*payment.Payment
	for _, p := range s.payments {
		if p.UserID == userID {
			out = append(out, &p)
		}
	}
	slices.SortFunc(out, func(a, b *payment.Payment) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return b.ID.Compare(a.ID)
	})
	return out, nil
}

// SetProviderRef records the provider reference.
func (s *Store) SetProviderRef(_ context.Context, id ulid.ULID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	p, ok := s.payments[id]
	if !ok {
		return oops.Code("PAYMENT_NOT_FOUND").With("id", id.String()).Wrap(payment.ErrNotFound)
	}
	p.ProviderRef = ref
	s.payments[id] = p
	return nil
}

// Settle applies st while the payment is pending.
func (s *Store) Settle(_ context.Context, id ulid.ULID, st payment.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	p, ok := s.payments[id]
	if !ok {
		return oops.Code("PAYMENT_NOT_FOUND").With("id", id.String()).Wrap(payment.ErrNotFound)
	}
	if err := p.Apply(st); err != nil {
		return oops.Code("PAYMENT_NOT_PENDING").With("id", id.String()).Wrap(err)
	}
	s.payments[id] = p
	return nil
}

// Get returns a copy of the stored payment, for assertions.
func (s *Store) Get(id ulid.ULID) (payment.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	return p, ok
}

// Mpesa is a scripted payment.MpesaGateway.
type Mpesa struct {
	mu     sync.Mutex
	pushes []payment.STKPushRequest
	seq    int

	PushErr     error
	QueryResult payment.STKQueryResult
	QueryErr    error
}

// STKPush records req and returns a sequential checkout request id.
func (m *Mpesa) STKPush(_ context.Context, req payment.STKPushRequest) (*payment.STKPushResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PushErr != nil {
		return nil, m.PushErr
	}
	m.pushes = append(m.pushes, req)
	m.seq++
	return &payment.STKPushResult{
		MerchantRequestID: fmt.Sprintf("merchant-%d", m.seq),
		CheckoutRequestID: fmt.Sprintf("ws_CO_%d", m.seq),
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

// QuerySTK returns the scripted result.
func (m *Mpesa) QuerySTK(_ context.Context, _ string) (*payment.STKQueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	res := m.QueryResult
	return &res, nil
}

// Pushes returns the recorded STK push requests.
func (m *Mpesa) Pushes() []payment.STKPushRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.pushes)
}

// Stripe is a scripted payment.StripeGateway. ParseWebhook accepts only the
// signature "valid" and returns Event.
type Stripe struct {
	mu      sync.Mutex
	intents []payment.IntentRequest
	seq     int

	IntentErr error
	Event     payment.WebhookEvent
}

// CreatePaymentIntent records req and returns a sequential intent.
func (s *Stripe) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IntentErr != nil {
		return nil, s.IntentErr
	}
	s.intents = append(s.intents, req)
	s.seq++
	id := fmt.Sprintf("pi_%d", s.seq)
	return &payment.Intent{ID: id, ClientSecret: id + "_secret_test", Status: "requires_payment_method"}, nil
}

// ParseWebhook returns Event when signature is "valid".
func (s *Stripe) ParseWebhook(_ []byte, signature string) (*payment.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if signature != "valid" {
		return nil, oops.Code("STRIPE_SIGNATURE_INVALID").Wrap(payment.ErrInvalidSignature)
	}
	ev := s.Event
	return &ev, nil
}

// Intents returns the recorded intent requests.
func (s *Stripe) Intents() []payment.IntentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.intents)
}

// Plans records plan activations. A non-nil Err fails every activation.
type Plans struct {
	Err error

	mu    sync.Mutex
	plans map[ulid.ULID]string
	calls int
}

// SetPlan records the activation.
func (p *Plans) SetPlan(_ context.Context, userID ulid.ULID, plan string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return p.Err
	}
	if p.plans == nil {
		p.plans = make(map[ulid.ULID]string)
	}
	p.plans[userID] = plan
	return nil
}

// Calls counts SetPlan invocations, failed ones included.
func (p *Plans) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Plan returns the last plan activated for userID.
func (p *Plans) Plan(userID ulid.ULID) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plans[userID]
}

var (
	_ payment.Repository    = (*Store)(nil)
	_ payment.MpesaGateway  = (*Mpesa)(nil)
	_ payment.StripeGateway = (*Stripe)(nil)
	_ payment.PlanActivator = (*Plans)(nil)
)
