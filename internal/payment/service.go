// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package payment

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Observer receives every payment state change.
type Observer interface {
	ObservePayment(provider, status string)
}

// Deps are the collaborators of the payment Service. Mpesa and Stripe may be
// nil, which disables the provider; Plans may be nil.
type Deps struct {
	Payments Repository
	Mpesa    MpesaGateway
	Stripe   StripeGateway
	Plans    PlanActivator
}

// Options tune the payment Service. Zero values select defaults.
type Options struct {
	// MpesaCurrency labels M-Pesa payments. Defaults to KES.
	MpesaCurrency string
	// StripeCurrency is used when a request names none. Defaults to usd.
	StripeCurrency string
	// AccountReference is shown to the customer on the STK prompt.
	AccountReference string

	Logger   *slog.Logger
	Observer Observer
	Now      func() time.Time
}

// MpesaRequest starts an STK push.
type MpesaRequest struct {
	Phone  string
	Amount int64
	Plan   string
}

// MpesaInitiation is the result of a started STK push.
type MpesaInitiation struct {
	Payment         *Payment
	CustomerMessage string
}

// StripeRequest creates a payment intent.
type StripeRequest struct {
	Amount   int64
	Currency string
	Plan     string
}

// StripeIntent is a created payment intent and its local record.
type StripeIntent struct {
	Payment      *Payment
	ClientSecret string
}

// Service implements the payment operations.
type Service struct {
	payments Repository
	mpesa    MpesaGateway
	stripe   StripeGateway
	plans    PlanActivator

	mpesaCurrency    string
	stripeCurrency   string
	accountReference string
	logger           *slog.Logger
	observer         Observer
	now              func() time.Time
}

// NewService creates a Service.
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Payments == nil {
		return nil, oops.Code("PAYMENT_SERVICE_INVALID").Errorf("payment repository is required")
	}
	s := &Service{
		payments:         deps.Payments,
		mpesa:            deps.Mpesa,
		stripe:           deps.Stripe,
		plans:            deps.Plans,
		mpesaCurrency:    opts.MpesaCurrency,
		stripeCurrency:   strings.ToLower(opts.StripeCurrency),
		accountReference: opts.AccountReference,
		logger:           opts.Logger,
		observer:         opts.Observer,
		now:              opts.Now,
	}
	if s.mpesaCurrency == "" {
		s.mpesaCurrency = "KES"
	}
	if s.stripeCurrency == "" {
		s.stripeCurrency = "usd"
	}
	if s.accountReference == "" {
		s.accountReference = "LAN Connect"
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// MpesaEnabled reports whether M-Pesa is configured.
func (s *Service) MpesaEnabled() bool { return s.mpesa != nil }

// StripeEnabled reports whether Stripe is configured.
func (s *Service) StripeEnabled() bool { return s.stripe != nil }

// InitiateMpesa records a pending payment and sends an STK push to the
// customer's phone.
func (s *Service) InitiateMpesa(ctx context.Context, userID ulid.ULID, req MpesaRequest) (*MpesaInitiation, error) {
	if s.mpesa == nil {
		return nil, oops.Code("PAYMENT_PROVIDER_DISABLED").With("provider", ProviderMpesa).Wrap(ErrProviderDisabled)
	}
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	plan, err := validatePurchase(req.Amount, req.Plan)
	if err != nil {
		return nil, err
	}

	p := NewPayment(userID, ProviderMpesa, req.Amount, s.mpesaCurrency, plan, s.now())
	p.Phone = phone
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, oops.Code("PAYMENT_INITIATE_FAILED").With("operation", "create payment").Wrap(upstream(err))
	}

	res, err := s.mpesa.STKPush(ctx, STKPushRequest{
		Phone:            phone,
		Amount:           req.Amount,
		AccountReference: s.accountReference,
		Description:      "LAN Connect " + plan + " plan",
	})
	if err != nil {
		_ = s.settle(ctx, p, Settlement{Status: StatusFailed, Description: "STK push rejected", At: s.now()}) //nolint:errcheck // push error is returned
		return nil, oops.Code("PAYMENT_INITIATE_FAILED").
			With("operation", "stk push").
			With("payment_id", p.ID.String()).
			Wrap(upstream(err))
	}

	if err := s.payments.SetProviderRef(ctx, p.ID, res.CheckoutRequestID); err != nil {
		return nil, oops.Code("PAYMENT_INITIATE_FAILED").
			With("operation", "store checkout request id").
			With("payment_id", p.ID.String()).
			Wrap(upstream(err))
	}
	p.ProviderRef = res.CheckoutRequestID

	s.logger.InfoContext(ctx, "mpesa payment initiated",
		"payment_id", p.ID.String(),
		"user_id", userID.String(),
		"checkout_request_id", res.CheckoutRequestID)
	return &MpesaInitiation{Payment: p, CustomerMessage: res.CustomerMessage}, nil
}

// HandleMpesaCallback settles the payment named by an STK callback. Callbacks
// for unknown or already settled payments are logged and accepted.
func (s *Service) HandleMpesaCallback(ctx context.Context, cb STKCallback) error {
	if cb.CheckoutRequestID == "" {
		return invalidInput("CheckoutRequestID", "CheckoutRequestID is required")
	}

	p, err := s.payments.GetByProviderRef(ctx, ProviderMpesa, cb.CheckoutRequestID)
	if errors.Is(err, ErrNotFound) {
		s.logger.WarnContext(ctx, "mpesa callback for unknown checkout request",
			"checkout_request_id", cb.CheckoutRequestID,
			"result_code", cb.ResultCode)
		return nil
	}
	if err != nil {
		return oops.Code("PAYMENT_CALLBACK_FAILED").
			With("checkout_request_id", cb.CheckoutRequestID).
			Wrap(upstream(err))
	}

	settlement := Settlement{Status: StatusFailed, Description: cb.ResultDesc, At: s.now()}
	if cb.ResultCode == 0 {
		settlement.Status = StatusCompleted
		settlement.Receipt, _ = cb.Metadata("MpesaReceiptNumber")
	}
	return s.settle(ctx, p, settlement)
}

// QueryMpesa asks Daraja for the state of one of the user's STK pushes and
// settles the payment if the customer has answered.
func (s *Service) QueryMpesa(ctx context.Context, userID ulid.ULID, checkoutRequestID string) (*Payment, error) {
	if s.mpesa == nil {
		return nil, oops.Code("PAYMENT_PROVIDER_DISABLED").With("provider", ProviderMpesa).Wrap(ErrProviderDisabled)
	}
	checkoutRequestID = strings.TrimSpace(checkoutRequestID)
	if checkoutRequestID == "" {
		return nil, invalidInput("checkoutRequestId", "Checkout request ID is required")
	}

	p, err := s.payments.GetByProviderRef(ctx, ProviderMpesa, checkoutRequestID)
	if err != nil {
		return nil, s.lookupError(err, "checkout_request_id", checkoutRequestID)
	}
	if p.UserID != userID {
		return nil, oops.Code("PAYMENT_NOT_FOUND").With("checkout_request_id", checkoutRequestID).Wrap(ErrNotFound)
	}
	if p.Status.Final() {
		return p, nil
	}

	res, err := s.mpesa.QuerySTK(ctx, checkoutRequestID)
	if err != nil {
		return nil, oops.Code("PAYMENT_QUERY_FAILED").
			With("checkout_request_id", checkoutRequestID).
			Wrap(upstream(err))
	}
	if res.Pending {
		return p, nil
	}

	settlement := Settlement{Status: StatusFailed, Description: res.ResultDesc, At: s.now()}
	if res.ResultCode == "0" {
		settlement.Status = StatusCompleted
	}
	if err := s.settle(ctx, p, settlement); err != nil {
		return nil, err
	}
	return s.reload(ctx, p)
}

var currencyPattern = regexp.MustCompile(`^[a-z]{3}$`)

// CreateStripeIntent records a pending payment and creates the matching
// PaymentIntent. The client secret lets the frontend confirm the payment.
func (s *Service) CreateStripeIntent(ctx context.Context, userID ulid.ULID, req StripeRequest) (*StripeIntent, error) {
	if s.stripe == nil {
		return nil, oops.Code("PAYMENT_PROVIDER_DISABLED").With("provider", ProviderStripe).Wrap(ErrProviderDisabled)
	}
	plan, err := validatePurchase(req.Amount, req.Plan)
	if err != nil {
		return nil, err
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.stripeCurrency
	}
	if !currencyPattern.MatchString(currency) {
		return nil, invalidInput("currency", "Currency must be a three-letter ISO code")
	}

	p := NewPayment(userID, ProviderStripe, req.Amount, currency, plan, s.now())
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, oops.Code("PAYMENT_INTENT_FAILED").With("operation", "create payment").Wrap(upstream(err))
	}

	intent, err := s.stripe.CreatePaymentIntent(ctx, IntentRequest{
		Amount:      req.Amount,
		Currency:    currency,
		Description: "LAN Connect " + plan + " plan",
		Metadata: map[string]string{
			"payment_id": p.ID.String(),
			"user_id":    userID.String(),
			"plan":       plan,
		},
	})
	if err != nil {
		_ = s.settle(ctx, p, Settlement{Status: StatusFailed, Description: "payment intent rejected", At: s.now()}) //nolint:errcheck // intent error is returned
		return nil, oops.Code("PAYMENT_INTENT_FAILED").
			With("operation", "create payment intent").
			With("payment_id", p.ID.String()).
			Wrap(upstream(err))
	}

	if err := s.payments.SetProviderRef(ctx, p.ID, intent.ID); err != nil {
		return nil, oops.Code("PAYMENT_INTENT_FAILED").
			With("operation", "store payment intent id").
			With("payment_id", p.ID.String()).
			Wrap(upstream(err))
	}
	p.ProviderRef = intent.ID

	s.logger.InfoContext(ctx, "stripe payment intent created",
		"payment_id", p.ID.String(),
		"user_id", userID.String(),
		"intent_id", intent.ID)
	return &StripeIntent{Payment: p, ClientSecret: intent.ClientSecret}, nil
}

// HandleStripeWebhook verifies and applies a Stripe event. Events other than
// payment intent success or failure are acknowledged and ignored.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.stripe == nil {
		return oops.Code("PAYMENT_PROVIDER_DISABLED").With("provider", ProviderStripe).Wrap(ErrProviderDisabled)
	}

	event, err := s.stripe.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			return err
		}
		return oops.Code("PAYMENT_WEBHOOK_INVALID").Wrap(errors.Join(ErrInvalidSignature, err))
	}

	var status Status
	switch event.Type {
	case EventIntentSucceeded:
		status = StatusCompleted
	case EventIntentFailed:
		status = StatusFailed
	default:
		s.logger.DebugContext(ctx, "ignoring stripe event", "event_id", event.ID, "type", event.Type)
		return nil
	}

	p, err := s.payments.GetByProviderRef(ctx, ProviderStripe, event.IntentID)
	if errors.Is(err, ErrNotFound) {
		s.logger.WarnContext(ctx, "stripe event for unknown payment intent",
			"event_id", event.ID,
			"intent_id", event.IntentID,
			"payment_id", event.PaymentID)
		return nil
	}
	if err != nil {
		return oops.Code("PAYMENT_WEBHOOK_FAILED").With("intent_id", event.IntentID).Wrap(upstream(err))
	}

	return s.settle(ctx, p, Settlement{Status: status, Description: event.FailureMessage, At: s.now()})
}

// History returns the user's payments, newest first.
func (s *Service) History(ctx context.Context, userID ulid.ULID) ([]*Payment, error) {
	payments, err := s.payments.ListByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("PAYMENT_HISTORY_FAILED").With("user_id", userID.String()).Wrap(upstream(err))
	}
	return payments, nil
}

// Get returns one of the user's payments. Malformed ids and payments owned by
// other users are reported as ErrNotFound.
func (s *Service) Get(ctx context.Context, userID ulid.ULID, id string) (*Payment, error) {
	pid, err := ulid.Parse(id)
	if err != nil {
		return nil, oops.Code("PAYMENT_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	p, err := s.payments.GetByID(ctx, pid)
	if err != nil {
		return nil, s.lookupError(err, "id", id)
	}
	if p.UserID != userID {
		return nil, oops.Code("PAYMENT_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	return p, nil
}

// settle applies s to p. A payment that is already final is left alone,
// except that a repeated completion retries the plan activation: providers
// redeliver until they get a success, so an activation that failed earlier
// is completed by the redelivery.
func (s *Service) settle(ctx context.Context, p *Payment, st Settlement) error {
	err := s.payments.Settle(ctx, p.ID, st)
	if errors.Is(err, ErrNotPending) {
		s.logger.InfoContext(ctx, "payment already settled",
			"payment_id", p.ID.String(),
			"reported_status", string(st.Status))
		if st.Status != StatusCompleted {
			return nil
		}
		current, err := s.reload(ctx, p)
		if err != nil {
			return err
		}
		if current.Status != StatusCompleted {
			return nil
		}
		return s.activatePlan(ctx, current)
	}
	if err != nil {
		return oops.Code("PAYMENT_SETTLE_FAILED").
			With("payment_id", p.ID.String()).
			With("status", string(st.Status)).
			Wrap(upstream(err))
	}
	_ = p.Apply(st) //nolint:errcheck // the repository accepted the transition

	if s.observer != nil {
		s.observer.ObservePayment(string(p.Provider), string(st.Status))
	}
	s.logger.InfoContext(ctx, "payment settled",
		"payment_id", p.ID.String(),
		"provider", string(p.Provider),
		"status", string(st.Status))

	if st.Status == StatusCompleted {
		return s.activatePlan(ctx, p)
	}
	return nil
}

// activatePlan grants p's plan to its owner. SetPlan is idempotent, so it is
// safe to call for every delivery of a completion.
func (s *Service) activatePlan(ctx context.Context, p *Payment) error {
	if s.plans == nil || p.Plan == "" {
		return nil
	}
	if err := s.plans.SetPlan(ctx, p.UserID, p.Plan); err != nil {
		s.logger.ErrorContext(ctx, "failed to activate plan",
			"payment_id", p.ID.String(),
			"user_id", p.UserID.String(),
			"plan", p.Plan,
			"error", err)
		return oops.Code("PAYMENT_PLAN_ACTIVATION_FAILED").
			With("payment_id", p.ID.String()).
			With("plan", p.Plan).
			Wrap(upstream(err))
	}
	return nil
}

func (s *Service) reload(ctx context.Context, p *Payment) (*Payment, error) {
	fresh, err := s.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, s.lookupError(err, "id", p.ID.String())
	}
	return fresh, nil
}

func (s *Service) lookupError(err error, key, value string) error {
	if errors.Is(err, ErrNotFound) {
		return oops.Code("PAYMENT_NOT_FOUND").With(key, value).Wrap(err)
	}
	return oops.Code("PAYMENT_LOOKUP_FAILED").With(key, value).Wrap(upstream(err))
}

func validatePurchase(amount int64, plan string) (string, error) {
	if amount <= 0 {
		return "", invalidInput("amount", "Amount must be a positive whole number")
	}
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return "", invalidInput("plan", "Plan is required")
	}
	return plan, nil
}
