// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package stripepay implements payment.StripeGateway with stripe-go.
package stripepay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/samber/oops"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/lanconnect/lanconnect/internal/payment"
)

// Config configures a Gateway.
type Config struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the Stripe API URL. Used against stripe-mock and in
	// tests.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Gateway creates payment intents and verifies webhooks.
type Gateway struct {
	api           *client.API
	webhookSecret string
}

// New creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, oops.Code("STRIPE_CONFIG_INVALID").Errorf("stripe secret key is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, oops.Code("STRIPE_CONFIG_INVALID").Errorf("stripe webhook secret is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:    cfg.HTTPClient,
		LeveledLogger: &leveledLogger{logger: logger.With("component", "stripe")},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.BaseURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	api := client.New(cfg.SecretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
	return &Gateway{api: api, webhookSecret: cfg.WebhookSecret}, nil
}

// CreatePaymentIntent creates a PaymentIntent with automatic payment methods.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if id := req.Metadata["payment_id"]; id != "" {
		params.SetIdempotencyKey("lanconnect-" + id)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, oops.Code("STRIPE_INTENT_FAILED").
			With("amount", req.Amount).
			With("currency", req.Currency).
			Wrap(err)
	}
	return &payment.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes payment
// intent events. Other event types are returned with only ID and Type set.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, oops.Code("STRIPE_SIGNATURE_INVALID").Wrap(fmt.Errorf("%w: %w", payment.ErrInvalidSignature, err))
	}

	out := &payment.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") || event.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, oops.Code("STRIPE_EVENT_INVALID").With("event_id", event.ID).Wrap(err)
	}
	out.IntentID = pi.ID
	out.PaymentID = pi.Metadata["payment_id"]
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out, nil
}

// leveledLogger routes stripe-go's logging through slog.
type leveledLogger struct {
	logger *slog.Logger
}

func (l *leveledLogger) Debugf(format string, v ...any) { l.logger.Debug(fmt.Sprintf(format, v...)) }
func (l *leveledLogger) Infof(format string, v ...any)  { l.logger.Debug(fmt.Sprintf(format, v...)) }
func (l *leveledLogger) Warnf(format string, v ...any)  { l.logger.Warn(fmt.Sprintf(format, v...)) }
func (l *leveledLogger) Errorf(format string, v ...any) { l.logger.Error(fmt.Sprintf(format, v...)) }

var (
	_ payment.StripeGateway         = (*Gateway)(nil)
	_ stripe.LeveledLoggerInterface = (*leveledLogger)(nil)
)
