// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package payment

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// STKPushRequest asks the customer's handset to approve a payment.
type STKPushRequest struct {
	Phone            string
	Amount           int64
	AccountReference string
	Description      string
}

// STKPushResult is Daraja's acknowledgement of an STK push.
type STKPushResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResponseCode      string
	CustomerMessage   string
}

// STKQueryResult is the state Daraja reports for a checkout request.
type STKQueryResult struct {
	// Pending is set while the customer has not answered the prompt.
	Pending    bool
	ResultCode string
	ResultDesc string
}

// MpesaGateway talks to Safaricom Daraja.
type MpesaGateway interface {
	STKPush(ctx context.Context, req STKPushRequest) (*STKPushResult, error)
	QuerySTK(ctx context.Context, checkoutRequestID string) (*STKQueryResult, error)
}

// IntentRequest creates a Stripe PaymentIntent.
type IntentRequest struct {
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// Intent is a created Stripe PaymentIntent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

// Stripe event types the service acts on.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// WebhookEvent is a verified Stripe webhook, reduced to what settlement needs.
type WebhookEvent struct {
	ID             string
	Type           string
	IntentID       string
	PaymentID      string
	FailureMessage string
}

// StripeGateway talks to Stripe.
type StripeGateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	// ParseWebhook verifies signature over payload and decodes the event.
	// Verification failures match ErrInvalidSignature.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// NormalizePhone converts Kenyan mobile numbers written as 07XXXXXXXX,
// 01XXXXXXXX, +2547XXXXXXXX or 2547XXXXXXXX into the 254XXXXXXXXX form
// Daraja expects.
func NormalizePhone(phone string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		if r == '+' || r == ' ' || r == '-' {
			return -1
		}
		return 'x'
	}, strings.TrimSpace(phone))

	switch {
	case strings.ContainsRune(digits, 'x'):
	case len(digits) == 10 && digits[0] == '0':
		digits = "254" + digits[1:]
	case len(digits) == 9 && (digits[0] == '7' || digits[0] == '1'):
		digits = "254" + digits
	}

	if len(digits) != 12 || !strings.HasPrefix(digits, "254") || (digits[3] != '7' && digits[3] != '1') {
		return "", invalidInput("phone", fmt.Sprintf("Invalid phone number: %s", strings.TrimSpace(phone)))
	}
	return digits, nil
}

// MpesaCallback is the body Daraja posts to the STK callback URL.
type MpesaCallback struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback reports the customer's answer to an STK push.
type STKCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []CallbackItem `json:"Item"`
	} `json:"CallbackMetadata,omitempty"`
}

// CallbackItem is one name/value pair of callback metadata.
type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// Metadata returns the value of the named metadata item as a string.
func (c STKCallback) Metadata(name string) (string, bool) {
	if c.CallbackMetadata == nil {
		return "", false
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name != name || item.Value == nil {
			continue
		}
		switch v := item.Value.(type) {
		case string:
			return v, true
		case float64:
			return fmt.Sprintf("%.0f", v), true
		default:
			return fmt.Sprint(v), true
		}
	}
	return "", false
}
