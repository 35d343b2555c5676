// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package api

import (
	"encoding/json"
	"net/http"

	"github.com/samber/oops"

	"github.com/lanconnect/lanconnect/internal/payment"
)

// MpesaSTKPushRequest is the body of POST /payment/mpesa/stk-push. Amount is
// in whole shillings.
type MpesaSTKPushRequest struct {
	Phone  string `json:"phone" jsonschema:"maxLength=32"`
	Amount int64  `json:"amount" jsonschema:"required"`
	Plan   string `json:"plan" jsonschema:"maxLength=64"`
}

// MpesaQueryRequest is the body of POST /payment/mpesa/query.
type MpesaQueryRequest struct {
	CheckoutRequestID string `json:"checkoutRequestId" jsonschema:"maxLength=128"`
}

// StripeIntentRequest is the body of POST /payment/stripe/create-intent.
// Amount is in the currency's minor unit.
type StripeIntentRequest struct {
	Amount   int64  `json:"amount" jsonschema:"required"`
	Currency string `json:"currency,omitempty" jsonschema:"maxLength=3"`
	Plan     string `json:"plan" jsonschema:"maxLength=64"`
}

type mpesaAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// paymentService returns the payment service, or an error when payments are
// not wired into this server.
func (s *Server) paymentService() (*payment.Service, error) {
	if s.payments == nil {
		return nil, oops.Code("PAYMENT_PROVIDER_DISABLED").Wrap(payment.ErrProviderDisabled)
	}
	return s.payments, nil
}

func (s *Server) handleMpesaSTKPush(w http.ResponseWriter, r *http.Request) {
	svc, err := s.paymentService()
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var req MpesaSTKPushRequest
	if err := s.decode(r, "mpesa-stk-push", &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	res, err := svc.InitiateMpesa(r.Context(), principal(r).UserID, payment.MpesaRequest{
		Phone:  req.Phone,
		Amount: req.Amount,
		Plan:   req.Plan,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody{
		Status:  "success",
		Message: res.CustomerMessage,
		Data: map[string]any{
			"payment":           res.Payment.View(),
			"checkoutRequestId": res.Payment.ProviderRef,
		},
	})
}

// handleMpesaCallback accepts Daraja's STK result. Callbacks that cannot be
// matched to a payment are still acknowledged so Daraja stops retrying.
func (s *Server) handleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	svc, err := s.paymentService()
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var cb payment.MpesaCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		writeError(w, r, s.logger, &requestError{message: "Invalid callback body"})
		return
	}
	if err := svc.HandleMpesaCallback(r.Context(), cb.Body.STKCallback); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mpesaAck{ResultCode: 0, ResultDesc: "Accepted"})
}

func (s *Server) handleMpesaQuery(w http.ResponseWriter, r *http.Request) {
	svc, err := s.paymentService()
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var req MpesaQueryRequest
	if err := s.decode(r, "mpesa-query", &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	p, err := svc.QueryMpesa(r.Context(), principal(r).UserID, req.CheckoutRequestID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"payment": p.View()})
}

func (s *Server) handleStripeIntent(w http.ResponseWriter, r *http.Request) {
	svc, err := s.paymentService()
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var req StripeIntentRequest
	if err := s.decode(r, "stripe-intent", &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	intent, err := svc.CreateStripeIntent(r.Context(), principal(r).UserID, payment.StripeRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Plan:     req.Plan,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"clientSecret": intent.ClientSecret,
		"payment":      intent.Payment.View(),
	})
}

// handleStripeWebhook verifies the raw body against the Stripe-Signature
// header, so the body must not be decoded first.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	svc, err := s.paymentService()
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := svc.HandleStripeWebhook(r.Context(), body, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) handlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	svc, err := s.paymentService()
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	payments, err := svc.History(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	views := make([]payment.View, 0, len(payments))
	for _, p := range payments {
		views = append(views, p.View())
	}
	writeData(w, http.StatusOK, map[string]any{"payments": views})
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	svc, err := s.paymentService()
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	p, err := svc.Get(r.Context(), principal(r).UserID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"payment": p.View()})
}
