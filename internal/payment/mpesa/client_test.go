// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package mpesa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanconnect/lanconnect/internal/payment"
	"github.com/lanconnect/lanconnect/pkg/errutil"
)

// fixedNow is 2026-03-01 09:30:15 UTC, 12:30:15 in Nairobi.
var fixedNow = time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)

type daraja struct {
	tokenCalls atomic.Int32
	tokenFail  atomic.Int32

	push  func(w http.ResponseWriter, body pushRequest)
	query func(w http.ResponseWriter, body queryRequest)
}

func (d *daraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		d.tokenCalls.Add(1)
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"requestId":"r1","errorCode":"404.001.03","errorMessage":"Invalid Access Token"}`))
			return
		}
		if d.tokenFail.Load() > 0 {
			d.tokenFail.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1", "expires_in": "3599"})
	})
	mux.HandleFunc("POST /mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body pushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		d.push(w, body)
	})
	mux.HandleFunc("POST /mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		var body queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		d.query(w, body)
	})
	return mux
}

func newTestClient(t *testing.T, d *daraja) *Client {
	t.Helper()
	srv := httptest.NewServer(d.handler(t))
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:        srv.URL + "/",
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "passkey",
		CallbackURL:    "https://example.com/api/v1/payments/mpesa/callback",
		HTTPClient:     srv.Client(),
		Now:            func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		_, err := New(Config{ConsumerKey: "key"})
		errutil.AssertErrorCode(t, err, "MPESA_CONFIG_INVALID")
	})

	t.Run("missing fields are reported in declaration order", func(t *testing.T) {
		for range 20 {
			_, err := New(Config{ConsumerKey: "key", PassKey: " "})
			errutil.AssertErrorContext(t, err, "missing",
				[]string{"consumer_secret", "short_code", "pass_key", "callback_url"})
		}
	})

	t.Run("defaults", func(t *testing.T) {
		c, err := New(Config{
			ConsumerKey:    "k",
			ConsumerSecret: "s",
			ShortCode:      "174379",
			PassKey:        "p",
			CallbackURL:    "https://example.com/cb",
		})
		require.NoError(t, err)
		assert.Equal(t, SandboxURL, c.cfg.BaseURL)
		assert.Equal(t, defaultTransactionType, c.cfg.TransactionType)
		assert.Equal(t, defaultTimeout, c.http.Timeout)
	})
}

func TestPassword(t *testing.T) {
	// base64("174379" + "passkey" + "20260301123015")
	assert.Equal(t, "MTc0Mzc5cGFzc2tleTIwMjYwMzAxMTIzMDE1", Password("174379", "passkey", "20260301123015"))
}

func TestSTKPush(t *testing.T) {
	d := &daraja{}
	d.push = func(w http.ResponseWriter, body pushRequest) {
		assert.Equal(t, "174379", body.BusinessShortCode)
		assert.Equal(t, "20260301123015", body.Timestamp)
		assert.Equal(t, Password("174379", "passkey", "20260301123015"), body.Password)
		assert.Equal(t, "CustomerPayBillOnline", body.TransactionType)
		assert.Equal(t, int64(500), body.Amount)
		assert.Equal(t, "254712345678", body.PartyA)
		assert.Equal(t, "174379", body.PartyB)
		assert.Equal(t, "254712345678", body.PhoneNumber)
		assert.Equal(t, "https://example.com/api/v1/payments/mpesa/callback", body.CallBackURL)
		assert.Equal(t, "LAN Connect", body.AccountReference)
		assert.Len(t, body.TransactionDesc, 13)
		_ = json.NewEncoder(w).Encode(pushResponse{
			MerchantRequestID: "29115-34620561-1",
			CheckoutRequestID: "ws_CO_191220191020363925",
			ResponseCode:      "0",
			CustomerMessage:   "Success. Request accepted for processing",
		})
	}
	c := newTestClient(t, d)

	res, err := c.STKPush(context.Background(), payment.STKPushRequest{
		Phone:            "254712345678",
		Amount:           500,
		AccountReference: "LAN Connect",
		Description:      "LAN Connect premium plan",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", res.CheckoutRequestID)
	assert.Equal(t, "29115-34620561-1", res.MerchantRequestID)
	assert.Equal(t, "Success. Request accepted for processing", res.CustomerMessage)

	_, err = c.STKPush(context.Background(), payment.STKPushRequest{Phone: "254712345678", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(1), d.tokenCalls.Load(), "token is cached between calls")
}

func TestSTKPush_Errors(t *testing.T) {
	t.Run("non-zero response code", func(t *testing.T) {
		d := &daraja{push: func(w http.ResponseWriter, _ pushRequest) {
			_ = json.NewEncoder(w).Encode(pushResponse{ResponseCode: "1", ResponseDescription: "Rejected"})
		}}
		_, err := newTestClient(t, d).STKPush(context.Background(), payment.STKPushRequest{Phone: "254712345678", Amount: 1})
		errutil.AssertErrorCode(t, err, "MPESA_STK_PUSH_REJECTED")
	})

	t.Run("api error body", func(t *testing.T) {
		d := &daraja{push: func(w http.ResponseWriter, _ pushRequest) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"requestId":"r2","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`))
		}}
		_, err := newTestClient(t, d).STKPush(context.Background(), payment.STKPushRequest{Phone: "254712345678", Amount: 1})
		require.Error(t, err)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
		assert.Equal(t, "400.002.02", statusErr.Code)
		assert.Equal(t, "Bad Request - Invalid PhoneNumber", statusErr.Message)
	})
}

func TestQuerySTK(t *testing.T) {
	tests := []struct {
		name    string
		respond func(w http.ResponseWriter)
		want    payment.STKQueryResult
	}{
		{
			name: "completed",
			respond: func(w http.ResponseWriter) {
				_ = json.NewEncoder(w).Encode(queryResponse{ResponseCode: "0", ResultCode: "0", ResultDesc: "The service request is processed successfully."})
			},
			want: payment.STKQueryResult{ResultCode: "0", ResultDesc: "The service request is processed successfully."},
		},
		{
			name: "cancelled",
			respond: func(w http.ResponseWriter) {
				_ = json.NewEncoder(w).Encode(queryResponse{ResponseCode: "0", ResultCode: "1032", ResultDesc: "Request cancelled by user"})
			},
			want: payment.STKQueryResult{ResultCode: "1032", ResultDesc: "Request cancelled by user"},
		},
		{
			name: "still processing",
			respond: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"requestId":"r3","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`))
			},
			want: payment.STKQueryResult{Pending: true, ResultDesc: "The transaction is being processed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &daraja{query: func(w http.ResponseWriter, body queryRequest) {
				assert.Equal(t, "ws_CO_1", body.CheckoutRequestID)
				assert.Equal(t, "20260301123015", body.Timestamp)
				tt.respond(w)
			}}
			got, err := newTestClient(t, d).QuerySTK(context.Background(), "ws_CO_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}

	t.Run("other server error", func(t *testing.T) {
		d := &daraja{query: func(w http.ResponseWriter, _ queryRequest) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"errorCode":"500.003.02","errorMessage":"System is busy"}`))
		}}
		_, err := newTestClient(t, d).QuerySTK(context.Background(), "ws_CO_1")
		require.Error(t, err)
		errutil.AssertErrorContext(t, err, "checkout_request_id", "ws_CO_1")
	})
}

func TestAccessToken(t *testing.T) {
	t.Run("retries server errors", func(t *testing.T) {
		d := &daraja{}
		d.tokenFail.Store(1)
		c := newTestClient(t, d)

		token, err := c.accessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", token)
		assert.Equal(t, int32(2), d.tokenCalls.Load())
	})

	t.Run("does not retry rejected credentials", func(t *testing.T) {
		d := &daraja{}
		c := newTestClient(t, d)
		c.cfg.ConsumerSecret = "wrong"

		_, err := c.accessToken(context.Background())
		errutil.AssertErrorCode(t, err, "MPESA_AUTH_FAILED")
		assert.Equal(t, int32(1), d.tokenCalls.Load())
	})

	t.Run("renews before expiry", func(t *testing.T) {
		d := &daraja{}
		c := newTestClient(t, d)
		now := fixedNow
		c.cfg.Now = func() time.Time { return now }

		_, err := c.accessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fixedNow.Add(3599*time.Second-tokenSkew), c.tokenExpiry)

		now = c.tokenExpiry.Add(time.Second)
		_, err = c.accessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(2), d.tokenCalls.Load())
	})
}
