// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/lanconnect/lanconnect/internal/sessioncache"
)

type envelope struct {
	status  int
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func call(method, path string, body any, token string) envelope {
	GinkgoHelper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	out := envelope{status: resp.StatusCode}
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return out
}

var _ = Describe("LAN Connect API", Ordered, func() {
	const (
		email    = "wanjiru@example.com"
		password = "correct horse battery"
	)
	var access, refresh string

	BeforeAll(func() {
		_, err := env.pool.Exec(env.ctx, `TRUNCATE users CASCADE`)
		Expect(err).NotTo(HaveOccurred())
		Expect(env.redis.FlushDB(env.ctx).Err()).To(Succeed())
	})

	It("registers an account and stores its refresh token in Redis", func() {
		resp := call(http.MethodPost, "/api/v1/auth/register",
			map[string]string{"name": "Wanjiru", "email": email, "password": password}, "")
		Expect(resp.status).To(Equal(http.StatusCreated), resp.Message)

		user := resp.Data["user"].(map[string]any)
		Expect(user["email"]).To(Equal(email))
		Expect(user).NotTo(HaveKey("passwordHash"))

		stored, err := env.redis.Get(env.ctx, sessioncache.RefreshTokenKey(user["id"].(string))).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(Equal(resp.Data["refreshToken"]))
	})

	It("refuses a duplicate registration", func() {
		resp := call(http.MethodPost, "/api/v1/auth/register",
			map[string]string{"name": "Other", "email": "WANJIRU@example.com", "password": password}, "")
		Expect(resp.status).To(Equal(http.StatusBadRequest))
		Expect(resp.Message).To(Equal("User already exists with this email"))

		var users int
		Expect(env.pool.QueryRow(env.ctx, `SELECT count(*) FROM users`).Scan(&users)).To(Succeed())
		Expect(users).To(Equal(1))
		keys, err := env.redis.Keys(env.ctx, sessioncache.RefreshTokenKey("*")).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(HaveLen(1))
	})

	It("logs in and serves the profile", func() {
		resp := call(http.MethodPost, "/api/v1/auth/login",
			map[string]string{"email": email, "password": password}, "")
		Expect(resp.status).To(Equal(http.StatusOK), resp.Message)
		access = resp.Data["token"].(string)
		refresh = resp.Data["refreshToken"].(string)

		me := call(http.MethodGet, "/api/v1/auth/me", nil, access)
		Expect(me.status).To(Equal(http.StatusOK))
		Expect(me.Data["user"].(map[string]any)["lastLogin"]).NotTo(BeNil())
	})

	It("mints a new access token from the refresh token", func() {
		resp := call(http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": refresh}, "")
		Expect(resp.status).To(Equal(http.StatusOK), resp.Message)
		Expect(resp.Data["token"]).NotTo(BeEmpty())
	})

	It("completes an M-Pesa purchase through the callback", func() {
		push := call(http.MethodPost, "/api/v1/payment/mpesa/stk-push",
			map[string]any{"phone": "+254 712 345 678", "amount": 1000, "plan": "premium"}, access)
		Expect(push.status).To(Equal(http.StatusOK), push.Message)
		checkout := push.Data["checkoutRequestId"].(string)
		Expect(checkout).To(HavePrefix("ws_CO_stub_"))

		ack := call(http.MethodPost, "/api/v1/payment/mpesa/callback", map[string]any{
			"Body": map[string]any{"stkCallback": map[string]any{
				"MerchantRequestID": "stub-merchant",
				"CheckoutRequestID": checkout,
				"ResultCode":        0,
				"ResultDesc":        "The service request is processed successfully.",
				"CallbackMetadata": map[string]any{"Item": []map[string]any{
					{"Name": "MpesaReceiptNumber", "Value": "QKL2X9ABCD"},
				}},
			}},
		}, "")
		Expect(ack.status).To(Equal(http.StatusOK))

		history := call(http.MethodGet, "/api/v1/payment/history", nil, access)
		Expect(history.status).To(Equal(http.StatusOK))
		payments := history.Data["payments"].([]any)
		Expect(payments).To(HaveLen(1))
		Expect(payments[0].(map[string]any)["status"]).To(Equal("completed"))
		Expect(payments[0].(map[string]any)["receipt"]).To(Equal("QKL2X9ABCD"))

		me := call(http.MethodGet, "/api/v1/auth/me", nil, access)
		Expect(me.Data["user"].(map[string]any)["plan"]).To(Equal("premium"))
	})

	It("logs out and rejects both tokens afterwards", func() {
		resp := call(http.MethodPost, "/api/v1/auth/logout", nil, access)
		Expect(resp.status).To(Equal(http.StatusOK), resp.Message)

		blacklisted, err := env.redis.Exists(env.ctx, sessioncache.BlacklistKey(access)).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(blacklisted).To(BeEquivalentTo(1))

		Expect(call(http.MethodGet, "/api/v1/auth/me", nil, access).status).To(Equal(http.StatusUnauthorized))
		Expect(call(http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": refresh}, "").status).
			To(Equal(http.StatusUnauthorized))
	})

	It("resets the password with the mailed token exactly once", func() {
		resp := call(http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": email}, "")
		Expect(resp.status).To(Equal(http.StatusOK), resp.Message)

		sent, ok := env.notifier.Last()
		Expect(ok).To(BeTrue())

		reset := call(http.MethodPost, "/api/v1/auth/reset-password/"+sent.RawToken, map[string]string{"password": "a new passphrase"}, "")
		Expect(reset.status).To(Equal(http.StatusOK), reset.Message)

		again := call(http.MethodPost, "/api/v1/auth/reset-password/"+sent.RawToken, map[string]string{"password": "another one"}, "")
		Expect(again.status).To(Equal(http.StatusBadRequest))

		Expect(call(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": password}, "").status).
			To(Equal(http.StatusUnauthorized))
		Expect(call(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": "a new passphrase"}, "").status).
			To(Equal(http.StatusOK))
	})
})
