// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

//go:build integration

// Package integration runs the API end to end against PostgreSQL and Redis
// containers and a stub Daraja endpoint.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lanconnect/lanconnect/internal/api"
	"github.com/lanconnect/lanconnect/internal/auth"
	"github.com/lanconnect/lanconnect/internal/auth/authtest"
	authpg "github.com/lanconnect/lanconnect/internal/auth/postgres"
	"github.com/lanconnect/lanconnect/internal/payment"
	"github.com/lanconnect/lanconnect/internal/payment/mpesa"
	paypg "github.com/lanconnect/lanconnect/internal/payment/postgres"
	"github.com/lanconnect/lanconnect/internal/sessioncache"
	"github.com/lanconnect/lanconnect/internal/store"
)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LAN Connect End-to-End Suite")
}

// testEnv holds every resource the end-to-end specs share.
type testEnv struct {
	ctx      context.Context
	pg       *tcpostgres.PostgresContainer
	rd       *tcredis.RedisContainer
	pool     *pgxpool.Pool
	redis    *goredis.Client
	daraja   *stubDaraja
	notifier *authtest.Notifier
	server   *httptest.Server
}

var env *testEnv

// stubDaraja answers the OAuth and STK push endpoints of the Daraja API.
type stubDaraja struct {
	*httptest.Server
	seq atomic.Int64
}

func newStubDaraja() *stubDaraja {
	d := &stubDaraja{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/v1/generate", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "stub-token", "expires_in": "3599"})
	})
	mux.HandleFunc("POST /mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer stub-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := d.seq.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID":   "stub-merchant",
			"CheckoutRequestID":   "ws_CO_stub_" + strconv.FormatInt(n, 10),
			"ResponseCode":        "0",
			"ResponseDescription": "Success. Request accepted for processing",
			"CustomerMessage":     "Success. Request accepted for processing",
		})
	})
	d.Server = httptest.NewServer(mux)
	return d
}

var _ = BeforeSuite(func() {
	ctx := context.Background()
	env = &testEnv{ctx: ctx, notifier: &authtest.Notifier{}}

	var err error
	env.pg, err = tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("lanconnect_test"),
		tcpostgres.WithUsername("lanconnect"),
		tcpostgres.WithPassword("lanconnect"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())

	connStr, err := env.pg.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	migrator, err := store.NewMigrator(connStr)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	Expect(migrator.Close()).To(Succeed())

	env.pool, err = store.Connect(ctx, store.PoolConfig{URL: connStr, ConnectRetries: 5})
	Expect(err).NotTo(HaveOccurred())

	env.rd, err = tcredis.Run(ctx, "redis:7-alpine")
	Expect(err).NotTo(HaveOccurred())
	redisURL, err := env.rd.ConnectionString(ctx)
	Expect(err).NotTo(HaveOccurred())
	env.redis, err = sessioncache.Connect(ctx, sessioncache.RedisConfig{URL: redisURL, ConnectRetries: 5})
	Expect(err).NotTo(HaveOccurred())

	env.daraja = newStubDaraja()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := authpg.NewUserRepository(env.pool)

	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		AccessSecret:  "e2e-access-secret",
		RefreshSecret: "e2e-refresh-secret",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	})
	Expect(err).NotTo(HaveOccurred())

	authSvc, err := auth.NewService(auth.Deps{
		Users:    users,
		Cache:    sessioncache.NewRedis(env.redis),
		Tokens:   codec,
		Hasher:   auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1}),
		Notifier: env.notifier,
	}, auth.Options{Logger: logger})
	Expect(err).NotTo(HaveOccurred())

	gateway, err := mpesa.New(mpesa.Config{
		BaseURL:         env.daraja.URL,
		ConsumerKey:     "key",
		ConsumerSecret:  "secret",
		ShortCode:       "174379",
		PassKey:         "passkey",
		CallbackURL:     "https://lanconnect.example/api/v1/payment/mpesa/callback",
		TransactionType: "CustomerPayBillOnline",
		Timeout:         5 * time.Second,
	})
	Expect(err).NotTo(HaveOccurred())

	paySvc, err := payment.NewService(payment.Deps{
		Payments: paypg.NewPaymentRepository(env.pool),
		Mpesa:    gateway,
		Plans:    users,
	}, payment.Options{Logger: logger})
	Expect(err).NotTo(HaveOccurred())

	srv, err := api.New(api.Config{Environment: "test"}, api.Deps{
		Auth:     authSvc,
		Payments: paySvc,
		Logger:   logger,
	})
	Expect(err).NotTo(HaveOccurred())
	env.server = httptest.NewServer(srv.Handler())
})

var _ = AfterSuite(func() {
	if env == nil {
		return
	}
	if env.server != nil {
		env.server.Close()
	}
	if env.daraja != nil {
		env.daraja.Close()
	}
	if env.redis != nil {
		_ = env.redis.Close()
	}
	if env.pool != nil {
		env.pool.Close()
	}
	if env.rd != nil {
		_ = env.rd.Terminate(env.ctx)
	}
	if env.pg != nil {
		_ = env.pg.Terminate(env.ctx)
	}
})
