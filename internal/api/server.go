// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package api serves the LAN Connect REST API.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/lanconnect/lanconnect/internal/auth"
	"github.com/lanconnect/lanconnect/internal/payment"
)

// DefaultBodyLimit caps request bodies at 10MB.
const DefaultBodyLimit = 10 << 20

// Config configures the HTTP surface.
type Config struct {
	// BasePath prefixes every API route. Defaults to /api/v1.
	BasePath string
	// FrontendURL is the only origin allowed by CORS.
	FrontendURL string
	// BodyLimit caps request bodies in bytes. Defaults to DefaultBodyLimit.
	BodyLimit int64
	// Environment is reported by the health endpoint.
	Environment string
	// TrustProxy makes client addresses come from X-Forwarded-For.
	TrustProxy bool
}

// Deps are the collaborators of the Server. Payments, Limiter and Metrics
// may be nil.
type Deps struct {
	Auth     *auth.Service
	Payments *payment.Service
	Limiter  Limiter
	Metrics  Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Server routes API requests to the auth and payment services.
type Server struct {
	cfg       Config
	auth      *auth.Service
	payments  *payment.Service
	limiter   Limiter
	metrics   Observer
	logger    *slog.Logger
	now       func() time.Time
	started   time.Time
	validator validator
}

// New creates a Server.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Auth == nil {
		return nil, oops.Code("API_CONFIG_INVALID").Errorf("auth service is required")
	}
	cfg.BasePath = "/" + strings.Trim(cfg.BasePath, "/")
	if cfg.BasePath == "/" {
		cfg.BasePath = "/api/v1"
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	s := &Server{
		cfg:      cfg,
		auth:     deps.Auth,
		payments: deps.Payments,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.started = s.now()

	if err := s.validator.compile(); err != nil {
		return nil, oops.Code("API_SCHEMA_INVALID").Wrap(err)
	}
	return s, nil
}

// Handler returns the fully wrapped API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)

	return chain(mux,
		Tracing(),
		RequestLogger(s.logger, s.cfg.TrustProxy),
		Recoverer(s.logger),
		SecurityHeaders(),
		CORS(s.cfg.FrontendURL),
		RateLimit(s.limiter, s.cfg.BasePath, s.cfg.TrustProxy, s.metrics),
		MaxBodyBytes(s.cfg.BodyLimit),
		Instrument(s.metrics),
	)
}

func (s *Server) routes(mux *http.ServeMux) {
	base := s.cfg.BasePath
	handle := func(pattern string, h http.HandlerFunc) {
		method, path, _ := strings.Cut(pattern, " ")
		mux.Handle(method+" "+base+path, h)
	}

	handle("POST /auth/register", s.handleRegister)
	handle("POST /auth/login", s.handleLogin)
	handle("POST /auth/logout", s.protect(s.handleLogout))
	handle("POST /auth/refresh", s.handleRefresh)
	handle("POST /auth/forgot-password", s.handleForgotPassword)
	handle("POST /auth/reset-password/{token}", s.handleResetPassword)
	handle("GET /auth/me", s.protect(s.handleMe))
	handle("GET /auth/google", notImplemented("Google OAuth not yet implemented"))
	handle("GET /auth/google/callback", notImplemented("Google OAuth callback not yet implemented"))
	handle("GET /auth/facebook", notImplemented("Facebook OAuth not yet implemented"))
	handle("GET /auth/facebook/callback", notImplemented("Facebook OAuth callback not yet implemented"))

	handle("POST /payment/mpesa/stk-push", s.protect(s.handleMpesaSTKPush))
	handle("POST /payment/mpesa/callback", s.handleMpesaCallback)
	handle("POST /payment/mpesa/query", s.protect(s.handleMpesaQuery))
	handle("POST /payment/stripe/create-intent", s.protect(s.handleStripeIntent))
	handle("POST /payment/stripe/webhook", s.handleStripeWebhook)
	handle("GET /payment/history", s.protect(s.handlePaymentHistory))
	handle("GET /payment/{id}", s.protect(s.handleGetPayment))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, msgNotFound)
	})
}

// protect runs h only for requests carrying a valid, unrevoked access token.
func (s *Server) protect(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bearer, ok := bearerToken(r)
		if !ok {
			writeErrorMessage(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		principal, err := s.auth.Authenticate(r.Context(), bearer)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		h(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// principal returns the caller attached by protect.
func principal(r *http.Request) *auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func notImplemented(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeErrorMessage(w, http.StatusNotImplemented, message)
	}
}

type healthResponse struct {
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      float64   `json:"uptime"`
	Environment string    `json:"environment"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "success",
		Message:     "LAN Connect API is running",
		Timestamp:   now.UTC(),
		Uptime:      now.Sub(s.started).Seconds(),
		Environment: s.cfg.Environment,
	})
}
