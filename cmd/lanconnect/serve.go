// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/lanconnect/lanconnect/internal/api"
	"github.com/lanconnect/lanconnect/internal/auth"
	authpg "github.com/lanconnect/lanconnect/internal/auth/postgres"
	"github.com/lanconnect/lanconnect/internal/config"
	"github.com/lanconnect/lanconnect/internal/logging"
	"github.com/lanconnect/lanconnect/internal/mail"
	"github.com/lanconnect/lanconnect/internal/observability"
	"github.com/lanconnect/lanconnect/internal/payment"
	"github.com/lanconnect/lanconnect/internal/payment/mpesa"
	paypg "github.com/lanconnect/lanconnect/internal/payment/postgres"
	"github.com/lanconnect/lanconnect/internal/payment/stripepay"
	"github.com/lanconnect/lanconnect/internal/ratelimit"
	"github.com/lanconnect/lanconnect/internal/sessioncache"
	"github.com/lanconnect/lanconnect/internal/store"
	"github.com/lanconnect/lanconnect/internal/tls"
)

const serviceName = "lanconnect"

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the HTTP API. Configuration comes from built-in defaults, the
--config file, LANCONNECT_* environment variables and the flags below, each
overriding the one before.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().String("http-addr", defaults.HTTP.Addr, "API listen address")
	cmd.Flags().String("metrics-addr", defaults.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().String("cache-driver", defaults.Cache.Driver, "session cache driver (redis or memory)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")
	cmd.Flags().Bool("auto-migrate", defaults.Database.AutoMigrate, "apply pending migrations before serving")

	return cmd
}

// runServeWithDeps starts the API with injectable dependencies and blocks
// until ctx is cancelled, a termination signal arrives or a listener fails.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.Validate(); err != nil {
		return err //nolint:wrapcheck // already coded CONFIG_INVALID
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("field", "log.level").Wrap(err)
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, level, deps.LogOutput)
	slog.SetDefault(logger)

	logger.InfoContext(ctx, "starting lanconnect",
		"http_addr", cfg.HTTP.Addr,
		"environment", cfg.Environment,
		"cache_driver", cfg.Cache.Driver)

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(ctx, logger, deps, cfg.Database.URL); err != nil {
			return err
		}
	}

	db, err := deps.DatabaseFactory(ctx, store.PoolConfig{
		URL:            cfg.Database.URL,
		MaxConns:       cfg.Database.MaxConns,
		ConnectRetries: cfg.Database.ConnectRetries,
	})
	if err != nil {
		return oops.Code("SERVE_DATABASE_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()
	logger.InfoContext(ctx, "connected to database")

	checks := []observability.ReadinessChecker{store.ReadinessCheck(db)}
	obsServer := observability.NewServer(cfg.Metrics.Addr, func(ctx context.Context) error {
		return observability.CheckAll(checks...)(ctx)
	})
	metrics := obsServer.Metrics()

	cache, closeCache, err := openSessionCache(ctx, cfg, deps, obsServer)
	if err != nil {
		return err
	}
	defer closeCache()
	if pinger, ok := cache.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, pinger.Ping)
	}

	authSvc, err := buildAuthService(cfg, db, cache, logger, metrics)
	if err != nil {
		return err
	}
	paySvc, err := buildPaymentService(cfg, db, logger, metrics)
	if err != nil {
		return err
	}

	var limiter api.Limiter
	if cfg.RateLimit.Enabled {
		rl := ratelimit.NewWithRegistry(ratelimit.Config{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
		}, obsServer.Registry())
		defer rl.Close()
		limiter = rl
	}

	apiServer, err := api.New(api.Config{
		BasePath:    cfg.HTTP.BasePath,
		FrontendURL: cfg.HTTP.FrontendURL,
		BodyLimit:   cfg.HTTP.BodyLimit,
		Environment: cfg.Environment,
		TrustProxy:  cfg.HTTP.TrustProxy,
	}, api.Deps{
		Auth:     authSvc,
		Payments: paySvc,
		Limiter:  limiter,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return oops.Code("SERVE_INIT_FAILED").With("operation", "build api").Wrap(err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_INIT_FAILED").With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	tlsCfg, err := listenerTLS(cfg.HTTP)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("SERVE_INIT_FAILED").With("operation", "load tls").Wrap(err)
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("SERVE_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	scheme := "http"
	if tlsCfg != nil {
		listener = cryptotls.NewListener(listener, tlsCfg)
		scheme = "https"
	}

	httpServer := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	httpErrCh := make(chan error, 1)
	go func() {
		defer close(httpErrCh)
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErrCh <- serveErr
		}
	}()

	if cmd != nil {
		cmd.Printf("LAN Connect API listening on %s://%s\n", scheme, listener.Addr())
	}
	logger.InfoContext(ctx, "api server ready",
		"addr", listener.Addr().String(),
		"scheme", scheme,
		"base_path", cfg.HTTP.BasePath,
		"mpesa_enabled", paySvc.MpesaEnabled(),
		"stripe_enabled", paySvc.StripeEnabled())

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err, ok := <-httpErrCh:
		if ok && err != nil {
			serveErr = oops.Code("SERVE_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server did not drain in time", "error", err)
	}
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return serveErr
}

func autoMigrate(ctx context.Context, logger *slog.Logger, deps *ServeDeps, databaseURL string) error {
	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.WarnContext(ctx, "failed to close migrator", "error", closeErr)
		}
	}()

	logger.InfoContext(ctx, "applying database migrations")
	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
	}
	return nil
}

// openSessionCache builds the configured session cache and returns its
// release function.
func openSessionCache(ctx context.Context, cfg *config.Config, deps *ServeDeps, obs *observability.Server) (auth.SessionCache, func(), error) {
	switch cfg.Cache.Driver {
	case config.CacheMemory:
		mem := sessioncache.NewMemory(sessioncache.MemoryConfig{
			CleanupInterval: cfg.Cache.CleanupInterval,
			Registerer:      obs.Registry(),
		})
		slog.WarnContext(ctx, "using in-memory session cache; sessions are lost on restart and not shared between instances")
		return mem, mem.Close, nil
	default:
		client, err := deps.RedisFactory(ctx, sessioncache.RedisConfig{
			URL:            cfg.Cache.RedisURL,
			Addr:           cfg.Cache.RedisAddr,
			Password:       cfg.Cache.RedisPassword,
			DB:             cfg.Cache.RedisDB,
			ConnectRetries: cfg.Cache.ConnectRetries,
		})
		if err != nil {
			return nil, nil, oops.Code("SERVE_CACHE_FAILED").With("operation", "connect to redis").Wrap(err)
		}
		release := func() {
			if err := client.Close(); err != nil {
				slog.Warn("failed to close redis client", "error", err)
			}
		}
		return sessioncache.NewRedis(client), release, nil
	}
}

func buildAuthService(cfg *config.Config, db Database, cache auth.SessionCache, logger *slog.Logger, obs auth.Observer) (*auth.Service, error) {
	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
		Issuer:        cfg.Auth.Issuer,
	})
	if err != nil {
		return nil, oops.Code("SERVE_INIT_FAILED").With("operation", "build token codec").Wrap(err)
	}

	hasher := auth.NewArgon2idHasher()
	if a := cfg.Auth.Argon2; a.Time > 0 && a.Memory > 0 && a.Threads > 0 {
		hasher = auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: a.Time, Memory: a.Memory, Threads: a.Threads})
	}

	var sender mail.Sender
	if cfg.Mail.Driver == config.MailSMTP {
		smtpSender, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:               cfg.Mail.Host,
			Port:               cfg.Mail.Port,
			Username:           cfg.Mail.Username,
			Password:           cfg.Mail.Password,
			From:               cfg.Mail.From,
			TLS:                mail.TLSMode(cfg.Mail.TLS),
			Timeout:            cfg.Mail.Timeout,
			InsecureSkipVerify: cfg.Mail.InsecureSkipVerify,
		})
		if err != nil {
			return nil, oops.Code("SERVE_INIT_FAILED").With("operation", "build smtp sender").Wrap(err)
		}
		sender = smtpSender
	} else {
		sender = mail.NewLogSender(logger)
	}

	svc, err := auth.NewService(auth.Deps{
		Users:    authpg.NewUserRepository(db),
		Cache:    cache,
		Tokens:   codec,
		Hasher:   hasher,
		Notifier: mail.NewResetMailer(sender, cfg.HTTP.FrontendURL),
	}, auth.Options{
		ResetTokenExpiry:      cfg.Auth.ResetTokenExpiry,
		BlacklistMode:         auth.BlacklistTTLMode(cfg.Auth.BlacklistTTLMode),
		BlacklistFixedTTL:     cfg.Auth.BlacklistFixedTTL,
		UniformForgotPassword: cfg.Auth.UniformForgotPassword,
		Logger:                logger,
		Observer:              obs,
	})
	if err != nil {
		return nil, oops.Code("SERVE_INIT_FAILED").With("operation", "build auth service").Wrap(err)
	}
	return svc, nil
}

func buildPaymentService(cfg *config.Config, db Database, logger *slog.Logger, obs payment.Observer) (*payment.Service, error) {
	deps := payment.Deps{
		Payments: paypg.NewPaymentRepository(db),
		Plans:    authpg.NewUserRepository(db),
	}

	if m := cfg.Payment.Mpesa; m.Enabled() {
		client, err := mpesa.New(mpesa.Config{
			BaseURL:         m.BaseURL,
			ConsumerKey:     m.ConsumerKey,
			ConsumerSecret:  m.ConsumerSecret,
			ShortCode:       m.ShortCode,
			PassKey:         m.PassKey,
			CallbackURL:     m.CallbackURL,
			TransactionType: m.TransactionType,
			Timeout:         m.Timeout,
		})
		if err != nil {
			return nil, oops.Code("SERVE_INIT_FAILED").With("operation", "build mpesa client").Wrap(err)
		}
		deps.Mpesa = client
	} else {
		logger.Info("mpesa disabled: no consumer key configured")
	}

	if s := cfg.Payment.Stripe; s.Enabled() {
		gateway, err := stripepay.New(stripepay.Config{
			SecretKey:     s.SecretKey,
			WebhookSecret: s.WebhookSecret,
			BaseURL:       s.BaseURL,
			Logger:        logger,
		})
		if err != nil {
			return nil, oops.Code("SERVE_INIT_FAILED").With("operation", "build stripe gateway").Wrap(err)
		}
		deps.Stripe = gateway
	} else {
		logger.Info("stripe disabled: no secret key configured")
	}

	svc, err := payment.NewService(deps, payment.Options{
		MpesaCurrency:    cfg.Payment.Mpesa.Currency,
		AccountReference: cfg.Payment.Mpesa.AccountReference,
		Logger:           logger,
		Observer:         obs,
	})
	if err != nil {
		return nil, oops.Code("SERVE_INIT_FAILED").With("operation", "build payment service").Wrap(err)
	}
	return svc, nil
}

// listenerTLS returns the API listener's TLS config, or nil for plain HTTP.
func listenerTLS(cfg config.HTTPConfig) (*cryptotls.Config, error) {
	switch {
	case cfg.TLSCertFile != "":
		return tls.ServerConfig(cfg.TLSCertFile, cfg.TLSKeyFile) //nolint:wrapcheck // coded by tls
	case cfg.TLSSelfSigned:
		slog.Warn("serving HTTPS with a self-signed certificate")
		return tls.SelfSignedConfig([]string{"localhost", "127.0.0.1"}) //nolint:wrapcheck // coded by tls
	default:
		return nil, nil
	}
}

func stopObservability(obs *observability.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := obs.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a background server fails. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
