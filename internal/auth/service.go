// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// BlacklistTTLMode selects how long a revoked access token stays blacklisted.
type BlacklistTTLMode string

// Blacklist TTL modes.
const (
	// BlacklistRemaining keeps the entry for the token's remaining lifetime.
	BlacklistRemaining BlacklistTTLMode = "remaining"
	// BlacklistFixed keeps the entry for a constant window.
	BlacklistFixed BlacklistTTLMode = "fixed"
)

// DefaultBlacklistFixedTTL is the window used in BlacklistFixed mode.
const DefaultBlacklistFixedTTL = 7 * 24 * time.Hour

// minBlacklistTTL keeps a token that is about to expire revoked until it does.
const minBlacklistTTL = time.Second

// Observer receives the outcome of every service operation.
type Observer interface {
	ObserveAuth(operation, outcome string)
}

// Deps are the collaborators of the auth Service.
type Deps struct {
	Users    UserRepository
	Cache    SessionCache
	Tokens   *TokenCodec
	Hasher   PasswordHasher
	Notifier ResetNotifier
}

// Options tune the auth Service. Zero values select the defaults.
type Options struct {
	// RefreshStoreTTL is the session cache TTL of stored refresh tokens.
	// Defaults to the codec's refresh token lifetime.
	RefreshStoreTTL time.Duration

	// ResetTokenExpiry defaults to DefaultResetTokenExpiry.
	ResetTokenExpiry time.Duration

	// BlacklistMode defaults to BlacklistRemaining.
	BlacklistMode BlacklistTTLMode

	// BlacklistFixedTTL defaults to DefaultBlacklistFixedTTL.
	BlacklistFixedTTL time.Duration

	// UniformForgotPassword makes ForgotPassword succeed silently for
	// unknown emails instead of returning ErrNotFound.
	UniformForgotPassword bool

	Logger   *slog.Logger
	Observer Observer
	Now      func() time.Time
}

// RegisterInput carries the fields of a registration request.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User         Profile
	AccessToken  IssuedToken
	RefreshToken IssuedToken
}

// Service implements the account and token lifecycle: registration, login,
// logout, access token refresh, password reset, and request authentication.
type Service struct {
	users    UserRepository
	cache    SessionCache
	tokens   *TokenCodec
	hasher   PasswordHasher
	notifier ResetNotifier

	refreshStoreTTL   time.Duration
	resetExpiry       time.Duration
	blacklistMode     BlacklistTTLMode
	blacklistFixedTTL time.Duration
	uniformForgot     bool

	dummyHash string
	logger    *slog.Logger
	observer  Observer
	now       func() time.Time
}

// NewService creates a Service after checking that every dependency is set.
func NewService(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("user repository is required")
	case deps.Cache == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session cache is required")
	case deps.Tokens == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token codec is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case deps.Notifier == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("reset notifier is required")
	}

	s := &Service{
		users:             deps.Users,
		cache:             deps.Cache,
		tokens:            deps.Tokens,
		hasher:            deps.Hasher,
		notifier:          deps.Notifier,
		refreshStoreTTL:   opts.RefreshStoreTTL,
		resetExpiry:       opts.ResetTokenExpiry,
		blacklistMode:     opts.BlacklistMode,
		blacklistFixedTTL: opts.BlacklistFixedTTL,
		uniformForgot:     opts.UniformForgotPassword,
		logger:            opts.Logger,
		observer:          opts.Observer,
		now:               opts.Now,
	}
	if s.refreshStoreTTL <= 0 {
		s.refreshStoreTTL = deps.Tokens.RefreshTTL()
	}
	if s.resetExpiry <= 0 {
		s.resetExpiry = DefaultResetTokenExpiry
	}
	switch s.blacklistMode {
	case "":
		s.blacklistMode = BlacklistRemaining
	case BlacklistRemaining, BlacklistFixed:
	default:
		return nil, oops.Code("AUTH_SERVICE_INVALID").
			With("mode", string(s.blacklistMode)).
			Errorf("unknown blacklist ttl mode")
	}
	if s.blacklistFixedTTL <= 0 {
		s.blacklistFixedTTL = DefaultBlacklistFixedTTL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	// Unknown-email logins verify against this hash so their timing matches
	// a real wrong-password attempt.
	dummy, err := s.hasher.Hash("lanconnect-timing-equalizer")
	if err != nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").With("operation", "compute dummy hash").Wrap(err)
	}
	s.dummyHash = dummy

	return s, nil
}

// Register creates a local account and starts its first session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (res *AuthResult, err error) {
	defer func() { s.observe("register", err) }()

	if strings.TrimSpace(in.Name) == "" {
		return nil, invalidInput("name", "Name is required")
	}
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, invalidInput("password", "Password is required")
	}

	_, err = s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, oops.Code("AUTH_DUPLICATE_EMAIL").With("email", email).Wrap(ErrDuplicateEmail)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get user by email").
			Wrap(upstream(err))
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	user, err := NewUser(in.Name, email, in.Phone, hash, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, oops.Code("AUTH_DUPLICATE_EMAIL").With("email", email).Wrap(err)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(upstream(err))
	}

	res, err = s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String(), "email", user.Email)
	return res, nil
}

// Login verifies credentials and starts a session, replacing any refresh
// token previously issued to the user. Unknown emails and wrong passwords
// fail identically with ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (res *AuthResult, err error) {
	defer func() { s.observe("login", err) }()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, invalidInput("email", "Email is required")
	}
	if password == "" {
		return nil, invalidInput("password", "Password is required")
	}

	user, lookupErr := s.users.GetByEmail(ctx, email)

	targetHash := s.dummyHash
	userExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(upstream(lookupErr))
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify so unknown emails cost the same as wrong passwords.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && userExists {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}
	if !userExists || !valid {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	now := s.now().UTC()
	if err := s.users.RecordLogin(ctx, user.ID, now); err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "record login").
			With("user_id", user.ID.String()).
			Wrap(upstream(err))
	}
	user.LastLoginAt = &now

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	res, err = s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.String(), "email", user.Email)
	return res, nil
}

// Logout deletes the caller's refresh token and blacklists the access token
// they presented.
func (s *Service) Logout(ctx context.Context, p *Principal) (err error) {
	defer func() { s.observe("logout", err) }()

	if p == nil || p.Token == "" {
		return oops.Code("AUTH_UNAUTHORIZED").Wrap(ErrUnauthorized)
	}
	userID := p.UserID.String()

	if err := s.cache.DeleteRefreshToken(ctx, userID); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete refresh token").
			With("user_id", userID).
			Wrap(upstream(err))
	}

	ttl := s.blacklistTTL(p.ExpiresAt)
	if err := s.cache.BlacklistAccessToken(ctx, p.Token, ttl); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "blacklist access token").
			With("user_id", userID).
			Wrap(upstream(err))
	}

	s.logger.InfoContext(ctx, "user logged out", "user_id", userID, "blacklist_ttl", ttl)
	return nil
}

// RefreshAccessToken exchanges the user's current refresh token for a new
// access token. The refresh token itself is not rotated.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (tok IssuedToken, err error) {
	defer func() { s.observe("refresh", err) }()

	if refreshToken == "" {
		return IssuedToken{}, invalidInput("refreshToken", "Refresh token required")
	}

	claims, err := s.tokens.Verify(refreshToken, RefreshToken)
	if err != nil {
		return IssuedToken{}, oops.Code("AUTH_INVALID_REFRESH_TOKEN").
			With("reason", verifyReason(err)).
			Wrap(ErrInvalidRefreshToken)
	}
	userID := claims.UserID.String()

	stored, found, err := s.cache.GetRefreshToken(ctx, userID)
	if err != nil {
		return IssuedToken{}, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "get refresh token").
			With("user_id", userID).
			Wrap(upstream(err))
	}
	if !found || subtle.ConstantTimeCompare([]byte(stored), []byte(refreshToken)) != 1 {
		return IssuedToken{}, oops.Code("AUTH_INVALID_REFRESH_TOKEN").
			With("reason", "superseded").
			With("user_id", userID).
			Wrap(ErrInvalidRefreshToken)
	}

	tok, err = s.tokens.IssueAccessToken(claims.UserID)
	if err != nil {
		return IssuedToken{}, oops.Code("AUTH_REFRESH_FAILED").With("operation", "issue access token").Wrap(err)
	}
	return tok, nil
}

// ForgotPassword stores the hash of a fresh reset token on the account and
// mails the raw token to its owner.
func (s *Service) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { s.observe("forgot_password", err) }()

	email, err = NormalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if s.uniformForgot {
				s.logger.InfoContext(ctx, "password reset requested for unknown email")
				return nil
			}
			return oops.Code("AUTH_USER_NOT_FOUND").With("email", email).Wrap(ErrNotFound)
		}
		return oops.Code("AUTH_FORGOT_PASSWORD_FAILED").
			With("operation", "get user by email").
			Wrap(upstream(err))
	}

	rawToken, hash, err := GenerateResetToken()
	if err != nil {
		return oops.Code("AUTH_FORGOT_PASSWORD_FAILED").With("operation", "generate reset token").Wrap(err)
	}

	expiresAt := s.now().UTC().Add(s.resetExpiry)
	if err := s.users.SetResetToken(ctx, user.ID, hash, expiresAt); err != nil {
		return oops.Code("AUTH_FORGOT_PASSWORD_FAILED").
			With("operation", "store reset token").
			With("user_id", user.ID.String()).
			Wrap(upstream(err))
	}
	user.SetReset(hash, expiresAt)

	if err := s.notifier.SendPasswordReset(ctx, user, rawToken, s.resetExpiry); err != nil {
		return oops.Code("AUTH_RESET_MAIL_FAILED").
			With("user_id", user.ID.String()).
			Wrap(upstream(err))
	}

	s.logger.InfoContext(ctx, "password reset email sent", "user_id", user.ID.String(), "email", user.Email)
	return nil
}

// ResetPassword sets a new password using a reset token. Each token works
// once and only before its expiry.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) (err error) {
	defer func() { s.observe("reset_password", err) }()

	if rawToken == "" {
		return oops.Code("AUTH_INVALID_RESET_TOKEN").Wrap(ErrInvalidOrExpiredToken)
	}
	if newPassword == "" {
		return invalidInput("password", "Password is required")
	}

	hash := HashResetToken(rawToken)
	now := s.now().UTC()

	user, err := s.users.GetByResetTokenHash(ctx, hash, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_INVALID_RESET_TOKEN").Wrap(ErrInvalidOrExpiredToken)
		}
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "get user by reset token").
			Wrap(upstream(err))
	}
	if !user.HasPendingReset(now) || !VerifyResetToken(rawToken, *user.ResetTokenHash) {
		return oops.Code("AUTH_INVALID_RESET_TOKEN").
			With("user_id", user.ID.String()).
			Wrap(ErrInvalidOrExpiredToken)
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	// The conditional update loses to a concurrent reset with the same token.
	if err := s.users.ConsumeResetToken(ctx, user.ID, hash, passwordHash, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_INVALID_RESET_TOKEN").
				With("user_id", user.ID.String()).
				Wrap(ErrInvalidOrExpiredToken)
		}
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "consume reset token").
			With("user_id", user.ID.String()).
			Wrap(upstream(err))
	}

	s.logger.InfoContext(ctx, "password reset successful", "user_id", user.ID.String(), "email", user.Email)
	return nil
}

// GetCurrentUser returns the profile of userID.
func (s *Service) GetCurrentUser(ctx context.Context, userID ulid.ULID) (*Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").With("user_id", userID.String()).Wrap(ErrNotFound)
		}
		return nil, oops.Code("AUTH_GET_USER_FAILED").
			With("operation", "get user by id").
			With("user_id", userID.String()).
			Wrap(upstream(err))
	}
	profile := user.Profile()
	return &profile, nil
}

// Authenticate is the gate in front of protected operations. The bearer
// token must be present, signed with the access secret, unexpired, and not
// blacklisted.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*Principal, error) {
	if bearer == "" {
		return nil, oops.Code("AUTH_UNAUTHORIZED").With("reason", "missing token").Wrap(ErrUnauthorized)
	}

	claims, err := s.tokens.Verify(bearer, AccessToken)
	if err != nil {
		return nil, oops.Code("AUTH_UNAUTHORIZED").With("reason", verifyReason(err)).Wrap(ErrUnauthorized)
	}

	revoked, err := s.cache.IsBlacklisted(ctx, bearer)
	if err != nil {
		return nil, oops.Code("AUTH_GATE_FAILED").
			With("operation", "check blacklist").
			Wrap(upstream(err))
	}
	if revoked {
		return nil, oops.Code("AUTH_UNAUTHORIZED").
			With("reason", "revoked").
			With("user_id", claims.UserID.String()).
			Wrap(ErrUnauthorized)
	}

	return &Principal{UserID: claims.UserID, Token: bearer, ExpiresAt: claims.ExpiresAt}, nil
}

func (s *Service) startSession(ctx context.Context, user *User) (*AuthResult, error) {
	access, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_FAILED").With("operation", "issue access token").Wrap(err)
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_FAILED").With("operation", "issue refresh token").Wrap(err)
	}

	if err := s.cache.StoreRefreshToken(ctx, user.ID.String(), refresh.Value, s.refreshStoreTTL); err != nil {
		return nil, oops.Code("AUTH_SESSION_FAILED").
			With("operation", "store refresh token").
			With("user_id", user.ID.String()).
			Wrap(upstream(err))
	}

	return &AuthResult{User: user.Profile(), AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID.String(), "error", err)
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
		s.logger.WarnContext(ctx, "password rehash not stored", "user_id", user.ID.String(), "error", err)
		return
	}
	user.PasswordHash = newHash
}

func (s *Service) blacklistTTL(expiresAt time.Time) time.Duration {
	if s.blacklistMode == BlacklistFixed {
		return s.blacklistFixedTTL
	}
	if expiresAt.IsZero() {
		return s.tokens.AccessTTL()
	}
	remaining := expiresAt.Sub(s.now())
	if remaining < minBlacklistTTL {
		return minBlacklistTTL
	}
	return remaining
}

func (s *Service) observe(operation string, err error) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveAuth(operation, Outcome(err))
}

// Outcome classifies err into a short label for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidRefreshToken):
		return "invalid_refresh_token"
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return "invalid_reset_token"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func verifyReason(err error) string {
	if errors.Is(err, ErrTokenExpired) {
		return "expired"
	}
	return "invalid"
}
