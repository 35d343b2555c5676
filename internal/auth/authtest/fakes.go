// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/lanconnect/lanconnect/internal/auth"
)

// UserStore is an in-memory auth.UserRepository. It returns copies so
// callers cannot mutate stored users behind its back.
type UserStore struct {
	mu    sync.Mutex
	users map[ulid.ULID]auth.User
}

// NewUserStore creates an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[ulid.ULID]auth.User)}
}

// Create stores a new user.
func (s *UserStore) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == strings.ToLower(user.Email) {
			return oops.Code("AUTH_DUPLICATE_EMAIL").With("email", user.Email).Wrap(auth.ErrDuplicateEmail)
		}
	}
	s.users[user.ID] = *user
	return nil
}

// GetByID retrieves a user by ID.
func (s *UserStore) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return &u, nil
}

// GetByEmail retrieves a user by email.
func (s *UserStore) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(email)
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
}

// GetByResetTokenHash retrieves the user holding an unexpired reset hash.
func (s *UserStore) GetByResetTokenHash(_ context.Context, hash string, now time.Time) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.HasPendingReset(now) && *u.ResetTokenHash == hash {
			return &u, nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").With("lookup", "reset token").Wrap(auth.ErrNotFound)
}

// RecordLogin sets the last-login timestamp.
func (s *UserStore) RecordLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	return s.update(id, func(u *auth.User) { u.LastLoginAt = &at })
}

// UpdatePassword replaces the password hash.
func (s *UserStore) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	return s.update(id, func(u *auth.User) { u.PasswordHash = passwordHash })
}

// SetResetToken stores a reset hash and expiry.
func (s *UserStore) SetResetToken(_ context.Context, id ulid.ULID, hash string, expiresAt time.Time) error {
	return s.update(id, func(u *auth.User) { u.SetReset(hash, expiresAt) })
}

// SetPlan records the purchased plan.
func (s *UserStore) SetPlan(_ context.Context, id ulid.ULID, plan string) error {
	return s.update(id, func(u *auth.User) { u.Plan = plan })
}

// ConsumeResetToken replaces the password and clears the reset fields if
// hash is still pending at now.
func (s *UserStore) ConsumeResetToken(_ context.Context, id ulid.ULID, hash, passwordHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || !u.HasPendingReset(now) || *u.ResetTokenHash != hash {
		return oops.Code("RESET_TOKEN_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	u.PasswordHash = passwordHash
	u.ClearReset()
	s.users[id] = u
	return nil
}

// Len returns the number of stored users.
func (s *UserStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Get returns a copy of the stored user, for assertions.
func (s *UserStore) Get(id ulid.ULID) (auth.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *UserStore) update(id ulid.ULID, fn func(*auth.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

// SentReset is one captured password reset notification.
type SentReset struct {
	UserID    ulid.ULID
	Email     string
	RawToken  string
	ExpiresIn time.Duration
}

// Notifier records password reset notifications instead of delivering them.
type Notifier struct {
	mu   sync.Mutex
	sent []SentReset

	// Err, when set, is returned from every send.
	Err error
}

// SendPasswordReset records the notification.
func (n *Notifier) SendPasswordReset(_ context.Context, user *auth.User, rawToken string, expiresIn time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.sent = append(n.sent, SentReset{UserID: user.ID, Email: user.Email, RawToken: rawToken, ExpiresIn: expiresIn})
	return nil
}

// Sent returns the captured notifications in order.
func (n *Notifier) Sent() []SentReset {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SentReset(nil), n.sent...)
}

// Last returns the most recent notification.
func (n *Notifier) Last() (SentReset, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return SentReset{}, false
	}
	return n.sent[len(n.sent)-1], true
}

var (
	_ auth.UserRepository = (*UserStore)(nil)
	_ auth.ResetNotifier  = (*Notifier)(nil)
)
