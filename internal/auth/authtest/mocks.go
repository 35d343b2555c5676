// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package authtest provides test doubles for the auth package: testify
// mocks for failure injection and in-memory fakes for scenario tests.
package authtest

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/lanconnect/lanconnect/internal/auth"
)

// MockUserRepository is a testify mock of auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a mock that asserts its expectations on cleanup.
func NewMockUserRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockUserRepository {
	m := &MockUserRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func userResult(args mock.Arguments) (*auth.User, error) {
	var u *auth.User
	if v := args.Get(0); v != nil {
		u = v.(*auth.User)
	}
	return u, args.Error(1)
}

// Create provides a mock function.
func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

// GetByID provides a mock function.
func (m *MockUserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return userResult(m.Called(ctx, id))
}

// GetByEmail provides a mock function.
func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return userResult(m.Called(ctx, email))
}

// GetByResetTokenHash provides a mock function.
func (m *MockUserRepository) GetByResetTokenHash(ctx context.Context, hash string, now time.Time) (*auth.User, error) {
	return userResult(m.Called(ctx, hash, now))
}

// RecordLogin provides a mock function.
func (m *MockUserRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

// UpdatePassword provides a mock function.
func (m *MockUserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return m.Called(ctx, id, passwordHash).Error(0)
}

// SetResetToken provides a mock function.
func (m *MockUserRepository) SetResetToken(ctx context.Context, id ulid.ULID, hash string, expiresAt time.Time) error {
	return m.Called(ctx, id, hash, expiresAt).Error(0)
}

// ConsumeResetToken provides a mock function.
func (m *MockUserRepository) ConsumeResetToken(ctx context.Context, id ulid.ULID, hash, passwordHash string, now time.Time) error {
	return m.Called(ctx, id, hash, passwordHash, now).Error(0)
}

// MockSessionCache is a testify mock of auth.SessionCache.
type MockSessionCache struct {
	mock.Mock
}

// NewMockSessionCache creates a mock that asserts its expectations on cleanup.
func NewMockSessionCache(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockSessionCache {
	m := &MockSessionCache{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// StoreRefreshToken provides a mock function.
func (m *MockSessionCache) StoreRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error {
	return m.Called(ctx, userID, token, ttl).Error(0)
}

// GetRefreshToken provides a mock function.
func (m *MockSessionCache) GetRefreshToken(ctx context.Context, userID string) (string, bool, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Bool(1), args.Error(2)
}

// DeleteRefreshToken provides a mock function.
func (m *MockSessionCache) DeleteRefreshToken(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

// BlacklistAccessToken provides a mock function.
func (m *MockSessionCache) BlacklistAccessToken(ctx context.Context, token string, ttl time.Duration) error {
	return m.Called(ctx, token, ttl).Error(0)
}

// IsBlacklisted provides a mock function.
func (m *MockSessionCache) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

// MockResetNotifier is a testify mock of auth.ResetNotifier.
type MockResetNotifier struct {
	mock.Mock
}

// NewMockResetNotifier creates a mock that asserts its expectations on cleanup.
func NewMockResetNotifier(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockResetNotifier {
	m := &MockResetNotifier{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// SendPasswordReset provides a mock function.
func (m *MockResetNotifier) SendPasswordReset(ctx context.Context, user *auth.User, rawToken string, expiresIn time.Duration) error {
	return m.Called(ctx, user, rawToken, expiresIn).Error(0)
}

var (
	_ auth.UserRepository = (*MockUserRepository)(nil)
	_ auth.SessionCache   = (*MockSessionCache)(nil)
	_ auth.ResetNotifier  = (*MockResetNotifier)(nil)
)
