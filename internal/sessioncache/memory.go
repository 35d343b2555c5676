// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package sessioncache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/lanconnect/lanconnect/internal/auth"
)

// DefaultCleanupInterval is the interval at which expired entries are swept.
const DefaultCleanupInterval = time.Minute

// MemoryConfig configures a Memory cache.
type MemoryConfig struct {
	// CleanupInterval defaults to DefaultCleanupInterval if zero.
	CleanupInterval time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	// Registerer, when set, receives a gauge of stored entries.
	Registerer prometheus.Registerer
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process SessionCache. Entries expire lazily on read and
// are swept periodically by a background goroutine; call Close to stop it.
// It is safe for concurrent use but not shared across processes.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	entryGauge prometheus.Gauge
}

// NewMemory creates a Memory cache and starts its sweep goroutine.
func NewMemory(cfg MemoryConfig) *Memory {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := &Memory{
		entries:  make(map[string]memoryEntry),
		now:      now,
		stopChan: make(chan struct{}),
	}

	if cfg.Registerer != nil {
		m.entryGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lanconnect_sessioncache_entries",
			Help: "Current number of entries held by the in-memory session cache",
		})
		cfg.Registerer.MustRegister(m.entryGauge)
	}

	m.wg.Add(1)
	go m.cleanupLoop(interval)

	return m
}

// StoreRefreshToken overwrites any refresh token stored for userID.
func (m *Memory) StoreRefreshToken(_ context.Context, userID, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return oops.Code("SESSION_CACHE_INVALID_TTL").With("ttl", ttl).Errorf("refresh token ttl must be positive")
	}
	m.set(RefreshTokenKey(userID), token, ttl)
	return nil
}

// GetRefreshToken returns the stored refresh token for userID.
func (m *Memory) GetRefreshToken(_ context.Context, userID string) (string, bool, error) {
	token, ok := m.get(RefreshTokenKey(userID))
	return token, ok, nil
}

// DeleteRefreshToken removes the refresh token for userID.
func (m *Memory) DeleteRefreshToken(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.entries, RefreshTokenKey(userID))
	m.mu.Unlock()
	return nil
}

// BlacklistAccessToken marks token as revoked for ttl.
func (m *Memory) BlacklistAccessToken(_ context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.set(BlacklistKey(token), blacklistMarker, ttl)
	return nil
}

// IsBlacklisted reports whether token is revoked.
func (m *Memory) IsBlacklisted(_ context.Context, token string) (bool, error) {
	_, ok := m.get(BlacklistKey(token))
	return ok, nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Sweep removes expired entries. The background goroutine calls it on
// every tick.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
		}
	}

	if m.entryGauge != nil {
		m.entryGauge.Set(float64(len(m.entries)))
	}
}

// Close stops the sweep goroutine. It blocks until the goroutine has exited
// and is safe to call more than once.
func (m *Memory) Close() {
	m.closeOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
}

func (m *Memory) set(key, value string, ttl time.Duration) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
}

func (m *Memory) get(key string) (string, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

var _ auth.SessionCache = (*Memory)(nil)
