// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package ratelimit implements per-client request limiting with token buckets.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Default limiting values: 100 requests per 15 minutes per client.
const (
	DefaultRequests        = 100
	DefaultWindow          = 15 * time.Minute
	DefaultCleanupInterval = time.Minute
)

// Config configures a Limiter.
type Config struct {
	// Requests is both the burst size and the number of tokens refilled per
	// Window. Defaults to DefaultRequests if zero or negative.
	Requests int

	// Window defaults to DefaultWindow if zero or negative.
	Window time.Duration

	// CleanupInterval is the sweep period for idle keys.
	// Defaults to DefaultCleanupInterval if zero.
	CleanupInterval time.Duration

	// IdleTTL is how long a key may go unseen before it is forgotten.
	// A forgotten key starts again with a full bucket, so this defaults to
	// Window, after which the bucket would have refilled anyway.
	IdleTTL time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks a token bucket per key. It is safe for concurrent use.
//
// A background goroutine forgets idle keys; call Close to stop it.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	keyGauge prometheus.Gauge
}

// New creates a Limiter and starts its cleanup goroutine.
func New(cfg Config) *Limiter {
	return newLimiter(cfg, nil)
}

// NewWithRegistry creates a Limiter and registers a gauge of tracked keys.
func NewWithRegistry(cfg Config, reg prometheus.Registerer) *Limiter {
	return newLimiter(cfg, reg)
}

func newLimiter(cfg Config, reg prometheus.Registerer) *Limiter {
	requests := cfg.Requests
	if requests <= 0 {
		requests = DefaultRequests
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = window
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	l := &Limiter{
		buckets:  make(map[string]*bucket),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
		idleTTL:  idle,
		now:      now,
		stopChan: make(chan struct{}),
	}

	if reg != nil {
		l.keyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lanconnect_ratelimiter_keys",
			Help: "Current number of client keys tracked by the rate limiter",
		})
		reg.MustRegister(l.keyGauge)
	}

	l.wg.Add(1)
	go l.cleanupLoop(interval)

	return l
}

// Allow consumes one token for key. When the bucket is empty it returns
// false and the wait until the next token is available.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Limit returns the configured burst size.
func (l *Limiter) Limit() int { return l.burst }

// KeyCount returns the number of tracked keys.
func (l *Limiter) KeyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Cleanup forgets keys not seen within the idle TTL. The background
// goroutine calls it on every tick.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := l.now().Add(-l.idleTTL)
	for key, b := range l.buckets {
		if b.lastSeen.Before(threshold) {
			delete(l.buckets, key)
		}
	}

	if l.keyGauge != nil {
		l.keyGauge.Set(float64(len(l.buckets)))
	}
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// Close stops the cleanup goroutine and blocks until it has exited. It is
// safe to call more than once.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
}
