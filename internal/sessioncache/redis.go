// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package sessioncache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/lanconnect/lanconnect/internal/auth"
)

// RedisConfig configures the connection to Redis. URL takes precedence over
// the individual fields.
type RedisConfig struct {
	URL      string
	Addr     string
	Password string
	DB       int

	// ConnectRetries is the number of extra ping attempts at startup.
	ConnectRetries uint64
}

// Connect opens a Redis client and waits until it answers PING, retrying with
// exponential backoff.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, oops.Code("REDIS_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	client := redis.NewClient(opts)

	backoff := retry.WithMaxRetries(cfg.ConnectRetries, retry.NewExponential(250*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := client.Ping(ctx).Err(); pingErr != nil {
			slog.WarnContext(ctx, "redis not ready", "addr", opts.Addr, "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		_ = client.Close() //nolint:errcheck // connect error takes precedence
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return client, nil
}

// Redis is a SessionCache backed by Redis. TTLs are enforced by Redis itself.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps an existing client. The caller owns the client's lifecycle.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// StoreRefreshToken overwrites any refresh token stored for userID.
func (r *Redis) StoreRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return oops.Code("SESSION_CACHE_INVALID_TTL").With("ttl", ttl).Errorf("refresh token ttl must be positive")
	}
	if err := r.client.Set(ctx, RefreshTokenKey(userID), token, ttl).Err(); err != nil {
		return oops.Code("SESSION_CACHE_WRITE_FAILED").
			With("operation", "store refresh token").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// GetRefreshToken returns the stored refresh token for userID.
func (r *Redis) GetRefreshToken(ctx context.Context, userID string) (string, bool, error) {
	token, err := r.client.Get(ctx, RefreshTokenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, oops.Code("SESSION_CACHE_READ_FAILED").
			With("operation", "get refresh token").
			With("user_id", userID).
			Wrap(err)
	}
	return token, true, nil
}

// DeleteRefreshToken removes the refresh token for userID.
func (r *Redis) DeleteRefreshToken(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, RefreshTokenKey(userID)).Err(); err != nil {
		return oops.Code("SESSION_CACHE_WRITE_FAILED").
			With("operation", "delete refresh token").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// BlacklistAccessToken marks token as revoked for ttl.
func (r *Redis) BlacklistAccessToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, BlacklistKey(token), blacklistMarker, ttl).Err(); err != nil {
		return oops.Code("SESSION_CACHE_WRITE_FAILED").
			With("operation", "blacklist access token").
			Wrap(err)
	}
	return nil
}

// IsBlacklisted reports whether token is revoked.
func (r *Redis) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, BlacklistKey(token)).Result()
	if err != nil {
		return false, oops.Code("SESSION_CACHE_READ_FAILED").
			With("operation", "check blacklist").
			Wrap(err)
	}
	return n > 0, nil
}

// Ping checks that Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return oops.Code("SESSION_CACHE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

var _ auth.SessionCache = (*Redis)(nil)
