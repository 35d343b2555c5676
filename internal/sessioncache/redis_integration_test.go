// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

//go:build integration

package sessioncache_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/lanconnect/lanconnect/internal/sessioncache"
)

var _ = Describe("Redis session cache", Ordered, func() {
	var (
		ctx       context.Context
		container *tcredis.RedisContainer
		client    *goredis.Client
		cache     *sessioncache.Redis
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = tcredis.Run(ctx, "redis:7-alpine")
		Expect(err).NotTo(HaveOccurred())

		url, err := container.ConnectionString(ctx)
		Expect(err).NotTo(HaveOccurred())

		client, err = sessioncache.Connect(ctx, sessioncache.RedisConfig{URL: url, ConnectRetries: 5})
		Expect(err).NotTo(HaveOccurred())
		cache = sessioncache.NewRedis(client)
	})

	AfterAll(func() {
		if client != nil {
			_ = client.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	BeforeEach(func() {
		Expect(client.FlushDB(ctx).Err()).To(Succeed())
	})

	It("answers ping", func() {
		Expect(cache.Ping(ctx)).To(Succeed())
	})

	Describe("refresh tokens", func() {
		It("keeps only the latest token per user", func() {
			Expect(cache.StoreRefreshToken(ctx, "u1", "first", time.Minute)).To(Succeed())
			Expect(cache.StoreRefreshToken(ctx, "u1", "second", time.Minute)).To(Succeed())

			tok, found, err := cache.GetRefreshToken(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(tok).To(Equal("second"))
		})

		It("stores under the refresh_token key with a ttl", func() {
			Expect(cache.StoreRefreshToken(ctx, "u1", "tok", time.Minute)).To(Succeed())

			ttl, err := client.TTL(ctx, sessioncache.RefreshTokenKey("u1")).Result()
			Expect(err).NotTo(HaveOccurred())
			Expect(ttl).To(BeNumerically(">", 50*time.Second))
			Expect(ttl).To(BeNumerically("<=", time.Minute))
		})

		It("reports absent tokens as not found", func() {
			_, found, err := cache.GetRefreshToken(ctx, "nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})

		It("deletes idempotently", func() {
			Expect(cache.StoreRefreshToken(ctx, "u1", "tok", time.Minute)).To(Succeed())
			Expect(cache.DeleteRefreshToken(ctx, "u1")).To(Succeed())
			Expect(cache.DeleteRefreshToken(ctx, "u1")).To(Succeed())

			_, found, err := cache.GetRefreshToken(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})

		It("expires with the ttl", func() {
			Expect(cache.StoreRefreshToken(ctx, "u1", "tok", time.Second)).To(Succeed())
			Eventually(func() bool {
				_, found, _ := cache.GetRefreshToken(ctx, "u1")
				return found
			}, 5*time.Second, 100*time.Millisecond).Should(BeFalse())
		})
	})

	Describe("blacklist", func() {
		It("marks tokens as revoked", func() {
			Expect(cache.BlacklistAccessToken(ctx, "access", time.Minute)).To(Succeed())

			revoked, err := cache.IsBlacklisted(ctx, "access")
			Expect(err).NotTo(HaveOccurred())
			Expect(revoked).To(BeTrue())

			val, err := client.Get(ctx, sessioncache.BlacklistKey("access")).Result()
			Expect(err).NotTo(HaveOccurred())
			Expect(val).To(Equal("true"))
		})

		It("ignores non-positive ttl", func() {
			Expect(cache.BlacklistAccessToken(ctx, "access", 0)).To(Succeed())
			revoked, err := cache.IsBlacklisted(ctx, "access")
			Expect(err).NotTo(HaveOccurred())
			Expect(revoked).To(BeFalse())
		})
	})

	It("fails fast when redis is unreachable", func() {
		_, err := sessioncache.Connect(ctx, sessioncache.RedisConfig{Addr: "127.0.0.1:1", ConnectRetries: 1})
		Expect(err).To(HaveOccurred())
	})
})
