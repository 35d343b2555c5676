// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lanconnect/lanconnect/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		migrator  *store.Migrator
		pool      *pgxpool.Pool
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("lanconnect_test"),
			postgres.WithUsername("lanconnect"),
			postgres.WithPassword("lanconnect"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())

		pool, err = store.Connect(ctx, store.PoolConfig{URL: connStr, ConnectRetries: 5})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if migrator != nil {
			_ = migrator.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("starts at version zero with everything pending", func() {
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())

		pending, err := migrator.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal([]uint{1, 2}))
	})

	It("applies all migrations", func() {
		Expect(migrator.Up()).To(Succeed())

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))
		Expect(dirty).To(BeFalse())

		Expect(migrator.Up()).To(Succeed(), "second Up is a no-op")
	})

	It("steps down and back up", func() {
		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))

		Expect(migrator.Steps(1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))
	})

	It("enforces case-insensitive unique email", func() {
		_, err := pool.Exec(ctx, `INSERT INTO users (id, name, email, password_hash) VALUES ('01A', 'A', 'a@example.com', 'h')`)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, `INSERT INTO users (id, name, email, password_hash) VALUES ('01B', 'B', 'a@example.com', 'h')`)
		expectPgCode(err, pgerrcode.UniqueViolation)

		_, err = pool.Exec(ctx, `INSERT INTO users (id, name, email, password_hash) VALUES ('01C', 'C', 'A@Example.com', 'h')`)
		expectPgCode(err, pgerrcode.CheckViolation)
	})

	It("requires reset hash and expiry together", func() {
		_, err := pool.Exec(ctx, `UPDATE users SET reset_token_hash = 'abc' WHERE id = '01A'`)
		expectPgCode(err, pgerrcode.CheckViolation)

		_, err = pool.Exec(ctx, `UPDATE users SET reset_token_hash = 'abc', reset_expires_at = NOW() WHERE id = '01A'`)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects unknown payment statuses", func() {
		_, err := pool.Exec(ctx, `INSERT INTO payments (id, user_id, provider, amount, currency, status) VALUES ('P1', '01A', 'mpesa', 100, 'KES', 'refunded')`)
		expectPgCode(err, pgerrcode.CheckViolation)
	})

	It("forces a version and rolls everything back", func() {
		Expect(migrator.Force(2)).To(Succeed())
		Expect(migrator.Down()).To(Succeed())

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())

		applied, err := migrator.AppliedMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(applied).To(BeEmpty())
	})
})

func expectPgCode(err error, code string) {
	GinkgoHelper()
	var pgErr *pgconn.PgError
	Expect(err).To(HaveOccurred())
	Expect(errors.As(err, &pgErr)).To(BeTrue(), "expected a postgres error, got %v", err)
	Expect(pgErr.Code).To(Equal(code))
}
