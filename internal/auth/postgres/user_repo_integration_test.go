// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

//go:build integration

package postgres_test

import (
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/lanconnect/lanconnect/internal/auth"
	authpg "github.com/lanconnect/lanconnect/internal/auth/postgres"
)

var _ = Describe("UserRepository", func() {
	var repo *authpg.UserRepository

	newUser := func(email string) *auth.User {
		u, err := auth.NewUser("Jane Wanjiku", email, "254712345678", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", time.Now())
		Expect(err).NotTo(HaveOccurred())
		return u
	}

	BeforeEach(func() {
		repo = authpg.NewUserRepository(pool)
	})

	It("round-trips a user by id and by email", func() {
		u := newUser("Jane@Example.com")
		Expect(repo.Create(suiteCtx, u)).To(Succeed())

		byID, err := repo.GetByID(suiteCtx, u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(byID.Email).To(Equal("jane@example.com"))
		Expect(byID.AuthProvider).To(Equal(auth.ProviderLocal))
		Expect(byID.LastLoginAt).To(BeNil())

		byEmail, err := repo.GetByEmail(suiteCtx, "jane@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(byEmail.ID).To(Equal(u.ID))
	})

	It("rejects a second account with the same email", func() {
		Expect(repo.Create(suiteCtx, newUser("dup@example.com"))).To(Succeed())

		err := repo.Create(suiteCtx, newUser("dup@example.com"))
		Expect(err).To(MatchError(auth.ErrDuplicateEmail))
	})

	It("reports missing users as ErrNotFound", func() {
		_, err := repo.GetByID(suiteCtx, ulid.Make())
		Expect(err).To(MatchError(auth.ErrNotFound))

		_, err = repo.GetByEmail(suiteCtx, "nobody@example.com")
		Expect(err).To(MatchError(auth.ErrNotFound))

		Expect(repo.SetPlan(suiteCtx, ulid.Make(), "premium")).To(MatchError(auth.ErrNotFound))
	})

	It("records logins and plans", func() {
		u := newUser("active@example.com")
		Expect(repo.Create(suiteCtx, u)).To(Succeed())

		at := time.Now().UTC().Truncate(time.Microsecond)
		Expect(repo.RecordLogin(suiteCtx, u.ID, at)).To(Succeed())
		Expect(repo.SetPlan(suiteCtx, u.ID, "premium")).To(Succeed())

		got, err := repo.GetByID(suiteCtx, u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.LastLoginAt).NotTo(BeNil())
		Expect(got.LastLoginAt.Equal(at)).To(BeTrue())
		Expect(got.Plan).To(Equal("premium"))
	})

	Describe("reset tokens", func() {
		var u *auth.User

		BeforeEach(func() {
			u = newUser("reset@example.com")
			Expect(repo.Create(suiteCtx, u)).To(Succeed())
		})

		It("finds the holder of an unexpired hash", func() {
			now := time.Now().UTC()
			Expect(repo.SetResetToken(suiteCtx, u.ID, "hash-1", now.Add(10*time.Minute))).To(Succeed())

			got, err := repo.GetByResetTokenHash(suiteCtx, "hash-1", now)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(u.ID))

			_, err = repo.GetByResetTokenHash(suiteCtx, "hash-1", now.Add(11*time.Minute))
			Expect(err).To(MatchError(auth.ErrNotFound))
		})

		It("consumes a hash exactly once", func() {
			now := time.Now().UTC()
			Expect(repo.SetResetToken(suiteCtx, u.ID, "hash-2", now.Add(10*time.Minute))).To(Succeed())

			Expect(repo.ConsumeResetToken(suiteCtx, u.ID, "hash-2", "new-hash", now)).To(Succeed())
			Expect(repo.ConsumeResetToken(suiteCtx, u.ID, "hash-2", "newer-hash", now)).To(MatchError(auth.ErrNotFound))

			got, err := repo.GetByID(suiteCtx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PasswordHash).To(Equal("new-hash"))
			Expect(got.ResetTokenHash).To(BeNil())
			Expect(got.ResetExpiresAt).To(BeNil())
		})

		It("refuses an expired hash", func() {
			now := time.Now().UTC()
			Expect(repo.SetResetToken(suiteCtx, u.ID, "hash-3", now.Add(-time.Second))).To(Succeed())

			err := repo.ConsumeResetToken(suiteCtx, u.ID, "hash-3", "new-hash", now)
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})
})
