// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

//go:build integration

package postgres_test

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/lanconnect/lanconnect/internal/auth"
	authpg "github.com/lanconnect/lanconnect/internal/auth/postgres"
	"github.com/lanconnect/lanconnect/internal/payment"
	paypg "github.com/lanconnect/lanconnect/internal/payment/postgres"
)

var _ = Describe("PaymentRepository", func() {
	var (
		repo *paypg.PaymentRepository
		user *auth.User
	)

	BeforeEach(func() {
		repo = paypg.NewPaymentRepository(pool)

		var err error
		user, err = auth.NewUser("Otieno", "otieno@example.com", "", "hash", time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(authpg.NewUserRepository(pool).Create(suiteCtx, user)).To(Succeed())
	})

	newPayment := func(provider payment.Provider, at time.Time) *payment.Payment {
		p := payment.NewPayment(user.ID, provider, 500, "KES", "premium", at)
		Expect(repo.Create(suiteCtx, p)).To(Succeed())
		return p
	}

	It("stores a pending payment and finds it by provider reference", func() {
		p := newPayment(payment.ProviderMpesa, time.Now())
		Expect(repo.SetProviderRef(suiteCtx, p.ID, "ws_CO_191220191020363925")).To(Succeed())

		got, err := repo.GetByProviderRef(suiteCtx, payment.ProviderMpesa, "ws_CO_191220191020363925")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(p.ID))
		Expect(got.Status).To(Equal(payment.StatusPending))
		Expect(got.Amount).To(BeEquivalentTo(500))

		_, err = repo.GetByProviderRef(suiteCtx, payment.ProviderStripe, "ws_CO_191220191020363925")
		Expect(err).To(MatchError(payment.ErrNotFound))
	})

	It("keeps provider references unique per provider", func() {
		a := newPayment(payment.ProviderStripe, time.Now())
		b := newPayment(payment.ProviderStripe, time.Now())
		Expect(repo.SetProviderRef(suiteCtx, a.ID, "pi_123")).To(Succeed())

		Expect(repo.SetProviderRef(suiteCtx, b.ID, "pi_123")).To(MatchError(payment.ErrInvalidInput))
	})

	It("rejects payments for unknown users", func() {
		p := payment.NewPayment(ulid.Make(), payment.ProviderMpesa, 10, "KES", "basic", time.Now())
		Expect(repo.Create(suiteCtx, p)).To(MatchError(payment.ErrInvalidInput))
	})

	It("lists a user's payments newest first", func() {
		base := time.Now().Add(-time.Hour)
		first := newPayment(payment.ProviderMpesa, base)
		second := newPayment(payment.ProviderStripe, base.Add(time.Minute))

		list, err := repo.ListByUser(suiteCtx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(2))
		Expect(list[0].ID).To(Equal(second.ID))
		Expect(list[1].ID).To(Equal(first.ID))

		empty, err := repo.ListByUser(suiteCtx, ulid.Make())
		Expect(err).NotTo(HaveOccurred())
		Expect(empty).To(BeEmpty())
	})

	Describe("Settle", func() {
		It("settles once and refuses later transitions", func() {
			p := newPayment(payment.ProviderMpesa, time.Now())
			done := payment.Settlement{Status: payment.StatusCompleted, Receipt: "NLJ7RT61SV", Description: "ok", At: time.Now()}

			Expect(repo.Settle(suiteCtx, p.ID, done)).To(Succeed())
			Expect(repo.Settle(suiteCtx, p.ID, payment.Settlement{Status: payment.StatusFailed, At: time.Now()})).
				To(MatchError(payment.ErrNotPending))

			got, err := repo.GetByID(suiteCtx, p.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(payment.StatusCompleted))
			Expect(got.Receipt).To(Equal("NLJ7RT61SV"))
		})

		It("reports unknown payments as not found", func() {
			err := repo.Settle(suiteCtx, ulid.Make(), payment.Settlement{Status: payment.StatusFailed, At: time.Now()})
			Expect(err).To(MatchError(payment.ErrNotFound))
		})

		It("lets exactly one of many concurrent callbacks win", func() {
			p := newPayment(payment.ProviderMpesa, time.Now())

			const callbacks = 8
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < callbacks; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					err := repo.Settle(suiteCtx, p.ID, payment.Settlement{Status: payment.StatusCompleted, At: time.Now()})
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
						return
					}
					Expect(err).To(MatchError(payment.ErrNotPending))
				}()
			}
			wg.Wait()
			Expect(wins).To(Equal(1))
		})
	})
})
