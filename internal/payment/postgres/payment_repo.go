// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package postgres implements payment.Repository on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/lanconnect/lanconnect/internal/payment"
)

type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const paymentColumns = `id, user_id, provider, amount, currency, plan, status, provider_ref, receipt, phone, description, created_at, updated_at`

// PaymentRepository implements payment.Repository using PostgreSQL.
type PaymentRepository struct {
	pool poolIface
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool poolIface) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create stores a new payment.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (
			id, user_id, provider, amount, currency, plan, status,
			provider_ref, receipt, phone, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		p.ID.String(),
		p.UserID.String(),
		string(p.Provider),
		p.Amount,
		p.Currency,
		p.Plan,
		string(p.Status),
		nullable(p.ProviderRef),
		p.Receipt,
		p.Phone,
		p.Description,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return oops.Code("PAYMENT_CREATE_FAILED").
			With("operation", "insert payment").
			With("id", p.ID.String()).
			Wrap(classify(err))
	}
	return nil
}

// GetByID retrieves a payment by ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id ulid.ULID) (*payment.Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id.String())

	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PAYMENT_NOT_FOUND").
			With("id", id.String()).
			Wrap(payment.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PAYMENT_GET_FAILED").
			With("operation", "get payment by id").
			With("id", id.String()).
			Wrap(err)
	}
	return p, nil
}

// GetByProviderRef retrieves the payment carrying a provider reference.
func (r *PaymentRepository) GetByProviderRef(ctx context.Context, provider payment.Provider, ref string) (*payment.Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider = $1 AND provider_ref = $2`, string(provider), ref)

	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PAYMENT_NOT_FOUND").
			With("provider", string(provider)).
			With("provider_ref", ref).
			Wrap(payment.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PAYMENT_GET_FAILED").
			With("operation", "get payment by provider ref").
			With("provider_ref", ref).
			Wrap(err)
	}
	return p, nil
}

// ListByUser returns the user's payments, newest first.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID ulid.ULID) ([]*payment.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID.String())
	if err != nil {
		return nil, oops.Code("PAYMENT_LIST_FAILED").
			With("operation", "list payments").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, oops.Code("PAYMENT_LIST_FAILED").
				With("operation", "scan payment").
				With("user_id", userID.String()).
				Wrap(err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("PAYMENT_LIST_FAILED").
			With("operation", "iterate payments").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return payments, nil
}

// SetProviderRef records the provider's reference for a payment.
func (r *PaymentRepository) SetProviderRef(ctx context.Context, id ulid.ULID, ref string) error {
	result, err := r.pool.Exec(ctx, `UPDATE payments SET provider_ref = $2, updated_at = NOW() WHERE id = $1`, id.String(), ref)
	if err != nil {
		return oops.Code("PAYMENT_SET_REF_FAILED").
			With("operation", "set provider ref").
			With("id", id.String()).
			Wrap(classify(err))
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PAYMENT_NOT_FOUND").
			With("id", id.String()).
			Wrap(payment.ErrNotFound)
	}
	return nil
}

// Settle moves a pending payment to its final state. The status guard in the
// WHERE clause makes concurrent callbacks settle a payment at most once.
func (r *PaymentRepository) Settle(ctx context.Context, id ulid.ULID, s payment.Settlement) error {
	result, err := r.pool.Exec(ctx, `UPDATE payments SET status = $2, receipt = $3, description = $4, updated_at = $5 WHERE id = $1 AND status = 'pending'`,
		id.String(), string(s.Status), s.Receipt, s.Description, s.At.UTC())
	if err != nil {
		return oops.Code("PAYMENT_SETTLE_FAILED").
			With("operation", "settle payment").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return r.settleMiss(ctx, id)
	}
	return nil
}

// settleMiss distinguishes a missing payment from one already settled.
func (r *PaymentRepository) settleMiss(ctx context.Context, id ulid.ULID) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id.String()).Scan(&exists)
	if err != nil {
		return oops.Code("PAYMENT_SETTLE_FAILED").
			With("operation", "check payment exists").
			With("id", id.String()).
			Wrap(err)
	}
	if !exists {
		return oops.Code("PAYMENT_NOT_FOUND").
			With("id", id.String()).
			Wrap(payment.ErrNotFound)
	}
	return oops.Code("PAYMENT_NOT_PENDING").
		With("id", id.String()).
		Wrap(payment.ErrNotPending)
}

// classify maps constraint violations to payment.ErrInvalidInput.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation, pgerrcode.CheckViolation, pgerrcode.ForeignKeyViolation:
		return errors.Join(payment.ErrInvalidInput, err)
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// scanPayment scans a single row into a Payment.
// Callers are responsible for handling pgx.ErrNoRows.
func scanPayment(row pgx.Row) (*payment.Payment, error) {
	var (
		idStr, userIDStr string
		provider, status string
		providerRef      *string
		p                payment.Payment
	)

	err := row.Scan(
		&idStr,
		&userIDStr,
		&provider,
		&p.Amount,
		&p.Currency,
		&p.Plan,
		&status,
		&providerRef,
		&p.Receipt,
		&p.Phone,
		&p.Description,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers classify pgx.ErrNoRows
	}

	if p.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("PAYMENT_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if p.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("PAYMENT_INVALID_ID").With("user_id", userIDStr).Wrap(err)
	}
	p.Provider = payment.Provider(provider)
	p.Status = payment.Status(status)
	if providerRef != nil {
		p.ProviderRef = *providerRef
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// Compile-time interface check.
var _ payment.Repository = (*PaymentRepository)(nil)
