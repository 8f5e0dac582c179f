package db

import (
	"context"

	"github.com/google/uuid"
)

const createPaymentSQL = `
INSERT INTO payments (id, user_id, tariff_id, amount_cents, currency, credits_count, method, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
RETURNING id, user_id, tariff_id, amount_cents, currency, credits_count, method, status,
          external_charge_id, created_at, completed_at
`

// CreatePayment opens a new payment in the pending state.
func (q *Queries) CreatePayment(ctx context.Context, userID int64, tariffID uuid.UUID, amountCents int64, currency string, creditsCount int32, method PaymentMethod) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, createPaymentSQL, uuid.New(), userID, tariffID, amountCents, currency, creditsCount, method))
}

const getPaymentSQL = `
SELECT id, user_id, tariff_id, amount_cents, currency, credits_count, method, status,
       external_charge_id, created_at, completed_at
FROM payments WHERE id = $1
`

// GetPayment fetches a payment by id.
func (q *Queries) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPaymentSQL, id))
}

const getPaymentByExternalChargeSQL = `
SELECT id, user_id, tariff_id, amount_cents, currency, credits_count, method, status,
       external_charge_id, created_at, completed_at
FROM payments WHERE method = $1 AND external_charge_id = $2
`

// GetPaymentByExternalCharge looks up a payment by acquirer charge id, used
// to make callback handling idempotent.
func (q *Queries) GetPaymentByExternalCharge(ctx context.Context, method PaymentMethod, externalChargeID string) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPaymentByExternalChargeSQL, method, externalChargeID))
}

const completePaymentSQL = `
UPDATE payments
SET status = 'completed', completed_at = now(), external_charge_id = COALESCE($2, external_charge_id)
WHERE id = $1 AND status = 'pending'
RETURNING id, user_id, tariff_id, amount_cents, currency, credits_count, method, status,
          external_charge_id, created_at, completed_at
`

// CompletePayment transitions a pending payment to completed. Returns
// pgx.ErrNoRows if the payment was not pending, which callers treat as
// "already handled" for idempotent callback processing.
func (q *Queries) CompletePayment(ctx context.Context, id uuid.UUID, externalChargeID *string) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, completePaymentSQL, id, externalChargeID))
}

const failPaymentSQL = `
UPDATE payments SET status = 'failed', completed_at = now() WHERE id = $1 AND status = 'pending'
RETURNING id, user_id, tariff_id, amount_cents, currency, credits_count, method, status,
          external_charge_id, created_at, completed_at
`

// FailPayment transitions a pending payment to failed.
func (q *Queries) FailPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, failPaymentSQL, id))
}

const cancelPaymentSQL = `
UPDATE payments SET status = 'cancelled', completed_at = now() WHERE id = $1 AND status = 'pending'
RETURNING id, user_id, tariff_id, amount_cents, currency, credits_count, method, status,
          external_charge_id, created_at, completed_at
`

// CancelPayment transitions a pending payment to cancelled (e.g. pre-checkout rejection).
func (q *Queries) CancelPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, cancelPaymentSQL, id))
}

func scanPayment(row scannable) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.UserID, &p.TariffID, &p.AmountCents, &p.Currency, &p.CreditsCount,
		&p.Method, &p.Status, &p.ExternalChargeID, &p.CreatedAt, &p.CompletedAt)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}
