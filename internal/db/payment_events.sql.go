package db

import (
	"context"

	"github.com/google/uuid"
)

const insertPaymentEventSQL = `
INSERT INTO payment_events (id, payment_id, kind, status_before, status_after, details, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// InsertPaymentEvent appends an audit row for a payment state transition.
// Callers must run this within the same transaction as the corresponding
// Payment status write so the two never diverge.
func (q *Queries) InsertPaymentEvent(ctx context.Context, e PaymentEvent) error {
	details := e.Details
	if details == nil {
		details = []byte("{}")
	}
	_, err := q.db.Exec(ctx, insertPaymentEventSQL, uuid.New(), e.PaymentID, e.Kind,
		e.StatusBefore, e.StatusAfter, details, e.ErrorMessage)
	return err
}

const listPaymentEventsSQL = `
SELECT id, payment_id, kind, status_before, status_after, details, error_message, created_at
FROM payment_events WHERE payment_id = $1 ORDER BY created_at ASC
`

// ListPaymentEvents returns the full transition history for a payment.
func (q *Queries) ListPaymentEvents(ctx context.Context, paymentID uuid.UUID) ([]PaymentEvent, error) {
	rows, err := q.db.Query(ctx, listPaymentEventsSQL, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentEvent
	for rows.Next() {
		var e PaymentEvent
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.Kind, &e.StatusBefore, &e.StatusAfter,
			&e.Details, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
