// Package payment is the Payment State Machine (C5): it moves a payment
// through its lifecycle exactly once per external charge, with an
// append-only audit trail and a mandatory credit top-up on completion.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nullstream/unmutual/internal/db"
	"github.com/nullstream/unmutual/internal/telemetry"
	"github.com/nullstream/unmutual/pkg/notify"
)

var (
	// ErrNotFound is returned when a payment id does not exist.
	ErrNotFound = errors.New("payment not found")
	// ErrAlreadyCompleted is returned by Complete when the payment is
	// completed under a different external_charge_id than the caller gave.
	ErrAlreadyCompleted = errors.New("payment already completed with a different charge id")
	// ErrAmountMismatch is returned by Complete when the settled amount
	// does not match the payment's recorded amount.
	ErrAmountMismatch = errors.New("payment amount mismatch")
	// ErrInvalidStatus is returned when a transition is attempted on a
	// payment that is not in the expected source state.
	ErrInvalidStatus = errors.New("payment is not in a transitionable status")
)

// Service drives payment lifecycle transitions.
type Service struct {
	pool     *pgxpool.Pool
	queries  *db.Queries
	notifier notify.Transport
	logger   *slog.Logger
}

// New constructs a Service.
func New(pool *pgxpool.Pool, queries *db.Queries, notifier notify.Transport, logger *slog.Logger) *Service {
	return &Service{pool: pool, queries: queries, notifier: notifier, logger: logger}
}

// Create opens a new pending payment against a tariff.
func (s *Service) Create(ctx context.Context, userID int64, tariff db.Tariff, method db.PaymentMethod, amountCents int64, currency string) (db.Payment, error) {
	var p db.Payment
	err := db.Tx(ctx, s.pool, func(tx *db.Queries) error {
		var err error
		p, err = tx.CreatePayment(ctx, userID, tariff.ID, amountCents, currency, tariff.CreditsCount, method)
		if err != nil {
			return err
		}
		return tx.InsertPaymentEvent(ctx, db.PaymentEvent{
			PaymentID:    p.ID,
			Kind:         db.PaymentEventCreated,
			StatusBefore: "",
			StatusAfter:  string(db.PaymentStatusPending),
		})
	})
	return p, err
}

// Validate is the pre-checkout hook: it must return quickly, never
// transitions the payment, and only records a pre_checkout audit event.
func (s *Service) Validate(ctx context.Context, paymentID uuid.UUID, expectedAmountCents int64) error {
	p, err := s.queries.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("loading payment: %w", err)
	}
	if p.Status != db.PaymentStatusPending {
		return ErrInvalidStatus
	}
	if p.AmountCents != expectedAmountCents {
		return ErrAmountMismatch
	}
	return s.queries.InsertPaymentEvent(ctx, db.PaymentEvent{
		PaymentID:    p.ID,
		Kind:         db.PaymentEventPreCheckout,
		StatusBefore: string(p.Status),
		StatusAfter:  string(p.Status),
	})
}

// Complete settles a payment idempotently: repeated calls with identical
// arguments converge on the same terminal state and exactly one credit
// increment.
func (s *Service) Complete(ctx context.Context, paymentID uuid.UUID, externalChargeID string, amountCents int64) (db.Payment, error) {
	current, err := s.queries.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Payment{}, ErrNotFound
		}
		return db.Payment{}, fmt.Errorf("loading payment: %w", err)
	}

	if current.Status == db.PaymentStatusCompleted {
		if current.ExternalChargeID != nil && *current.ExternalChargeID == externalChargeID {
			return current, nil
		}
		return db.Payment{}, ErrAlreadyCompleted
	}
	if current.Status != db.PaymentStatusPending {
		return db.Payment{}, ErrInvalidStatus
	}

	if current.AmountCents != amountCents {
		if err := s.failAmountMismatch(ctx, current, amountCents); err != nil {
			s.logger.Error("recording amount mismatch failure", "payment_id", paymentID, "error", err)
		}
		s.notifyCritical(ctx, fmt.Sprintf("payment %s amount mismatch: expected %d, got %d", paymentID, current.AmountCents, amountCents))
		return db.Payment{}, ErrAmountMismatch
	}

	var completed db.Payment
	txErr := db.Tx(ctx, s.pool, func(tx *db.Queries) error {
		chargeID := externalChargeID
		var err error
		completed, err = tx.CompletePayment(ctx, paymentID, &chargeID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Lost the race to a concurrent completion; re-read outside
				// this transaction after it rolls back.
				return errAlreadySettled
			}
			return fmt.Errorf("completing payment: %w", err)
		}
		if err := tx.InsertPaymentEvent(ctx, db.PaymentEvent{
			PaymentID:    paymentID,
			Kind:         db.PaymentEventCompleted,
			StatusBefore: string(db.PaymentStatusPending),
			StatusAfter:  string(db.PaymentStatusCompleted),
		}); err != nil {
			return fmt.Errorf("recording completion event: %w", err)
		}
		if _, err := tx.IncrementBalance(ctx, completed.UserID, completed.CreditsCount); err != nil {
			return fmt.Errorf("crediting balance: %w", err)
		}
		return nil
	})

	if errors.Is(txErr, errAlreadySettled) {
		return s.Complete(ctx, paymentID, externalChargeID, amountCents)
	}
	if txErr != nil {
		return db.Payment{}, txErr
	}

	telemetry.PaymentTransitionsTotal.WithLabelValues(string(completed.Method), "completed").Inc()
	return completed, nil
}

var errAlreadySettled = errors.New("payment settled concurrently")

func (s *Service) failAmountMismatch(ctx context.Context, p db.Payment, receivedAmountCents int64) error {
	return db.Tx(ctx, s.pool, func(tx *db.Queries) error {
		if _, err := tx.FailPayment(ctx, p.ID); err != nil {
			return err
		}
		detail := fmt.Sprintf("amount mismatch: expected %d, received %d", p.AmountCents, receivedAmountCents)
		return tx.InsertPaymentEvent(ctx, db.PaymentEvent{
			PaymentID:    p.ID,
			Kind:         db.PaymentEventFailed,
			StatusBefore: string(db.PaymentStatusPending),
			StatusAfter:  string(db.PaymentStatusFailed),
			ErrorMessage: &detail,
		})
	})
}

// Cancel transitions a pending payment to cancelled (pre-checkout
// rejection, user-abandoned flow).
func (s *Service) Cancel(ctx context.Context, paymentID uuid.UUID) (db.Payment, error) {
	var p db.Payment
	err := db.Tx(ctx, s.pool, func(tx *db.Queries) error {
		var err error
		p, err = tx.CancelPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		return tx.InsertPaymentEvent(ctx, db.PaymentEvent{
			PaymentID:    p.ID,
			Kind:         db.PaymentEventCancelled,
			StatusBefore: string(db.PaymentStatusPending),
			StatusAfter:  string(db.PaymentStatusCancelled),
		})
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return db.Payment{}, ErrInvalidStatus
	}
	return p, err
}

func (s *Service) notifyCritical(ctx context.Context, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendCritical(ctx, message); err != nil {
		s.logger.Warn("sending critical payment alert failed", "error", err)
	}
}
