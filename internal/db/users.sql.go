package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const ensureUserSQL = `
INSERT INTO users (id, credit_balance, referral_code)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING
RETURNING id, credit_balance, referral_code, created_at
`

// EnsureUser upserts a user by id. If the user already exists it is left
// untouched and the existing row is returned.
func (q *Queries) EnsureUser(ctx context.Context, id int64, initialBalance int32, referralCode string) (User, error) {
	row := q.db.QueryRow(ctx, ensureUserSQL, id, initialBalance, referralCode)
	var u User
	err := row.Scan(&u.ID, &u.CreditBalance, &u.ReferralCode, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return q.GetUser(ctx, id)
	}
	if err != nil {
		return User{}, fmt.Errorf("ensuring user: %w", err)
	}
	return u, nil
}

const getUserSQL = `
SELECT id, credit_balance, referral_code, created_at FROM users WHERE id = $1
`

// GetUser fetches a user by id.
func (q *Queries) GetUser(ctx context.Context, id int64) (User, error) {
	row := q.db.QueryRow(ctx, getUserSQL, id)
	var u User
	if err := row.Scan(&u.ID, &u.CreditBalance, &u.ReferralCode, &u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

const decrementBalanceSQL = `
UPDATE users SET credit_balance = credit_balance - $2
WHERE id = $1 AND credit_balance >= $2
RETURNING id, credit_balance, referral_code, created_at
`

// DecrementBalance decrements the user's balance by amount, failing (no rows)
// if that would drive the balance negative. Must be called within the same
// transaction that creates the corresponding Job row.
func (q *Queries) DecrementBalance(ctx context.Context, id int64, amount int32) (User, error) {
	row := q.db.QueryRow(ctx, decrementBalanceSQL, id, amount)
	var u User
	if err := row.Scan(&u.ID, &u.CreditBalance, &u.ReferralCode, &u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

const incrementBalanceSQL = `
UPDATE users SET credit_balance = credit_balance + $2
WHERE id = $1
RETURNING id, credit_balance, referral_code, created_at
`

// IncrementBalance credits amount to the user's balance (refunds, payment
// completion, referral bonuses).
func (q *Queries) IncrementBalance(ctx context.Context, id int64, amount int32) (User, error) {
	row := q.db.QueryRow(ctx, incrementBalanceSQL, id, amount)
	var u User
	if err := row.Scan(&u.ID, &u.CreditBalance, &u.ReferralCode, &u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

// Tx begins a transaction on beginner (a *pgxpool.Pool or a pgx.Tx), runs fn
// with a Queries bound to it, and commits if fn returns nil.
func Tx(ctx context.Context, beginner interface {
	Begin(context.Context) (pgx.Tx, error)
}, fn func(*Queries) error) error {
	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(New(tx)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
