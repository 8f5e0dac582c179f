package db

import (
	"context"

	"github.com/google/uuid"
)

const getActiveCredentialSQL = `
SELECT id, username, password_ciphertext, totp_secret_ciphertext, is_active,
       last_used_at, last_login_success, last_error, created_at
FROM refresh_credentials WHERE is_active = true
`

// GetActiveCredential returns the single active refresh credential.
func (q *Queries) GetActiveCredential(ctx context.Context) (RefreshCredential, error) {
	return scanCredential(q.db.QueryRow(ctx, getActiveCredentialSQL))
}

const recordCredentialLoginSQL = `
UPDATE refresh_credentials
SET last_used_at = now(), last_login_success = $2, last_error = $3
WHERE id = $1
`

// RecordCredentialLogin records the outcome of a browser login attempt made
// with this credential.
func (q *Queries) RecordCredentialLogin(ctx context.Context, id uuid.UUID, success bool, lastError *string) error {
	_, err := q.db.Exec(ctx, recordCredentialLoginSQL, id, success, lastError)
	return err
}

func scanCredential(row scannable) (RefreshCredential, error) {
	var c RefreshCredential
	err := row.Scan(&c.ID, &c.Username, &c.PasswordCiphertext, &c.TOTPSecretCiphertext, &c.IsActive,
		&c.LastUsedAt, &c.LastLoginSuccess, &c.LastError, &c.CreatedAt)
	if err != nil {
		return RefreshCredential{}, err
	}
	return c, nil
}
