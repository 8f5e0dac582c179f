package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const getActiveSessionSQL = `
SELECT id, cookie_value, is_active, is_valid, fail_count, refresh_attempts,
       next_refresh_at, notes, created_at, last_used_at, last_verified_at, last_error
FROM upstream_sessions WHERE is_active = true
`

// GetActiveSession returns the single active upstream session, if any.
func (q *Queries) GetActiveSession(ctx context.Context) (UpstreamSession, error) {
	return scanSession(q.db.QueryRow(ctx, getActiveSessionSQL))
}

const insertSessionSQL = `
INSERT INTO upstream_sessions (id, cookie_value, is_active, is_valid, notes)
VALUES ($1, $2, $3, true, $4)
RETURNING id, cookie_value, is_active, is_valid, fail_count, refresh_attempts,
          next_refresh_at, notes, created_at, last_used_at, last_verified_at, last_error
`

// InsertSession inserts a new session row. When active is true, callers must
// first deactivate the current active session in the same transaction — the
// single-active-row invariant is also enforced by a partial unique index.
func (q *Queries) InsertSession(ctx context.Context, cookieValue string, active bool, notes string) (UpstreamSession, error) {
	return scanSession(q.db.QueryRow(ctx, insertSessionSQL, uuid.New(), cookieValue, active, notes))
}

const deactivateAllSessionsSQL = `
UPDATE upstream_sessions SET is_active = false WHERE is_active = true
`

// DeactivateAllSessions clears the active flag from every session. Call
// before InsertSession within the same transaction to swap
// the active session without tripping the partial unique index.
func (q *Queries) DeactivateAllSessions(ctx context.Context) error {
	_, err := q.db.Exec(ctx, deactivateAllSessionsSQL)
	return err
}

const markSessionInvalidSQL = `
UPDATE upstream_sessions
SET is_valid = false, fail_count = fail_count + 1, last_error = $2
WHERE id = $1
`

// MarkSessionInvalid records an authentication failure against a session.
// The session stays active (so GetActiveSession still finds it for
// consecutive-failure escalation and refresh) but is_valid = false keeps
// it out of use by anything that requires a validated cookie.
func (q *Queries) MarkSessionInvalid(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := q.db.Exec(ctx, markSessionInvalidSQL, id, lastError)
	return err
}

const incrementSessionFailCountSQL = `
UPDATE upstream_sessions SET fail_count = fail_count + 1 WHERE id = $1
RETURNING fail_count
`

// IncrementSessionFailCount records a failed login/refresh attempt against a
// session, whether or not it was already marked invalid, and returns the
// updated consecutive-failure count.
func (q *Queries) IncrementSessionFailCount(ctx context.Context, id uuid.UUID) (int32, error) {
	var n int32
	err := q.db.QueryRow(ctx, incrementSessionFailCountSQL, id).Scan(&n)
	return n, err
}

const touchSessionUsedSQL = `
UPDATE upstream_sessions SET last_used_at = now() WHERE id = $1
`

// TouchSessionUsed records that a session was used for an upstream request.
func (q *Queries) TouchSessionUsed(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, touchSessionUsedSQL, id)
	return err
}

const touchSessionVerifiedSQL = `
UPDATE upstream_sessions SET last_verified_at = now(), fail_count = 0 WHERE id = $1
`

// TouchSessionVerified records a successful health check, resetting the
// consecutive failure counter.
func (q *Queries) TouchSessionVerified(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, touchSessionVerifiedSQL, id)
	return err
}

const scheduleSessionRefreshSQL = `
UPDATE upstream_sessions
SET refresh_attempts = refresh_attempts + 1, next_refresh_at = $2
WHERE id = $1
`

// ScheduleSessionRefresh records a proactive or reactive refresh attempt and
// when the next one should be considered.
func (q *Queries) ScheduleSessionRefresh(ctx context.Context, id uuid.UUID, nextRefreshAt time.Time) error {
	_, err := q.db.Exec(ctx, scheduleSessionRefreshSQL, id, nextRefreshAt)
	return err
}

func scanSession(row scannable) (UpstreamSession, error) {
	var s UpstreamSession
	err := row.Scan(&s.ID, &s.CookieValue, &s.IsActive, &s.IsValid, &s.FailCount, &s.RefreshAttempts,
		&s.NextRefreshAt, &s.Notes, &s.CreatedAt, &s.LastUsedAt, &s.LastVerifiedAt, &s.LastError)
	if err != nil {
		return UpstreamSession{}, err
	}
	return s, nil
}
