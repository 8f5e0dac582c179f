// Package admin backs the operator-facing dashboard and manual session
// controls: masked session inspection, forced cookie overrides, synchronous
// refresh, and the stats/failed-checks views.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nullstream/unmutual/internal/db"
	"github.com/nullstream/unmutual/pkg/session"
)

// Service backs the admin HTTP surface.
type Service struct {
	pool     *pgxpool.Pool
	queries  *db.Queries
	sessions *session.Manager
}

// New constructs a Service.
func New(pool *pgxpool.Pool, queries *db.Queries, sessions *session.Manager) *Service {
	return &Service{pool: pool, queries: queries, sessions: sessions}
}

// SessionView is the masked, admin-facing view of the active session.
type SessionView struct {
	IsSet          bool
	CookieMasked   string
	IsValid        bool
	FailCount      int32
	LastUsedAt     *time.Time
	LastVerifiedAt *time.Time
	LastError      *string
}

// CurrentSession returns the masked view of the active upstream session.
func (s *Service) CurrentSession(ctx context.Context) (SessionView, error) {
	sess, err := s.queries.GetActiveSession(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionView{CookieMasked: "NOT SET"}, nil
		}
		return SessionView{}, fmt.Errorf("loading active session: %w", err)
	}
	return SessionView{
		IsSet:          true,
		CookieMasked:   maskCookie(sess.CookieValue),
		IsValid:        sess.IsValid,
		FailCount:      sess.FailCount,
		LastUsedAt:     sess.LastUsedAt,
		LastVerifiedAt: sess.LastVerifiedAt,
		LastError:      sess.LastError,
	}, nil
}

// SetSession manually installs a cookie, bypassing the browser login flow
// (operator pasted a cookie captured out-of-band).
func (s *Service) SetSession(ctx context.Context, cookie string) (SessionView, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return SessionView{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.sessions.Save(ctx, tx, cookie, "set manually via admin API"); err != nil {
		return SessionView{}, fmt.Errorf("saving session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return SessionView{}, fmt.Errorf("committing session: %w", err)
	}

	return s.CurrentSession(ctx)
}

// RefreshSync triggers a synchronous browser-login refresh, blocking until
// it completes or fails.
func (s *Service) RefreshSync(ctx context.Context) error {
	return s.sessions.RefreshNow(ctx, s.pool)
}

// Stats returns the all-time dashboard summary.
func (s *Service) Stats(ctx context.Context) (db.Stats, error) {
	return s.queries.GetStats(ctx)
}

// DailyStats returns the dashboard summary for one calendar day.
func (s *Service) DailyStats(ctx context.Context, day time.Time) (db.DailyStats, error) {
	return s.queries.GetDailyStats(ctx, day)
}

// FailedChecks returns the most recently failed jobs.
func (s *Service) FailedChecks(ctx context.Context, limit int32) ([]db.Job, error) {
	return s.queries.ListFailedJobs(ctx, limit)
}

// maskCookie reveals only the first 8 and last 4 characters of a secret
// value (values of 12 characters or fewer are masked entirely), matching
// the masked views the admin dashboard is allowed to show.
func maskCookie(cookie string) string {
	if len(cookie) <= 12 {
		return "***"
	}
	return cookie[:8] + "..." + cookie[len(cookie)-4:]
}
