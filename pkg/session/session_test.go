package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nullstream/unmutual/internal/db"
)

// fakeRow adapts a closure to pgx.Row so fakeStore can hand QueryRow
// results back through the same Scan path the real sqlc-style Queries use.
type fakeRow struct {
	fn func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.fn(dest...) }

// fakeStore is a minimal in-memory DBTX, enough to drive *db.Queries
// through the session state machine's handful of statements without a
// live Postgres connection.
type fakeStore struct {
	session    *db.UpstreamSession
	credential *db.RefreshCredential
}

func (f *fakeStore) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "SET is_valid = false, fail_count = fail_count + 1"):
		if f.session == nil {
			return pgconn.CommandTag{}, pgx.ErrNoRows
		}
		f.session.IsValid = false
		f.session.FailCount++
		msg := args[1].(string)
		f.session.LastError = &msg
		return pgconn.CommandTag{}, nil
	case strings.Contains(sql, "SET last_used_at = now(), last_login_success"):
		if f.credential != nil {
			success := args[1].(bool)
			f.credential.LastLoginSuccess = &success
		}
		return pgconn.CommandTag{}, nil
	case strings.Contains(sql, "SET is_active = false WHERE is_active = true"):
		if f.session != nil {
			f.session.IsActive = false
		}
		return pgconn.CommandTag{}, nil
	case strings.Contains(sql, "SET refresh_attempts"):
		return pgconn.CommandTag{}, nil
	case strings.Contains(sql, "SET last_verified_at = now(), fail_count = 0"):
		if f.session != nil {
			f.session.FailCount = 0
		}
		return pgconn.CommandTag{}, nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("fakeStore: unhandled exec: %s", sql)
}

func (f *fakeStore) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("fakeStore: unhandled query: %s", sql)
}

func (f *fakeStore) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "FROM upstream_sessions WHERE is_active = true"):
		return fakeRow{fn: func(dest ...any) error {
			if f.session == nil || !f.session.IsActive {
				return pgx.ErrNoRows
			}
			return scanSessionFake(dest, f.session)
		}}
	case strings.Contains(sql, "RETURNING fail_count"):
		return fakeRow{fn: func(dest ...any) error {
			if f.session == nil {
				return pgx.ErrNoRows
			}
			f.session.FailCount++
			*dest[0].(*int32) = f.session.FailCount
			return nil
		}}
	case strings.Contains(sql, "FROM refresh_credentials WHERE is_active = true"):
		return fakeRow{fn: func(dest ...any) error {
			if f.credential == nil {
				return pgx.ErrNoRows
			}
			return scanCredentialFake(dest, f.credential)
		}}
	}
	return fakeRow{fn: func(_ ...any) error {
		return fmt.Errorf("fakeStore: unhandled query row: %s", sql)
	}}
}

func scanSessionFake(dest []any, s *db.UpstreamSession) error {
	*dest[0].(*uuid.UUID) = s.ID
	*dest[1].(*string) = s.CookieValue
	*dest[2].(*bool) = s.IsActive
	*dest[3].(*bool) = s.IsValid
	*dest[4].(*int32) = s.FailCount
	*dest[5].(*int32) = s.RefreshAttempts
	*dest[6].(**time.Time) = s.NextRefreshAt
	*dest[7].(*string) = s.Notes
	*dest[8].(*time.Time) = s.CreatedAt
	*dest[9].(**time.Time) = s.LastUsedAt
	*dest[10].(**time.Time) = s.LastVerifiedAt
	*dest[11].(**string) = s.LastError
	return nil
}

func scanCredentialFake(dest []any, c *db.RefreshCredential) error {
	*dest[0].(*uuid.UUID) = c.ID
	*dest[1].(*string) = c.Username
	*dest[2].(*string) = c.PasswordCiphertext
	*dest[3].(**string) = c.TOTPSecretCiphertext
	*dest[4].(*bool) = c.IsActive
	*dest[5].(**time.Time) = c.LastUsedAt
	*dest[6].(**bool) = c.LastLoginSuccess
	*dest[7].(**string) = c.LastError
	*dest[8].(*time.Time) = c.CreatedAt
	return nil
}

type fakeRefresher struct{ fail bool }

func (r *fakeRefresher) Login(_ context.Context, _, _, _ string) (string, error) {
	if r.fail {
		return "", errors.New("login rejected")
	}
	return "fresh-cookie", nil
}

type fakeNotifier struct{ criticalCount int }

func (n *fakeNotifier) SendCritical(_ context.Context, _ string) error {
	n.criticalCount++
	return nil
}

type fakeDecryptor struct{}

func (fakeDecryptor) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(store *fakeStore, notifier *fakeNotifier, refresher *fakeRefresher, maxConsecFailures int) *Manager {
	return New(db.New(store), refresher, notifier, fakeDecryptor{}, nil, discardLogger(), Config{
		MaxConsecFailures: maxConsecFailures,
		ProactiveWindow:   48 * time.Hour,
	})
}

func TestMarkInvalid_KeepsSessionActive(t *testing.T) {
	store := &fakeStore{session: &db.UpstreamSession{
		ID: uuid.New(), CookieValue: "c", IsActive: true, IsValid: true, CreatedAt: time.Now(),
	}}
	mgr := newTestManager(store, &fakeNotifier{}, &fakeRefresher{}, 3)

	if err := mgr.MarkInvalid(context.Background(), "401 from upstream"); err != nil {
		t.Fatalf("MarkInvalid: %v", err)
	}

	if !store.session.IsActive {
		t.Error("MarkInvalid cleared is_active; session should stay active so escalation accounting keeps finding it")
	}
	if store.session.IsValid {
		t.Error("MarkInvalid did not clear is_valid")
	}
	if store.session.FailCount != 1 {
		t.Errorf("fail_count = %d, want 1", store.session.FailCount)
	}
}

func TestRefreshNow_EscalatesAfterConsecutiveFailures(t *testing.T) {
	sessID := uuid.New()
	store := &fakeStore{
		session: &db.UpstreamSession{ID: sessID, CookieValue: "stale", IsActive: true, IsValid: true, CreatedAt: time.Now()},
		credential: &db.RefreshCredential{
			ID: uuid.New(), Username: "bot", PasswordCiphertext: "pw", IsActive: true, CreatedAt: time.Now(),
		},
	}
	notifier := &fakeNotifier{}
	refresher := &fakeRefresher{fail: true}
	mgr := newTestManager(store, notifier, refresher, 2)

	if err := mgr.RefreshNow(context.Background(), nil); err == nil {
		t.Fatal("expected RefreshNow to return the login error")
	}
	if store.session.FailCount != 1 {
		t.Fatalf("fail_count after first failure = %d, want 1", store.session.FailCount)
	}
	if notifier.criticalCount != 0 {
		t.Fatalf("critical alert fired before threshold: count = %d", notifier.criticalCount)
	}

	if err := mgr.RefreshNow(context.Background(), nil); err == nil {
		t.Fatal("expected RefreshNow to return the login error")
	}
	if store.session.FailCount != 2 {
		t.Fatalf("fail_count after second failure = %d, want 2", store.session.FailCount)
	}
	if notifier.criticalCount != 1 {
		t.Fatalf("critical alert count = %d, want 1 once threshold reached", notifier.criticalCount)
	}
}

func TestRefreshNow_ProactiveFailuresAlsoCounted(t *testing.T) {
	// A session that was never reactively invalidated (is_valid still
	// true, as it would be mid-proactive-window) must still accumulate
	// fail_count when its scheduled refresh login fails.
	store := &fakeStore{
		session: &db.UpstreamSession{ID: uuid.New(), CookieValue: "ok-for-now", IsActive: true, IsValid: true, CreatedAt: time.Now()},
		credential: &db.RefreshCredential{
			ID: uuid.New(), Username: "bot", PasswordCiphertext: "pw", IsActive: true, CreatedAt: time.Now(),
		},
	}
	mgr := newTestManager(store, &fakeNotifier{}, &fakeRefresher{fail: true}, 5)

	_ = mgr.RefreshNow(context.Background(), nil)
	_ = mgr.RefreshNow(context.Background(), nil)

	if store.session.FailCount != 2 {
		t.Fatalf("fail_count after two proactive login failures = %d, want 2", store.session.FailCount)
	}
}

func TestShouldRefreshProactively_DueWhenInvalid(t *testing.T) {
	store := &fakeStore{session: &db.UpstreamSession{
		ID: uuid.New(), IsActive: true, IsValid: false, CreatedAt: time.Now(),
	}}
	mgr := newTestManager(store, &fakeNotifier{}, &fakeRefresher{}, 3)

	due, err := mgr.ShouldRefreshProactively(context.Background())
	if err != nil {
		t.Fatalf("ShouldRefreshProactively: %v", err)
	}
	if !due {
		t.Error("expected refresh to be due for an invalid session")
	}
}
