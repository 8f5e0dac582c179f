// Package session owns the single shared upstream credential: its
// database-backed lifecycle, a process-wide cache, and proactive/reactive
// rotation through a headless-browser login.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/nullstream/unmutual/internal/db"
	"github.com/nullstream/unmutual/internal/telemetry"
)

// sessionCookieCacheKey is the redis key the active cookie is mirrored
// under, so every API/worker process shares one cache instead of each
// paying its own GetActiveSession round trip on every upstream request.
const sessionCookieCacheKey = "unmutual:session:cookie"

// Refresher drives a browser login and returns a fresh cookie. Implemented
// by pkg/session/browser.
type Refresher interface {
	Login(ctx context.Context, username, password, totpSecret string) (cookie string, err error)
}

// Notifier raises an out-of-band alert when automated recovery is
// exhausted. Implemented by pkg/notify.
type Notifier interface {
	SendCritical(ctx context.Context, message string) error
}

// Decryptor reverses the authenticated encryption applied to stored
// credentials. Implemented by internal/crypto.
type Decryptor interface {
	Decrypt(ciphertext string) (string, error)
}

type cachedCookie struct {
	value     string
	cachedAt  time.Time
	sessionID string
}

// Manager is the Session Manager (C2): the authoritative source of the
// active upstream cookie.
type Manager struct {
	queries  *db.Queries
	refresh  Refresher
	notify   Notifier
	decrypt  Decryptor
	rdb      *redis.Client
	logger   *slog.Logger

	cacheTTL          time.Duration
	proactiveWindow   time.Duration
	maxConsecFailures int
	staticFallback    string

	cache atomic.Pointer[cachedCookie]

	refreshMu  sync.Mutex
	refreshing bool
	refreshCh  chan struct{}
}

// Config bundles the Manager's tunables.
type Config struct {
	CacheTTL          time.Duration
	ProactiveWindow   time.Duration
	MaxConsecFailures int
	StaticFallback    string
}

// New constructs a Manager. rdb is optional: when nil, the cookie cache
// falls back to the in-process atomic cell only.
func New(queries *db.Queries, refresher Refresher, notifier Notifier, decryptor Decryptor, rdb *redis.Client, logger *slog.Logger, cfg Config) *Manager {
	return &Manager{
		queries:           queries,
		refresh:           refresher,
		notify:            notifier,
		decrypt:           decryptor,
		rdb:               rdb,
		logger:            logger,
		cacheTTL:          cfg.CacheTTL,
		proactiveWindow:   cfg.ProactiveWindow,
		maxConsecFailures: cfg.MaxConsecFailures,
		staticFallback:    cfg.StaticFallback,
	}
}

// Current returns the current cookie. It prefers the redis-shared cache
// (so every API/worker process avoids its own DB round trip on the common
// path), falls back to the active+valid DB row, then the in-process cache
// (even if stale, while a refresh may be in flight), and finally to a
// static configured value.
func (m *Manager) Current(ctx context.Context) (string, error) {
	if m.rdb != nil {
		cookie, err := m.rdb.Get(ctx, sessionCookieCacheKey).Result()
		if err == nil && cookie != "" {
			return cookie, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			m.logger.Warn("reading cached session cookie", "error", err)
		}
	}

	sess, err := m.queries.GetActiveSession(ctx)
	if err == nil && sess.IsValid {
		m.cache.Store(&cachedCookie{value: sess.CookieValue, cachedAt: time.Now(), sessionID: sess.ID.String()})
		m.cacheCookie(ctx, sess.CookieValue)
		return sess.CookieValue, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		m.logger.Error("reading active session", "error", err)
	}

	if cached := m.cache.Load(); cached != nil {
		return cached.value, nil
	}

	if m.staticFallback != "" {
		return m.staticFallback, nil
	}

	return "", fmt.Errorf("no upstream session available")
}

// cacheCookie mirrors cookie into redis for cacheTTL, best-effort.
func (m *Manager) cacheCookie(ctx context.Context, cookie string) {
	if m.rdb == nil || m.cacheTTL <= 0 {
		return
	}
	if err := m.rdb.Set(ctx, sessionCookieCacheKey, cookie, m.cacheTTL).Err(); err != nil {
		m.logger.Warn("caching session cookie", "error", err)
	}
}

// evictCachedCookie drops the shared redis cache entry, best-effort.
func (m *Manager) evictCachedCookie(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	if err := m.rdb.Del(ctx, sessionCookieCacheKey).Err(); err != nil {
		m.logger.Warn("evicting cached session cookie", "error", err)
	}
}

// Save deactivates all prior sessions and inserts a new active, valid one,
// scheduling the next proactive refresh.
func (m *Manager) Save(ctx context.Context, tx pgx.Tx, cookie, notes string) (db.UpstreamSession, error) {
	q := m.queries.WithTx(tx)
	if err := q.DeactivateAllSessions(ctx); err != nil {
		return db.UpstreamSession{}, fmt.Errorf("deactivating prior sessions: %w", err)
	}
	sess, err := q.InsertSession(ctx, cookie, true, notes)
	if err != nil {
		return db.UpstreamSession{}, fmt.Errorf("inserting session: %w", err)
	}
	if err := q.ScheduleSessionRefresh(ctx, sess.ID, time.Now().Add(m.proactiveWindow)); err != nil {
		return db.UpstreamSession{}, fmt.Errorf("scheduling refresh: %w", err)
	}
	m.cache.Store(&cachedCookie{value: cookie, cachedAt: time.Now(), sessionID: sess.ID.String()})
	m.cacheCookie(ctx, cookie)
	return sess, nil
}

// MarkInvalid flips the active session to invalid and clears the cache,
// used when C1 reports a SessionExpired outcome.
func (m *Manager) MarkInvalid(ctx context.Context, lastError string) error {
	sess, err := m.queries.GetActiveSession(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("reading active session: %w", err)
	}
	if err := m.queries.MarkSessionInvalid(ctx, sess.ID, lastError); err != nil {
		return fmt.Errorf("marking session invalid: %w", err)
	}
	m.cache.Store(nil)
	m.evictCachedCookie(ctx)
	return nil
}

// ShouldRefreshProactively reports whether a proactive rotation is due: no
// valid session exists, its scheduled refresh time has passed, or it is at
// least proactiveWindow old.
func (m *Manager) ShouldRefreshProactively(ctx context.Context) (bool, error) {
	sess, err := m.queries.GetActiveSession(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("reading active session: %w", err)
	}
	if !sess.IsValid {
		return true, nil
	}
	if sess.NextRefreshAt != nil && time.Now().After(*sess.NextRefreshAt) {
		return true, nil
	}
	if time.Since(sess.CreatedAt) >= m.proactiveWindow {
		return true, nil
	}
	return false, nil
}

// beginner is satisfied by *pgxpool.Pool for RefreshNow's internal transaction.
type beginner interface {
	Begin(context.Context) (pgx.Tx, error)
}

// RefreshNow drives a browser login with the active refresh credential and
// saves the resulting cookie. Concurrent calls single-flight: only the first
// caller performs the login, the rest block until it completes and observe
// its result.
func (m *Manager) RefreshNow(ctx context.Context, pool beginner) error {
	m.refreshMu.Lock()
	if m.refreshing {
		ch := m.refreshCh
		m.refreshMu.Unlock()
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.refreshing = true
	m.refreshCh = make(chan struct{})
	m.refreshMu.Unlock()

	err := m.doRefresh(ctx, pool)

	m.refreshMu.Lock()
	m.refreshing = false
	close(m.refreshCh)
	m.refreshMu.Unlock()

	return err
}

func (m *Manager) doRefresh(ctx context.Context, pool beginner) error {
	cred, err := m.queries.GetActiveCredential(ctx)
	if err != nil {
		return fmt.Errorf("reading active credential: %w", err)
	}

	password, err := m.decrypt.Decrypt(cred.PasswordCiphertext)
	if err != nil {
		return fmt.Errorf("decrypting password: %w", err)
	}
	var totpSecret string
	if cred.TOTPSecretCiphertext != nil {
		totpSecret, err = m.decrypt.Decrypt(*cred.TOTPSecretCiphertext)
		if err != nil {
			return fmt.Errorf("decrypting totp secret: %w", err)
		}
	}

	cookie, loginErr := m.refresh.Login(ctx, cred.Username, password, totpSecret)
	if loginErr != nil {
		errMsg := loginErr.Error()
		if err := m.queries.RecordCredentialLogin(ctx, cred.ID, false, &errMsg); err != nil {
			m.logger.Error("recording failed login", "error", err)
		}
		telemetry.SessionRefreshTotal.WithLabelValues("reactive", "failed").Inc()
		return m.handleRefreshFailure(ctx, loginErr)
	}

	if err := m.queries.RecordCredentialLogin(ctx, cred.ID, true, nil); err != nil {
		m.logger.Error("recording successful login", "error", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := m.Save(ctx, tx, cookie, "refreshed via browser login"); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing refreshed session: %w", err)
	}

	telemetry.SessionRefreshTotal.WithLabelValues("reactive", "success").Inc()
	return nil
}

func (m *Manager) handleRefreshFailure(ctx context.Context, loginErr error) error {
	sess, err := m.queries.GetActiveSession(ctx)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			m.logger.Error("reading active session for failure accounting", "error", err)
		}
		return fmt.Errorf("refreshing session: %w", loginErr)
	}

	failCount, err := m.queries.IncrementSessionFailCount(ctx, sess.ID)
	if err != nil {
		m.logger.Error("incrementing session fail count", "error", err)
		failCount = sess.FailCount + 1
	}

	if int(failCount) >= m.maxConsecFailures {
		msg := fmt.Sprintf("upstream session refresh failed %d consecutive times, manual intervention required: %v", failCount, loginErr)
		m.logger.Error(msg)
		if notifyErr := m.notify.SendCritical(ctx, msg); notifyErr != nil {
			m.logger.Error("sending critical alert", "error", notifyErr)
		}
	}
	return fmt.Errorf("refreshing session: %w", loginErr)
}
