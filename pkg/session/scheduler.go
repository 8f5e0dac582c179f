package session

import (
	"context"
	"time"
)

// RunProactiveScheduler periodically checks ShouldRefreshProactively and
// triggers RefreshNow when due. Runs until ctx is cancelled.
func (m *Manager) RunProactiveScheduler(ctx context.Context, pool beginner, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := m.ShouldRefreshProactively(ctx)
			if err != nil {
				m.logger.Error("checking proactive refresh", "error", err)
				continue
			}
			if !due {
				continue
			}
			m.logger.Info("proactive session refresh due")
			if err := m.RefreshNow(ctx, pool); err != nil {
				m.logger.Error("proactive refresh failed", "error", err)
			}
		}
	}
}

// RunHealthChecks periodically validates the active session and marks it
// invalid if the probe fails, so the next upstream call triggers a reactive
// refresh instead of burning a request against a known-dead cookie.
func (m *Manager) RunHealthChecks(ctx context.Context, baseURL string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cookie, err := m.Current(ctx)
			if err != nil || cookie == "" {
				continue
			}
			result := m.Validate(ctx, baseURL, cookie)
			if !result.OK {
				m.logger.Warn("health check found invalid session", "reason", result.Reason)
				if err := m.MarkInvalid(ctx, result.Reason); err != nil {
					m.logger.Error("marking session invalid after health check", "error", err)
				}
				continue
			}
			sess, err := m.queries.GetActiveSession(ctx)
			if err == nil {
				if err := m.queries.TouchSessionVerified(ctx, sess.ID); err != nil {
					m.logger.Error("touching session verified", "error", err)
				}
			}
		}
	}
}
