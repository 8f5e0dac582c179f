package db

import (
	"context"
	"time"
)

// Stats is the admin dashboard summary.
type Stats struct {
	TotalUsers      int64
	ActiveUsers     int64
	TotalJobs       int64
	CompletedJobs   int64
	FailedJobs      int64
	PendingJobs     int64
	TotalPayments   int64
	TotalRevenueCents int64
}

const getStatsSQL = `
SELECT
    (SELECT count(*) FROM users) AS total_users,
    (SELECT count(DISTINCT user_id) FROM jobs) AS active_users,
    (SELECT count(*) FROM jobs) AS total_jobs,
    (SELECT count(*) FROM jobs WHERE status = 'completed') AS completed_jobs,
    (SELECT count(*) FROM jobs WHERE status = 'failed') AS failed_jobs,
    (SELECT count(*) FROM jobs WHERE status IN ('pending', 'processing')) AS pending_jobs,
    (SELECT count(*) FROM payments WHERE status = 'completed') AS total_payments,
    (SELECT COALESCE(sum(amount_cents), 0) FROM payments WHERE status = 'completed') AS total_revenue_cents
`

// GetStats computes the admin dashboard summary.
func (q *Queries) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	err := q.db.QueryRow(ctx, getStatsSQL).Scan(
		&s.TotalUsers, &s.ActiveUsers, &s.TotalJobs, &s.CompletedJobs,
		&s.FailedJobs, &s.PendingJobs, &s.TotalPayments, &s.TotalRevenueCents,
	)
	return s, err
}

// DailyStats is the admin dashboard summary for a single calendar day.
type DailyStats struct {
	JobsCreated       int64
	JobsCompleted     int64
	JobsFailed        int64
	RevenueCents      int64
}

const getDailyStatsSQL = `
SELECT
    (SELECT count(*) FROM jobs WHERE created_at >= $1 AND created_at < $2) AS jobs_created,
    (SELECT count(*) FROM jobs WHERE status = 'completed' AND completed_at >= $1 AND completed_at < $2) AS jobs_completed,
    (SELECT count(*) FROM jobs WHERE status = 'failed' AND completed_at >= $1 AND completed_at < $2) AS jobs_failed,
    (SELECT COALESCE(sum(amount_cents), 0) FROM payments WHERE status = 'completed' AND completed_at >= $1 AND completed_at < $2) AS revenue_cents
`

// GetDailyStats computes the dashboard summary for the UTC day containing day.
func (q *Queries) GetDailyStats(ctx context.Context, day time.Time) (DailyStats, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var s DailyStats
	err := q.db.QueryRow(ctx, getDailyStatsSQL, start, end).Scan(
		&s.JobsCreated, &s.JobsCompleted, &s.JobsFailed, &s.RevenueCents,
	)
	return s, err
}

const listFailedJobsSQL = `
SELECT id, user_id, target_handle, status, progress, queue_position,
       started_at, completed_at, followers_n, following_n, non_mutual_n,
       artifact_path, error_message, created_at
FROM jobs
WHERE status = 'failed'
ORDER BY completed_at DESC
LIMIT $1
`

// ListFailedJobs returns the most recently failed jobs, for the admin
// troubleshooting dashboard.
func (q *Queries) ListFailedJobs(ctx context.Context, limit int32) ([]Job, error) {
	rows, err := q.db.Query(ctx, listFailedJobsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
