package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const nextQueuePositionSQL = `
SELECT COALESCE(MAX(queue_position), 0) + 1
FROM jobs
WHERE status IN ('pending', 'processing')
`

const createJobSQL = `
INSERT INTO jobs (id, user_id, target_handle, status, progress, queue_position)
VALUES ($1, $2, $3, 'pending', 0, $4)
RETURNING id, user_id, target_handle, status, progress, queue_position,
          started_at, completed_at, followers_n, following_n, non_mutual_n,
          artifact_path, error_message, created_at
`

// CreateJob admits a job at the tail of the active queue. Callers must run
// this inside the same transaction that debits the submitting user's credit
// balance, so admission and payment are atomic.
func (q *Queries) CreateJob(ctx context.Context, userID int64, targetHandle string) (Job, error) {
	var position int32
	if err := q.db.QueryRow(ctx, nextQueuePositionSQL).Scan(&position); err != nil {
		return Job{}, fmt.Errorf("computing queue position: %w", err)
	}

	row := q.db.QueryRow(ctx, createJobSQL, uuid.New(), userID, targetHandle, position)
	return scanJob(row)
}

const getJobSQL = `
SELECT id, user_id, target_handle, status, progress, queue_position,
       started_at, completed_at, followers_n, following_n, non_mutual_n,
       artifact_path, error_message, created_at
FROM jobs WHERE id = $1
`

// GetJob fetches a job by id.
func (q *Queries) GetJob(ctx context.Context, id uuid.UUID) (Job, error) {
	return scanJob(q.db.QueryRow(ctx, getJobSQL, id))
}

const listJobsByUserSQL = `
SELECT id, user_id, target_handle, status, progress, queue_position,
       started_at, completed_at, followers_n, following_n, non_mutual_n,
       artifact_path, error_message, created_at
FROM jobs
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

// ListJobsByUser returns a page of a user's jobs, most recent first.
func (q *Queries) ListJobsByUser(ctx context.Context, userID int64, limit, offset int32) ([]Job, error) {
	rows, err := q.db.Query(ctx, listJobsByUserSQL, userID, limit, offset)
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

const countJobsByUserSQL = `SELECT count(*) FROM jobs WHERE user_id = $1`

// CountJobsByUser returns the total number of jobs a user has submitted,
// for paginating ListJobsByUser.
func (q *Queries) CountJobsByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, countJobsByUserSQL, userID).Scan(&n)
	return n, err
}

const claimNextPendingJobSQL = `
UPDATE jobs
SET status = 'processing', started_at = now()
WHERE id = (
    SELECT id FROM jobs
    WHERE status = 'pending'
    ORDER BY queue_position ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, user_id, target_handle, status, progress, queue_position,
          started_at, completed_at, followers_n, following_n, non_mutual_n,
          artifact_path, error_message, created_at
`

// ClaimNextPendingJob atomically selects and marks-processing the job at the
// front of the queue, skipping any row already locked by a concurrent
// worker. Returns ErrNoRows (via the caller checking pgx.ErrNoRows) when the
// queue is empty.
func (q *Queries) ClaimNextPendingJob(ctx context.Context) (Job, error) {
	return scanJob(q.db.QueryRow(ctx, claimNextPendingJobSQL))
}

const updateJobProgressSQL = `
UPDATE jobs SET progress = $2 WHERE id = $1 AND status = 'processing'
`

// UpdateJobProgress writes a coalesced progress value; callers are expected
// to rate-limit calls rather than write on every unit of upstream work.
func (q *Queries) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int32) error {
	_, err := q.db.Exec(ctx, updateJobProgressSQL, id, progress)
	return err
}

const completeJobSQL = `
UPDATE jobs
SET status = 'completed', progress = 100, queue_position = NULL,
    completed_at = now(), followers_n = $2, following_n = $3,
    non_mutual_n = $4, artifact_path = $5
WHERE id = $1
RETURNING id, user_id, target_handle, status, progress, queue_position,
          started_at, completed_at, followers_n, following_n, non_mutual_n,
          artifact_path, error_message, created_at
`

// CompleteJob marks a job completed with its result summary and artifact.
func (q *Queries) CompleteJob(ctx context.Context, id uuid.UUID, followersN, followingN, nonMutualN int32, artifactPath string) (Job, error) {
	return scanJob(q.db.QueryRow(ctx, completeJobSQL, id, followersN, followingN, nonMutualN, artifactPath))
}

const failJobSQL = `
UPDATE jobs
SET status = 'failed', queue_position = NULL, completed_at = now(), error_message = $2
WHERE id = $1
RETURNING id, user_id, target_handle, status, progress, queue_position,
          started_at, completed_at, followers_n, following_n, non_mutual_n,
          artifact_path, error_message, created_at
`

// FailJob marks a job failed with an error message. Callers decide refund
// eligibility separately based on the failure taxonomy.
func (q *Queries) FailJob(ctx context.Context, id uuid.UUID, errMessage string) (Job, error) {
	return scanJob(q.db.QueryRow(ctx, failJobSQL, id, errMessage))
}

const recoverStaleJobsSQL = `
UPDATE jobs
SET status = 'failed', queue_position = NULL, completed_at = now(),
    error_message = 'timed out: exceeded stale-job deadline'
WHERE status = 'processing' AND started_at < $1
RETURNING id, user_id, target_handle, status, progress, queue_position,
          started_at, completed_at, followers_n, following_n, non_mutual_n,
          artifact_path, error_message, created_at
`

// RecoverStaleJobs fails jobs that have been stuck in "processing" past the
// staleness deadline, with a timeout error message. Callers must refund the
// affected users' credit in the same transaction.
func (q *Queries) RecoverStaleJobs(ctx context.Context, staleDeadline time.Time) ([]Job, error) {
	rows, err := q.db.Query(ctx, recoverStaleJobsSQL, staleDeadline)
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

const compactQueuePositionsSQL = `
WITH ranked AS (
    SELECT id, row_number() OVER (ORDER BY queue_position ASC) AS rn
    FROM jobs
    WHERE status IN ('pending', 'processing')
)
UPDATE jobs SET queue_position = ranked.rn
FROM ranked
WHERE jobs.id = ranked.id AND jobs.queue_position != ranked.rn
`

// CompactQueuePositions renumbers the active queue to a dense 1..N sequence,
// undoing the gaps left by completed/failed jobs. Safe to run periodically;
// has no effect on FIFO order.
func (q *Queries) CompactQueuePositions(ctx context.Context) error {
	_, err := q.db.Exec(ctx, compactQueuePositionsSQL)
	return err
}

func scanJob(row scannable) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.UserID, &j.TargetHandle, &j.Status, &j.Progress, &j.QueuePosition,
		&j.StartedAt, &j.CompletedAt, &j.FollowersN, &j.FollowingN, &j.NonMutualN,
		&j.ArtifactPath, &j.ErrorMessage, &j.CreatedAt)
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

func scanJobRow(rows scannable) (Job, error) {
	return scanJob(rows)
}
