// Package queue is the durable FIFO job queue and worker loop (C3): durable
// admission, single-flight execution, crash recovery, and fairness.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nullstream/unmutual/internal/db"
	"github.com/nullstream/unmutual/internal/telemetry"
)

// tickLockKey gates a single worker tick at a time across replicas sharing
// the same redis instance: only the replica that wins the SETNX advances
// past recovery/claim for that tick, the rest sit it out.
const tickLockKey = "unmutual:queue:tick-lock"

// ErrInsufficientBalance is returned by Admit when the user has no credit
// left to spend.
var ErrInsufficientBalance = errors.New("insufficient credit balance")

// Processor executes one claimed job end-to-end. Implemented by
// pkg/analysis.
type Processor interface {
	Process(ctx context.Context, job db.Job) error
}

// Queue owns job admission and the worker loop.
type Queue struct {
	pool    *pgxpool.Pool
	queries *db.Queries
	rdb     *redis.Client
	logger  *slog.Logger

	parallelism      int
	tickInterval     time.Duration
	staleTimeout     time.Duration
	compactionPeriod int
}

// Config bundles the Queue's tunables.
type Config struct {
	Parallelism      int
	TickInterval     time.Duration
	StaleTimeout     time.Duration
	CompactionPeriod int
}

// New constructs a Queue. rdb is optional: when nil, every worker replica
// contends for jobs via ClaimNextPendingJob's row locking alone, with no
// tick-level coordination.
func New(pool *pgxpool.Pool, queries *db.Queries, rdb *redis.Client, logger *slog.Logger, cfg Config) *Queue {
	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &Queue{
		pool:             pool,
		queries:          queries,
		rdb:              rdb,
		logger:           logger,
		parallelism:      parallelism,
		tickInterval:     cfg.TickInterval,
		staleTimeout:     cfg.StaleTimeout,
		compactionPeriod: cfg.CompactionPeriod,
	}
}

// acquireTick reports whether this replica should act on the current tick.
// With no redis configured every tick is acquired (single-worker default).
func (q *Queue) acquireTick(ctx context.Context) bool {
	if q.rdb == nil {
		return true
	}
	ok, err := q.rdb.SetNX(ctx, tickLockKey, "1", q.tickInterval).Result()
	if err != nil {
		q.logger.Warn("acquiring queue tick lock", "error", err)
		return true
	}
	return ok
}

// Admit deducts one credit and creates a pending job at the tail of the
// queue, atomically. Returns ErrInsufficientBalance if the user's balance
// cannot cover the debit.
func (q *Queue) Admit(ctx context.Context, userID int64, targetHandle string) (db.Job, error) {
	var job db.Job
	err := db.Tx(ctx, q.pool, func(tx *db.Queries) error {
		if _, err := tx.DecrementBalance(ctx, userID, 1); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInsufficientBalance
			}
			return fmt.Errorf("decrementing balance: %w", err)
		}
		var err error
		job, err = tx.CreateJob(ctx, userID, targetHandle)
		return err
	})
	if err != nil {
		return db.Job{}, err
	}
	telemetry.JobsAdmittedTotal.Inc()
	return job, nil
}

// Refund credits one unit back to the user as part of a failure transition.
// Callers run this in the same transaction as the Job status write.
func (q *Queue) Refund(ctx context.Context, tx *db.Queries, userID int64) error {
	_, err := tx.IncrementBalance(ctx, userID, 1)
	return err
}

// Run drives the worker loop until ctx is cancelled: stale-recovery sweep,
// claim-and-process, periodic compaction.
func (q *Queue) Run(ctx context.Context, processor Processor) {
	ticker := time.NewTicker(q.tickInterval)
	defer ticker.Stop()

	var inFlight atomic.Int64
	tick := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++

			if !q.acquireTick(ctx) {
				continue
			}

			if err := q.recoverStaleJobs(ctx); err != nil {
				q.logger.Error("recovering stale jobs", "error", err)
			}

			if q.compactionPeriod > 0 && tick%q.compactionPeriod == 0 {
				if err := q.queries.CompactQueuePositions(ctx); err != nil {
					q.logger.Error("compacting queue positions", "error", err)
				}
			}

			if inFlight.Load() >= int64(q.parallelism) {
				continue
			}

			job, err := q.queries.ClaimNextPendingJob(ctx)
			if err != nil {
				if !errors.Is(err, pgx.ErrNoRows) {
					q.logger.Error("claiming next pending job", "error", err)
				}
				continue
			}

			inFlight.Add(1)
			go func(j db.Job) {
				defer inFlight.Add(-1)
				start := time.Now()
				if err := processor.Process(ctx, j); err != nil {
					q.logger.Error("processing job", "job_id", j.ID, "error", err)
				}
				telemetry.JobProcessingDuration.Observe(time.Since(start).Seconds())
			}(job)
		}
	}
}

// recoverStaleJobs reclaims and refunds jobs stuck in processing past the
// stale deadline.
func (q *Queue) recoverStaleJobs(ctx context.Context) error {
	deadline := time.Now().Add(-q.staleTimeout)
	return db.Tx(ctx, q.pool, func(tx *db.Queries) error {
		stale, err := tx.RecoverStaleJobs(ctx, deadline)
		if err != nil {
			return fmt.Errorf("recovering stale jobs: %w", err)
		}
		for _, j := range stale {
			if err := q.Refund(ctx, tx, j.UserID); err != nil {
				return fmt.Errorf("refunding stale job %s: %w", j.ID, err)
			}
			telemetry.JobsFailedTotal.WithLabelValues("stale_timeout").Inc()
			q.logger.Warn("recovered stale job", "job_id", j.ID, "user_id", j.UserID)
		}
		return nil
	})
}
