// Package analysis is the Analysis Pipeline (C4): it executes one claimed
// job end-to-end against the upstream client and session manager, enforces
// the credit-refund invariant on every non-success terminal transition, and
// guards against upstream responses that would otherwise produce silently
// wrong results.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nullstream/unmutual/internal/db"
	"github.com/nullstream/unmutual/internal/telemetry"
	"github.com/nullstream/unmutual/pkg/notify"
	"github.com/nullstream/unmutual/pkg/upstream"
)

// UpstreamClient is the subset of pkg/upstream.Client the pipeline drives.
type UpstreamClient interface {
	GetProfile(ctx context.Context, handle string) (upstream.Profile, error)
	IterConnections(ctx context.Context, userID string, kind upstream.ConnectionKind, maxItems int, onPage upstream.OnPage) ([]upstream.ConnectionUser, error)
}

// SessionInvalidator is the narrow slice of pkg/session.Manager the anomaly
// guard and SessionExpired handling need.
type SessionInvalidator interface {
	MarkInvalid(ctx context.Context, lastError string) error
}

// Refunder credits a user's balance back inside a caller-supplied
// transaction. Implemented by pkg/queue.Queue.
type Refunder interface {
	Refund(ctx context.Context, tx *db.Queries, userID int64) error
}

// Config bundles the pipeline's tunables.
type Config struct {
	StageSpacer time.Duration
}

// Pipeline implements pkg/queue.Processor for one job at a time.
type Pipeline struct {
	pool     *pgxpool.Pool
	queries  *db.Queries
	client   UpstreamClient
	sessions SessionInvalidator
	queue    Refunder
	renderer Renderer
	notifier notify.Transport
	logger   *slog.Logger
	cfg      Config
}

// New constructs a Pipeline.
func New(pool *pgxpool.Pool, queries *db.Queries, client UpstreamClient, sessions SessionInvalidator, queue Refunder, renderer Renderer, notifier notify.Transport, logger *slog.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		pool:     pool,
		queries:  queries,
		client:   client,
		sessions: sessions,
		queue:    queue,
		renderer: renderer,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// outcomeMessages maps a failure outcome to the abstract, user-visible
// message the spec's failure taxonomy specifies.
var outcomeMessages = map[upstream.Outcome]string{
	upstream.OutcomeUserNotFound:   "Handle not found",
	upstream.OutcomePrivateAccount: "Account is private",
	upstream.OutcomeRateLimited:    "Temporarily blocked; retry later",
	upstream.OutcomeSessionExpired: "Auth problem; being repaired",
	upstream.OutcomeTransient:      "Data fetch error",
}

const (
	messageEmptyResults   = "Couldn't fetch data"
	messageEmptyFollowers = "Couldn't fetch data"
)

// Process runs one job through S0-S7. Any terminal failure refunds the
// submitting user's credit in the same transaction as the status write.
func (p *Pipeline) Process(ctx context.Context, job db.Job) error {
	p.notifyAdminBestEffort(ctx, fmt.Sprintf("job %s started for user %d (@%s)", job.ID, job.UserID, job.TargetHandle))

	profile, err := p.client.GetProfile(ctx, job.TargetHandle)
	if err != nil {
		return p.fail(ctx, job, err)
	}
	p.setProgress(ctx, job.ID, 5)

	// A partial followers fetch must never be paired with a following list,
	// complete or not, so any followers error (including a partial
	// IncompleteDataError) fails the job before following is ever fetched.
	followers, followersErr := p.fetchAll(ctx, job, profile.UserID, upstream.KindFollowers, 10, 50)
	if followersErr != nil {
		return p.fail(ctx, job, followersErr)
	}

	select {
	case <-time.After(p.cfg.StageSpacer):
	case <-ctx.Done():
		return ctx.Err()
	}

	following, followingErr := p.fetchAll(ctx, job, profile.UserID, upstream.KindFollowing, 50, 90)
	if followingErr != nil {
		return p.fail(ctx, job, followingErr)
	}

	p.setProgress(ctx, job.ID, 90)

	if len(followers) == 0 && len(following) == 0 {
		if err := p.sessions.MarkInvalid(ctx, "anomaly guard: empty followers and following"); err != nil {
			p.logger.Error("marking session invalid after anomaly guard", "error", err)
		}
		p.notifyAdminBestEffort(ctx, fmt.Sprintf("anomaly guard tripped for job %s: both lists empty", job.ID))
		return p.failWithMessage(ctx, job, messageEmptyResults, "empty_results", "anomaly guard: empty followers and following")
	}
	if len(followers) == 0 && len(following) > 0 {
		return p.failWithMessage(ctx, job, messageEmptyFollowers, "empty_followers", "anomaly guard: empty followers, non-empty following (likely rate limited)")
	}

	followerSet := make(map[string]upstream.ConnectionUser, len(followers))
	for _, f := range followers {
		followerSet[f.UserID] = f
	}

	nonMutual := make([]db.NonMutualRecord, 0, len(following))
	for _, f := range following {
		_, isMutual := followerSet[f.UserID]
		nonMutual = append(nonMutual, db.NonMutualRecord{
			JobID:             job.ID,
			TargetUserID:      f.UserID,
			TargetHandle:      f.Handle,
			TargetFullName:    f.FullName,
			TargetAvatarURL:   f.AvatarURL,
			UserFollowsTarget: true,
			TargetFollowsUser: isMutual,
			IsMutual:          isMutual,
		})
	}

	nonMutualOnly := filterNonMutual(nonMutual)

	for _, rec := range nonMutualOnly {
		if err := p.queries.InsertNonMutualRecord(ctx, rec); err != nil {
			return p.fail(ctx, job, fmt.Errorf("persisting non-mutual record: %w", err))
		}
	}

	renderFollowers := toRenderUsers(followers)
	renderFollowing := toRenderUsers(following)
	renderNonMutual := toRenderUsersFromRecords(nonMutualOnly)

	p.setProgress(ctx, job.ID, 95)

	artifactPath, _, err := p.renderer.Render(job.ID.String(), job.TargetHandle, renderFollowers, renderFollowing, renderNonMutual)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("rendering artifact: %w", err))
	}

	completed, err := p.queries.CompleteJob(ctx, job.ID, int32(len(followers)), int32(len(following)), int32(len(nonMutualOnly)), artifactPath)
	if err != nil {
		return fmt.Errorf("marking job completed: %w", err)
	}

	telemetry.JobsCompletedTotal.Inc()

	p.notifyUserBestEffort(ctx, job.UserID, fmt.Sprintf("Analysis of @%s complete: %d non-mutual connections found.", job.TargetHandle, len(nonMutualOnly)))
	p.notifyDocumentBestEffort(ctx, job.UserID, artifactPath, job.TargetHandle+".xlsx")
	p.notifyAdminBestEffort(ctx, fmt.Sprintf("job %s completed for user %d: %d/%d/%d (followers/following/non-mutual)",
		completed.ID, job.UserID, len(followers), len(following), len(nonMutualOnly)))

	return nil
}

func filterNonMutual(records []db.NonMutualRecord) []db.NonMutualRecord {
	out := make([]db.NonMutualRecord, 0, len(records))
	for _, r := range records {
		if !r.IsMutual {
			out = append(out, r)
		}
	}
	return out
}

func toRenderUsers(users []upstream.ConnectionUser) []upstreamUser {
	out := make([]upstreamUser, len(users))
	for i, u := range users {
		out[i] = upstreamUser{Handle: u.Handle, FullName: u.FullName}
	}
	return out
}

func toRenderUsersFromRecords(records []db.NonMutualRecord) []upstreamUser {
	out := make([]upstreamUser, len(records))
	for i, r := range records {
		out[i] = upstreamUser{Handle: r.TargetHandle, FullName: r.TargetFullName}
	}
	return out
}

// fetchAll wraps IterConnections with a progress callback that maps the
// fetched count onto the [loPct, hiPct] window.
func (p *Pipeline) fetchAll(ctx context.Context, job db.Job, targetUserID string, kind upstream.ConnectionKind, loPct, hiPct int32) ([]upstream.ConnectionUser, error) {
	onPage := func(fetched, totalEstimate int) {
		pct := loPct
		if totalEstimate > 0 {
			span := hiPct - loPct
			pct = loPct + int32(float64(span)*float64(fetched)/float64(totalEstimate))
			if pct > hiPct {
				pct = hiPct
			}
		}
		p.setProgress(ctx, job.ID, pct)
	}
	return p.client.IterConnections(ctx, targetUserID, kind, 0, onPage)
}

func (p *Pipeline) setProgress(ctx context.Context, jobID uuid.UUID, pct int32) {
	if err := p.queries.UpdateJobProgress(ctx, jobID, pct); err != nil {
		p.logger.Error("updating job progress", "job_id", jobID, "error", err)
	}
}

// fail classifies err into the failure taxonomy, fails the job and refunds
// the user's credit in one transaction.
func (p *Pipeline) fail(ctx context.Context, job db.Job, err error) error {
	outcome, detail := classify(err)
	message, ok := outcomeMessages[outcome]
	if !ok {
		message = "Data fetch error"
	}

	if outcome == upstream.OutcomeSessionExpired {
		if merr := p.sessions.MarkInvalid(ctx, detail); merr != nil {
			p.logger.Error("marking session invalid after session-expired outcome", "error", merr)
		}
	}

	return p.failWithMessage(ctx, job, message, string(outcome), detail)
}

// failWithMessage fails the job and refunds its user in one transaction.
// reasonLabel is a bounded taxonomy value, never the free-form detail
// string, so it stays safe as a Prometheus label.
func (p *Pipeline) failWithMessage(ctx context.Context, job db.Job, message, reasonLabel, detail string) error {
	txErr := db.Tx(ctx, p.pool, func(tx *db.Queries) error {
		if _, err := tx.FailJob(ctx, job.ID, message); err != nil {
			return fmt.Errorf("failing job: %w", err)
		}
		if err := p.queue.Refund(ctx, tx, job.UserID); err != nil {
			return fmt.Errorf("refunding user: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	telemetry.JobsFailedTotal.WithLabelValues(reasonLabel).Inc()
	p.notifyUserBestEffort(ctx, job.UserID, fmt.Sprintf("Analysis of @%s failed: %s", job.TargetHandle, message))
	p.notifyAdminBestEffort(ctx, fmt.Sprintf("job %s failed for user %d: %s (%s)", job.ID, job.UserID, message, detail))
	return nil
}

func classify(err error) (upstream.Outcome, string) {
	var oe *upstream.OutcomeError
	if errors.As(err, &oe) {
		return oe.Outcome, oe.Error()
	}
	var ide *upstream.IncompleteDataError
	if errors.As(err, &ide) {
		return ide.Outcome, ide.Error()
	}
	return upstream.OutcomeTransient, err.Error()
}

func (p *Pipeline) notifyUserBestEffort(ctx context.Context, userID int64, body string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.SendText(ctx, userID, body); err != nil {
		p.logger.Warn("notifying user failed", "user_id", userID, "error", err)
	}
}

func (p *Pipeline) notifyDocumentBestEffort(ctx context.Context, userID int64, path, caption string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.SendDocument(ctx, userID, path, caption); err != nil {
		p.logger.Warn("sending document to user failed", "user_id", userID, "error", err)
	}
}

func (p *Pipeline) notifyAdminBestEffort(ctx context.Context, message string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.SendAdmin(ctx, message); err != nil {
		p.logger.Warn("notifying admin failed", "error", err)
	}
}
