// Package app wires configuration, infrastructure, and domain services into
// the two runtime modes: api (HTTP surface) and worker (queue consumer plus
// session-maintenance schedulers).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/nullstream/unmutual/internal/config"
	"github.com/nullstream/unmutual/internal/crypto"
	"github.com/nullstream/unmutual/internal/db"
	"github.com/nullstream/unmutual/internal/httpserver"
	"github.com/nullstream/unmutual/internal/platform"
	"github.com/nullstream/unmutual/internal/telemetry"
	"github.com/nullstream/unmutual/pkg/admin"
	"github.com/nullstream/unmutual/pkg/analysis"
	"github.com/nullstream/unmutual/pkg/notify"
	"github.com/nullstream/unmutual/pkg/payment"
	"github.com/nullstream/unmutual/pkg/queue"
	"github.com/nullstream/unmutual/pkg/session"
	"github.com/nullstream/unmutual/pkg/session/browser"
	"github.com/nullstream/unmutual/pkg/tariff"
	"github.com/nullstream/unmutual/pkg/upstream"
	"github.com/nullstream/unmutual/pkg/user"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting unmutual", "mode", cfg.Mode)

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	queries := db.New(pool)
	box := crypto.NewBox(cfg.CredentialEncryptionSecret, logger)

	resolveUserDM := func(userID int64) (string, bool) {
		return fmt.Sprintf("%d", userID), true
	}
	notifier := notify.NewSlackTransport(cfg.SlackBotToken, cfg.SlackAdminChannel, resolveUserDM, logger)

	login := &browser.Login{Headless: cfg.BrowserHeadless, NavigationTimeout: cfg.BrowserNavigationTimeout}
	sessionMgr := session.New(queries, &credentialedLogin{login: login, box: box, cfg: cfg}, notifier, box, rdb, logger, session.Config{
		CacheTTL:          cfg.SessionCacheTTL,
		ProactiveWindow:   cfg.SessionProactiveWindow,
		MaxConsecFailures: cfg.SessionMaxConsecutiveFailures,
		StaticFallback:    cfg.SessionStaticFallbackCookie,
	})

	upstreamClient := upstream.New(upstream.Config{
		BaseURL:          cfg.UpstreamBaseURL,
		RequestTimeout:   cfg.UpstreamRequestTimeout,
		DelayMin:         cfg.UpstreamDelayMin,
		DelayMax:         cfg.UpstreamDelayMax,
		MaxRetries:       cfg.UpstreamMaxRetries,
		RetryBackoffBase: cfg.UpstreamRetryBackoffBase,
		PageSize:         cfg.UpstreamPageSize,
	}, sessionMgr)

	jobQueue := queue.New(pool, queries, rdb, logger, queue.Config{
		Parallelism:      cfg.QueueParallelism,
		TickInterval:     cfg.QueueTickInterval,
		StaleTimeout:     cfg.StaleJobTimeout,
		CompactionPeriod: cfg.QueueCompactionPeriod,
	})

	renderer := analysis.NewFileRenderer(cfg.UploadDir)

	pipeline := analysis.New(pool, queries, upstreamClient, sessionMgr, jobQueue, renderer, notifier, logger, analysis.Config{
		StageSpacer: cfg.AnalysisStageSpacer,
	})

	acquirer := payment.AcquirerConfig{
		MerchantLogin: cfg.AcquirerMerchantLogin,
		Password1:     cfg.AcquirerPassword1,
		Password2:     cfg.AcquirerPassword2,
		TestMode:      cfg.AcquirerTestMode,
	}
	paymentSvc := payment.New(pool, queries, notifier, logger)

	userSvc := user.New(queries, cfg)
	tariffSvc := tariff.New(queries)
	adminSvc := admin.New(pool, queries, sessionMgr)

	switch cfg.Mode {
	case "worker":
		return runWorker(ctx, logger, pool, sessionMgr, jobQueue, pipeline, cfg)
	default:
		return runAPI(ctx, cfg, logger, pool, rdb, metricsReg, userSvc, jobQueue, queries, tariffSvc, paymentSvc, acquirer, adminSvc)
	}
}

// credentialedLogin adapts browser.Login to session.Refresher. It ignores the
// username, password and TOTP secret arguments the Refresher receives and
// instead decrypts the single configured credential's secrets from config on
// every refresh attempt.
type credentialedLogin struct {
	login *browser.Login
	box   *crypto.Box
	cfg   *config.Config
}

func (c *credentialedLogin) Login(ctx context.Context, _, _, _ string) (string, error) {
	password, err := c.box.Decrypt(c.cfg.CredentialPasswordCiphertext)
	if err != nil {
		return "", fmt.Errorf("decrypting stored password: %w", err)
	}

	totpSecret := ""
	if c.cfg.CredentialTOTPSecretCiphertext != "" {
		totpSecret, err = c.box.Decrypt(c.cfg.CredentialTOTPSecretCiphertext)
		if err != nil {
			return "", fmt.Errorf("decrypting stored totp secret: %w", err)
		}
	}

	return c.login.Login(ctx, c.cfg.CredentialUsername, password, totpSecret)
}

func runAPI(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	pool *pgxpool.Pool,
	rdb *redis.Client,
	metricsReg *prometheus.Registry,
	userSvc *user.Service,
	jobQueue *queue.Queue,
	queries *db.Queries,
	tariffSvc *tariff.Service,
	paymentSvc *payment.Service,
	acquirer payment.AcquirerConfig,
	adminSvc *admin.Service,
) error {
	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg)

	srv.APIRouter.Mount("/users", user.NewHandler(userSvc, logger).Routes())
	jobHandler := queue.NewHandler(jobQueue, queries, logger)
	srv.APIRouter.Mount("/check", jobHandler.Routes())
	srv.APIRouter.Mount("/checks", jobHandler.Routes())
	srv.APIRouter.Mount("/tariffs", tariff.NewHandler(tariffSvc, logger).Routes())
	srv.APIRouter.Mount("/payments", payment.NewHandler(paymentSvc, tariffSvc, acquirer, logger).Routes())
	srv.APIRouter.Mount("/admin", admin.NewHandler(adminSvc, cfg, logger).Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(
	ctx context.Context,
	logger *slog.Logger,
	pool *pgxpool.Pool,
	sessionMgr *session.Manager,
	jobQueue *queue.Queue,
	pipeline *analysis.Pipeline,
	cfg *config.Config,
) error {
	logger.Info("worker started")

	go sessionMgr.RunProactiveScheduler(ctx, pool, cfg.SessionProactiveCheckInterval)
	go sessionMgr.RunHealthChecks(ctx, cfg.UpstreamBaseURL, cfg.SessionHealthCheckInterval)

	jobQueue.Run(ctx, pipeline)
	return nil
}
