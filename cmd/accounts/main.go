package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-accounts/internal/accounts"
	"github.com/odyssey-erp/odyssey-accounts/internal/app"
	"github.com/odyssey-erp/odyssey-accounts/internal/observability"
	"github.com/odyssey-erp/odyssey-accounts/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-accounts/internal/platform/db"
	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
	"github.com/odyssey-erp/odyssey-accounts/internal/view"
	"github.com/odyssey-erp/odyssey-accounts/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.WithApplicationName("accounts-web"), db.WithMaxConns(cfg.PGMaxConns))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.MigrateOnBoot {
		if err := db.Migrate(ctx, dbpool); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "accounts_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}
	metrics := observability.NewMetrics()

	redisOpts := jobs.RedisOpt(redisClient.Options())
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	mailer := jobs.NewQueueMailer(jobClient, logger)

	repo := accounts.NewRepository(dbpool)
	tokens := accounts.NewTokenGenerator([]byte(cfg.TokenSecret), cfg.TokenTTL)
	auditLogger := shared.NewAuditLogger(dbpool)

	activation := accounts.NewActivationFlow(accounts.ActivationConfig{
		Repo:   repo,
		Tokens: tokens,
		Mailer: mailer,
		Mails:  templates,
		Logger: logger,
		Events: metrics,
		Audit:  auditLogger,
	})
	service := accounts.NewService(repo, activation, accounts.ServiceConfig{
		Tokens: tokens,
		Mailer: mailer,
		Mails:  templates,
		Logger: logger,
		Events: metrics,
		Audit:  auditLogger,
	})
	accountsHandler := accounts.NewHandler(logger, service, templates, sessionManager, csrfManager, cfg.AppBaseURL)
	gate := accounts.NewGate(accounts.DefaultAllowList().Merge(cfg.GateAllowPaths, cfg.GateAllowPrefixes))

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		AccountsHandler: accountsHandler,
		AccountLoader:   service,
		Gate:            gate,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
