package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/warden-bot/warden/internal/app"
	"github.com/warden-bot/warden/internal/bot"
	"github.com/warden-bot/warden/internal/exif"
	"github.com/warden-bot/warden/internal/observability"
	"github.com/warden-bot/warden/internal/rbac"
	"github.com/warden-bot/warden/internal/telegram"
	"github.com/warden-bot/warden/jobs"
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

	table, err := rbac.LoadRoleTable(cfg.RulesPath)
	if err != nil {
		logger.Error("load role table", slog.Any("error", err))
		os.Exit(1)
	}
	registry, err := rbac.OpenRegistry(cfg.UsersPath)
	if err != nil {
		logger.Error("open user registry", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("rbac loaded",
		slog.Int("roles", table.Len()), slog.Int("users", registry.Len()),
		slog.Int("operators", len(cfg.Operators())))

	metrics := observability.NewMetrics()
	engine := rbac.NewService(logger, table, registry, cfg.Operators())
	engine.OnPersist(metrics.RegistryPersistHook())

	client := telegram.NewClient(telegram.ClientConfig{
		BaseURL:     cfg.APIBaseURL,
		Token:       cfg.BotToken,
		PollTimeout: cfg.PollTimeout,
		PollMargin:  cfg.PollMargin,
		Logger:      logger,
	})

	extractor := exif.NewExtractor(cfg.ExiftoolPath, logger)
	runner := &jobs.Runner{Files: client, Extractor: extractor, Logger: logger}

	// Redis powers the upload-flow TTL store and the extraction queue; when
	// it is unreachable the bot degrades to in-memory state and inline
	// extraction.
	var (
		flows      bot.FlowStore
		queue      bot.MetadataQueue
		jobHandler *jobs.Handler
	)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, degrading to in-memory state", slog.Any("error", err))
		flows = bot.NewMemoryFlowStore(cfg.UploadFlowTTL)
	} else {
		flows = bot.NewRedisFlowStore(redisClient, cfg.UploadFlowTTL)
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		jobClient := jobs.NewClient(redisOpts)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		queue = jobClient

		worker, err := jobs.NewWorker(jobs.WorkerConfig{RedisOpts: redisOpts, Logger: logger, Runner: runner})
		if err != nil {
			logger.Error("build worker", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker stopped", slog.Any("error", err))
				stop()
			}
		}()

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	handlers := bot.NewHandlers(bot.HandlersConfig{
		Logger:    logger,
		Messenger: client,
		Flows:     flows,
		Queue:     queue,
		Runner:    runner,
	})
	commands := bot.NewRegistry()
	handlers.RegisterAll(commands)

	dispatcher := bot.NewDispatcher(logger, engine, commands, handlers, metrics)
	poller := bot.NewPoller(logger, client, dispatcher, metrics, cfg.PollBackoff)

	opsServer := &http.Server{
		Addr: cfg.OpsAddr,
		Handler: app.NewRouter(app.RouterParams{
			Logger:     logger,
			Config:     cfg,
			Metrics:    metrics,
			JobHandler: jobHandler,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("starting ops server", slog.String("addr", cfg.OpsAddr))
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server", slog.Any("error", err))
			stop()
		}
	}()

	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poller stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
