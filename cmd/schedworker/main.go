package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cauldronio/poolsched/config"
	"github.com/cauldronio/poolsched/internal/health"
	"github.com/cauldronio/poolsched/internal/infrastructure/postgres"
	ctxlog "github.com/cauldronio/poolsched/internal/log"
	"github.com/cauldronio/poolsched/internal/metrics"
	"github.com/cauldronio/poolsched/internal/migrate"
	"github.com/cauldronio/poolsched/internal/runner"
	"github.com/cauldronio/poolsched/internal/sched"
)

const janitorInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := migrate.Apply(ctx, pool, logger); err != nil {
		stop()
		log.Fatalf("migrate: %v", err)
	}

	for _, dir := range []string{cfg.JobLogsDir, cfg.GitReposPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			stop()
			log.Fatalf("create %s: %v", dir, err)
		}
	}

	metrics.Register()
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer)
	checker.Add(health.Database(pool))

	workerRepo := postgres.NewWorkerRepository(pool, logger)
	jobRepo := postgres.NewJobRepository(pool, logger)
	intentionRepo := postgres.NewIntentionRepository(pool, logger)
	tokenRepo := postgres.NewTokenRepository(pool)
	scheduledRepo := postgres.NewScheduledIntentionRepository(pool)
	targetRepo := postgres.NewTargetRepository(pool)

	taskRunner := runner.NewExecRunner(cfg.RunnerBin, cfg.GitReposPath, cfg.ElasticURL)
	executor := sched.NewExecutor(targetRepo, tokenRepo, jobRepo, taskRunner, cfg.JobLogsDir, logger)
	materializer := sched.NewMaterializer(scheduledRepo, intentionRepo, targetRepo, logger)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	worker := sched.NewWorker(
		workerRepo, jobRepo, intentionRepo, tokenRepo,
		executor, materializer, hostname, logger,
		sched.Options{
			IdleSleep:      cfg.IdleSleep(),
			MaxUsers:       cfg.MaxUsersPerTick,
			MaxIntentions:  cfg.MaxIntentionsPerTick,
			FinishWhenIdle: cfg.FinishWhenIdle,
		},
	)

	if cfg.JanitorEnabled {
		janitor := sched.NewJanitor(workerRepo, janitorInterval, cfg.WorkerTTL(), logger)
		go janitor.Start(ctx)
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	// Blocks until shutdown, or until the queue drains with
	// FINISH_WHEN_IDLE set.
	if err := worker.Start(ctx); err != nil {
		logger.Error("worker", "error", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("schedworker shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
