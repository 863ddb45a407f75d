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

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cauldronio/poolsched/config"
	"github.com/cauldronio/poolsched/internal/api"
	"github.com/cauldronio/poolsched/internal/email"
	"github.com/cauldronio/poolsched/internal/health"
	"github.com/cauldronio/poolsched/internal/infrastructure/postgres"
	ctxlog "github.com/cauldronio/poolsched/internal/log"
	"github.com/cauldronio/poolsched/internal/metrics"
	"github.com/cauldronio/poolsched/internal/migrate"
	httptransport "github.com/cauldronio/poolsched/internal/transport/http"
	"github.com/cauldronio/poolsched/internal/transport/http/handler"
	"github.com/cauldronio/poolsched/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

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

	userRepo := postgres.NewUserRepository(pool)
	workerRepo := postgres.NewWorkerRepository(pool, logger)
	tokenRepo := postgres.NewTokenRepository(pool)
	targetRepo := postgres.NewTargetRepository(pool)
	intentionRepo := postgres.NewIntentionRepository(pool, logger)
	scheduledRepo := postgres.NewScheduledIntentionRepository(pool)

	// Auth
	sender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	authUsecase := usecase.NewAuthUsecase(userRepo, sender, []byte(cfg.JWTSecret), cfg.MagicLinkBase)
	authHandler := handler.NewAuthHandler(authUsecase, logger)

	// Analysis pipelines
	analyzer := api.NewAnalyzer(intentionRepo, tokenRepo, targetRepo, logger)
	analyzeHandler := handler.NewAnalyzeHandler(analyzer, logger)

	// Tokens
	tokenUsecase := usecase.NewTokenUsecase(tokenRepo)
	tokenHandler := handler.NewTokenHandler(tokenUsecase, logger)

	// Intentions
	intentionUsecase := usecase.NewIntentionUsecase(intentionRepo)
	intentionHandler := handler.NewIntentionHandler(intentionUsecase, logger)

	// Scheduled intentions
	scheduleUsecase := usecase.NewScheduleUsecase(scheduledRepo)
	scheduledHandler := handler.NewScheduledHandler(scheduleUsecase, logger)

	metrics.Register()
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer)
	checker.Add(health.Database(pool))
	checker.Add(health.WorkerFleet(workerRepo.CountUp))

	srv := http.Server{
		Addr: ":" + cfg.Port,
		Handler: httptransport.NewRouter(
			logger,
			authHandler, analyzeHandler, tokenHandler, intentionHandler, scheduledHandler,
			userRepo, []byte(cfg.JWTSecret),
		),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("api server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
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
