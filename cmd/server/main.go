package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/taskboard/internal/api"
	"github.com/nadmax/taskboard/internal/auth"
	"github.com/nadmax/taskboard/internal/config"
	"github.com/nadmax/taskboard/internal/dashboard"
	"github.com/nadmax/taskboard/internal/logging"
	"github.com/nadmax/taskboard/internal/queue"
	"github.com/nadmax/taskboard/internal/repository"
	"github.com/nadmax/taskboard/internal/statusduration"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresTaskRepository(cfg.Postgres.DSN, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("failed to close Postgres repository", zap.Error(err))
		}
	}()

	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	q, err := queue.NewQueue(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer func() {
		if err := q.Close(); err != nil {
			logger.Warn("failed to close server queue", zap.Error(err))
		}
	}()

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	dash := dashboard.NewDashboard(repo, statusduration.NewEngine(), cfg.OutlierLimit(), logger)

	apiHandler := api.NewAPI(api.Options{
		Queue:       q,
		Dashboard:   dash,
		Sessions:    auth.NewSessionHandler(cfg.Auth.SharedPassword, jwtManager, cfg.Auth.SecureCookie, logger),
		JWT:         jwtManager,
		ProjectGIDs: cfg.Asana.ProjectIDs,
		WebDir:      cfg.Server.WebDir,
		Logger:      logger,
	})

	go startMetricsCollector(ctx, q, logger)
	go startSyncScheduler(ctx, q, cfg.Asana.ProjectIDs, cfg.Sync.Interval, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("redis_addr", cfg.Redis.Addr),
			zap.Strings("projects", cfg.Asana.ProjectIDs),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
