package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nadmax/taskboard/internal/asana"
	"github.com/nadmax/taskboard/internal/config"
	"github.com/nadmax/taskboard/internal/logging"
	"github.com/nadmax/taskboard/internal/queue"
	"github.com/nadmax/taskboard/internal/repository"
	"github.com/nadmax/taskboard/internal/statusduration"
	"github.com/nadmax/taskboard/internal/worker"
	"github.com/nadmax/taskboard/internal/worker/handlers"
	"go.uber.org/zap"
)

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
		logger.Error("worker exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.ValidateWorker(); err != nil {
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
			logger.Warn("failed to close worker queue", zap.Error(err))
		}
	}()

	client := asana.NewClient(cfg.Asana.Token,
		asana.WithBaseURL(cfg.Asana.BaseURL),
		asana.WithHTTPClient(&http.Client{Timeout: cfg.Asana.Timeout}),
	)
	syncer := handlers.NewSyncer(client, repo, logger)
	reports := handlers.NewReportGenerator(repo, statusduration.NewEngine(), q, cfg.Report.OutputPath, cfg.OutlierLimit(), logger)

	w := worker.NewWorker(cfg.Worker.ID, q, logger)
	w.SetPollInterval(cfg.Worker.PollInterval)
	w.RegisterHandler(queue.TypeSyncProject, syncer.SyncHandler)
	w.RegisterHandler(queue.TypeGenerateReport, reports.GenerateReportHandler)

	if cfg.Report.SendGridAPIKey != "" {
		sender := handlers.NewEmailSender(cfg.Report.SendGridAPIKey, cfg.Report.FromAddress, cfg.Report.FromName, logger)
		w.RegisterHandler(queue.TypeSendEmail, sender.SendEmailHandler)
	} else {
		logger.Warn("SENDGRID_API_KEY not set; send_email jobs will be dead-lettered")
	}

	logger.Info("worker starting",
		zap.String("worker_id", cfg.Worker.ID),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("report_output_path", cfg.Report.OutputPath),
	)

	w.Start(ctx)
	logger.Info("worker shut down")

	return nil
}
