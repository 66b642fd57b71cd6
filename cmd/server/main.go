package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/approvia/expense-workflow/internal/application/approver"
	"github.com/approvia/expense-workflow/internal/application/dispatcher"
	"github.com/approvia/expense-workflow/internal/application/engine"
	"github.com/approvia/expense-workflow/internal/application/orchestrator"
	"github.com/approvia/expense-workflow/internal/application/rules"
	"github.com/approvia/expense-workflow/internal/config"
	"github.com/approvia/expense-workflow/internal/export"
	"github.com/approvia/expense-workflow/internal/infrastructure/persistence/repository"
	"github.com/approvia/expense-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/approvia/expense-workflow/internal/infrastructure/worker"
	httpserver "github.com/approvia/expense-workflow/internal/interfaces/http"
	"github.com/approvia/expense-workflow/internal/notification"
	"github.com/approvia/expense-workflow/migrations"
	"github.com/approvia/expense-workflow/pkg/database"
	"github.com/approvia/expense-workflow/pkg/utils"
)

func main() {
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting expense workflow service",
		zap.String("database", cfg.Database.Path),
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrationsFS(migrations.Files); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	kvLogger := utils.NewKVLogger(logger)

	// Persistence
	expenseRepo := repository.NewExpenseRepository(db.DB, logger)
	ruleRepo := repository.NewRuleRepository(db.DB, logger)
	statusRepo := repository.NewStatusRepository(db.DB, logger)
	userRepo := repository.NewUserRepository(db.DB, logger)
	directory := repository.NewDirectoryRepository(db.DB, logger)
	txManager := sqlite.NewDB(db.DB, logger)

	// Workflow core
	disp := dispatcher.NewDispatcher(
		dispatcher.WithQueueSize(cfg.Workflow.QueueSize),
		dispatcher.WithWorkers(cfg.Workflow.Workers),
		dispatcher.WithLogger(kvLogger),
	)
	catalog := rules.NewCatalog(ruleRepo, directory, txManager, kvLogger)
	resolver := approver.NewResolver(directory)
	eng := engine.NewEngine(expenseRepo, statusRepo, txManager, catalog, resolver, directory, disp, kvLogger)

	orchestrator.NewOrchestrator(eng, kvLogger).Register(disp)

	smtpCfg := notification.Config{
		Enabled:  cfg.SMTP.Enabled,
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}
	notifier := notification.NewApproverNotifier(expenseRepo, userRepo, notification.NewSMTPSender(smtpCfg), smtpCfg, logger)
	notifier.Register(disp)

	// Background workers
	manager := worker.NewManager(logger)
	manager.Register(worker.NewReconciler(expenseRepo, eng, worker.ReconcilerConfig{
		Interval:  cfg.Workflow.ReconcileInterval,
		MinAge:    cfg.Workflow.ReconcileMinAge,
		BatchSize: cfg.Workflow.ReconcileBatchSize,
	}, logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start background workers", zap.Error(err))
	}

	exporter := export.NewAuditExporter(statusRepo, userRepo, logger)

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, eng, catalog, exporter, directory, kvLogger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	cancel()
	if err := manager.StopAll(); err != nil {
		logger.Error("Failed to stop background workers", zap.Error(err))
	}
	if err := disp.Close(); err != nil {
		logger.Error("Failed to close dispatcher", zap.Error(err))
	}

	logger.Info("Server exited")
}
