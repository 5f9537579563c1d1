package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/ylv-consulting/landops/internal/audit"
	"github.com/ylv-consulting/landops/internal/backup"
	"github.com/ylv-consulting/landops/internal/backup/storage"
	"github.com/ylv-consulting/landops/internal/config"
	"github.com/ylv-consulting/landops/internal/scheduler"
	"github.com/ylv-consulting/landops/internal/source"
	"github.com/ylv-consulting/landops/shared/logger"
	"github.com/ylv-consulting/landops/shared/postgresql"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("BACKUP_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/backup-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	runNow := flag.Bool("run-now", false, "Run one backup immediately and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateBackupConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting backup service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	sourceClient := source.NewClient(&source.Config{
		BaseURL:        cfg.Source.BaseURL,
		BaseID:         cfg.Source.BaseID,
		APIKey:         cfg.Source.APIKey,
		RequestTimeout: cfg.Source.RequestTimeout,
		RetryAttempts:  cfg.Source.RetryAttempts,
		RetryInterval:  cfg.Source.RetryInterval,
	}, appLogger.Logger)

	tables := make([]backup.Table, 0, len(cfg.Backup.Tables))
	for _, t := range cfg.Backup.Tables {
		tables = append(tables, backup.Table{
			Name:   t.Name,
			View:   t.View,
			Filter: t.Filter,
			Fields: t.Fields,
		})
	}

	auditor := audit.NewPGRecorder(dbClient.GetDB(), "backup-service")
	manifestStore := storage.NewStorage(dbClient.GetDB())

	runner := backup.NewRunner(
		sourceClient,
		backup.NewArchiveWriter(cfg.Backup.DestinationRoot, cfg.Backup.Overwrite),
		manifestStore,
		auditor,
		tables,
		appLogger.Logger,
	)

	if *runNow {
		appLogger.Info("Running one-off backup")
		runDate := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Backup.RunTimeout)
		defer cancel()
		runErr := runner.Run(ctx, runDate)
		reportManifests(manifestStore, appLogger.Logger, runDate.Format("2006-01-02"))
		return runErr
	}

	runAt, err := config.ParseRunAt(cfg.Backup.RunAt)
	if err != nil {
		return fmt.Errorf("invalid run_at: %w", err)
	}

	sched := scheduler.New(
		runAt.Hour,
		runAt.Minute,
		cfg.Backup.RunTimeout,
		runner.Run,
		auditor,
		appLogger.Logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- sched.Start(ctx)
	}()

	appLogger.Info("Backup service started successfully",
		slog.String("run_at", cfg.Backup.RunAt),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			appLogger.Error("Scheduler error",
				slog.Any("error", err),
			)
			return err
		}
	}

	cancel()
	sched.Wait()

	appLogger.Info("Backup service shutdown complete")
	return nil
}

// reportManifests logs the manifest rows written for one run date so a
// one-off run ends with a per-table summary. Uses a fresh context: the run's
// own context may already be expired.
func reportManifests(store *storage.Storage, logger *slog.Logger, runDate string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	manifests, err := store.ListManifests(ctx, runDate)
	if err != nil {
		logger.Error("Failed to list manifests", slog.Any("error", err))
		return
	}

	for _, m := range manifests {
		logger.Info("Manifest",
			slog.String("table", m.TableName),
			slog.String("status", m.Status),
			slog.Int("record_count", m.RecordCount),
			slog.String("archive_path", m.ArchivePath),
			slog.String("checksum", m.Checksum),
			slog.String("error", m.ErrorMessage),
		)
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}
