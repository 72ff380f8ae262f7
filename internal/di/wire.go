package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/croupier/internal/clients/predictor"
	"github.com/aristath/croupier/internal/config"
	"github.com/aristath/croupier/internal/database"
	"github.com/aristath/croupier/internal/events"
	"github.com/aristath/croupier/internal/modules/checkpoints"
	"github.com/aristath/croupier/internal/modules/datasets"
	"github.com/aristath/croupier/internal/modules/session"
	"github.com/aristath/croupier/internal/modules/stats"
	"github.com/aristath/croupier/internal/reliability"
	"github.com/aristath/croupier/internal/scheduler"
)

// Wire initializes all dependencies and returns a fully configured container
// This is the main entry point for dependency injection
// Order of operations:
// 1. Initialize the mirror database
// 2. Initialize the predictor client
// 3. Initialize services
// 4. Register background jobs
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// Step 1: Mirror database
	mirrorDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "mirror.db"),
		Profile: database.ProfileMirror,
		Name:    "mirror",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mirror database: %w", err)
	}
	container.MirrorDB = mirrorDB

	if err := mirrorDB.Migrate(); err != nil {
		mirrorDB.Close()
		return nil, fmt.Errorf("failed to migrate mirror database: %w", err)
	}

	// Step 2: Event bus and predictor client
	container.EventBus = events.NewBus(log)

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	container.PredictorClient = predictor.NewClient(cfg.PredictorURL, timeout, log)

	// Step 3: Repositories and services
	container.SessionRepo = session.NewRepository(mirrorDB.Conn(), log)

	container.SessionService = session.NewService(container.PredictorClient, container.SessionRepo, container.EventBus, log)
	container.StatsService = stats.NewService(log)
	container.DatasetsService = datasets.NewService(container.PredictorClient, container.EventBus, log)
	container.CheckpointsService = checkpoints.NewService(container.PredictorClient, container.EventBus, log)

	// Any session left active by a crash is demoted before serving traffic.
	if err := container.SessionService.RestoreOnStartup(); err != nil {
		log.Warn().Err(err).Msg("Failed to demote stale sessions on startup")
	}

	// Step 4: Backups (optional)
	if cfg.Backup.Enabled {
		r2Client, err := reliability.NewR2Client(context.Background(), reliability.R2Config{
			Endpoint:    cfg.Backup.Endpoint,
			AccessKeyID: cfg.Backup.AccessKeyID,
			SecretKey:   cfg.Backup.SecretKey,
			Bucket:      cfg.Backup.Bucket,
		}, log)
		if err != nil {
			mirrorDB.Close()
			return nil, fmt.Errorf("failed to initialize R2 client: %w", err)
		}
		container.R2Client = r2Client
		container.BackupService = reliability.NewBackupService(
			r2Client,
			mirrorDB.Conn(),
			container.SessionRepo,
			cfg.DataDir,
			container.EventBus,
			log,
		)
	}

	// Step 5: Background jobs
	if err := registerJobs(container, cfg, log); err != nil {
		mirrorDB.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	return container, nil
}

// registerJobs wires the cron scheduler with health, backup and janitor jobs
func registerJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	sched := scheduler.New(log)
	container.Scheduler = sched

	container.HealthMonitor = scheduler.NewHealthMonitor(container.PredictorClient, container.EventBus, log)
	if err := sched.AddJob("backend_health", "@every 30s", container.HealthMonitor.Run); err != nil {
		return err
	}

	if container.BackupService != nil {
		backupJob := scheduler.NewBackupJob(container.BackupService, cfg.Backup.RetentionDays, log)
		if err := sched.AddJob("backup", cfg.Backup.Schedule, backupJob.Run); err != nil {
			return err
		}
	}

	janitor := scheduler.NewJanitorJob(container.SessionRepo, cfg.RowRetentionDays, log)
	if err := sched.AddJob("janitor", "0 3 * * *", janitor.Run); err != nil {
		return err
	}

	return nil
}
