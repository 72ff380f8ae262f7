// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/croupier/internal/database"
	"github.com/aristath/croupier/internal/domain"
	"github.com/aristath/croupier/internal/events"
	"github.com/aristath/croupier/internal/modules/checkpoints"
	"github.com/aristath/croupier/internal/modules/datasets"
	"github.com/aristath/croupier/internal/modules/session"
	"github.com/aristath/croupier/internal/modules/stats"
	"github.com/aristath/croupier/internal/reliability"
	"github.com/aristath/croupier/internal/scheduler"
)

// Container holds all initialized dependencies
type Container struct {
	// Infrastructure
	EventBus *events.Bus
	MirrorDB *database.DB

	// Clients
	PredictorClient domain.PredictorClient

	// Repositories
	SessionRepo *session.Repository

	// Services
	SessionService     *session.Service
	StatsService       *stats.Service
	DatasetsService    *datasets.Service
	CheckpointsService *checkpoints.Service

	// Reliability (BackupService is nil when backups are disabled)
	R2Client      *reliability.R2Client
	BackupService *reliability.BackupService

	// Background jobs
	Scheduler     *scheduler.Scheduler
	HealthMonitor *scheduler.HealthMonitor
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.MirrorDB != nil {
		_ = c.MirrorDB.Close()
	}
}
