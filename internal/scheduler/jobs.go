package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/croupier/internal/domain"
	"github.com/aristath/croupier/internal/events"
	"github.com/rs/zerolog"
)

// HealthMonitor polls the prediction service and publishes an event
// whenever reachability flips. The dashboard uses it to grey out controls
// while the backend is down.
type HealthMonitor struct {
	client domain.PredictorClient
	bus    *events.Bus
	log    zerolog.Logger

	mu        sync.Mutex
	known     bool
	reachable bool
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(client domain.PredictorClient, bus *events.Bus, log zerolog.Logger) *HealthMonitor {
	return &HealthMonitor{
		client: client,
		bus:    bus,
		log:    log.With().Str("job", "health").Logger(),
	}
}

// Run performs one poll. Only transitions are published.
func (m *HealthMonitor) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	reachable := m.client.IsReachable(ctx)

	m.mu.Lock()
	changed := !m.known || reachable != m.reachable
	m.known = true
	m.reachable = reachable
	m.mu.Unlock()

	if !changed {
		return nil
	}

	if reachable {
		m.log.Info().Msg("Prediction service reachable")
	} else {
		m.log.Warn().Msg("Prediction service unreachable")
	}

	m.bus.Publish("system", &events.BackendStatusChangedData{
		Reachable: reachable,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// Reachable returns the last observed backend state.
func (m *HealthMonitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known && m.reachable
}

// BackupRunner is satisfied by the reliability backup service.
type BackupRunner interface {
	CreateAndUploadBackup(ctx context.Context) error
	RotateOldBackups(ctx context.Context, retentionDays int) error
}

// BackupJob creates a nightly backup then rotates old ones.
type BackupJob struct {
	backups       BackupRunner
	retentionDays int
	log           zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(backups BackupRunner, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backups:       backups,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Run creates and uploads one backup, then applies retention.
func (j *BackupJob) Run(ctx context.Context) error {
	if err := j.backups.CreateAndUploadBackup(ctx); err != nil {
		return err
	}
	if err := j.backups.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// SessionPruner is satisfied by the session repository.
type SessionPruner interface {
	PruneClosedBefore(cutoff time.Time) (int64, error)
}

// JanitorJob prunes closed sessions older than the retention window from
// the mirror.
type JanitorJob struct {
	sessions      SessionPruner
	retentionDays int
	log           zerolog.Logger
}

// NewJanitorJob creates a new janitor job
func NewJanitorJob(sessions SessionPruner, retentionDays int, log zerolog.Logger) *JanitorJob {
	return &JanitorJob{
		sessions:      sessions,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "janitor").Logger(),
	}
}

// Run deletes closed sessions past retention. Retention 0 disables pruning.
func (j *JanitorJob) Run(_ context.Context) error {
	if j.retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	count, err := j.sessions.PruneClosedBefore(cutoff)
	if err != nil {
		return err
	}
	if count > 0 {
		j.log.Info().Int64("count", count).Msg("Pruned old closed sessions")
	}
	return nil
}
