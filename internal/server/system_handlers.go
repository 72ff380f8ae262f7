package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/croupier/internal/config"
	"github.com/aristath/croupier/internal/database"
	"github.com/aristath/croupier/internal/reliability"
	"github.com/aristath/croupier/internal/scheduler"
	"github.com/aristath/croupier/internal/version"
)

// SystemHandlers provides HTTP handlers for system monitoring and backups
type SystemHandlers struct {
	cfg       *config.Config
	mirrorDB  *database.DB
	health    *scheduler.HealthMonitor
	backups   *reliability.BackupService // nil when backups are disabled
	log       zerolog.Logger
	startedAt time.Time
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(cfg *config.Config, mirrorDB *database.DB, health *scheduler.HealthMonitor, backups *reliability.BackupService, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		cfg:       cfg,
		mirrorDB:  mirrorDB,
		health:    health,
		backups:   backups,
		log:       log.With().Str("handler", "system").Logger(),
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers system routes on the router
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/system", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Get("/database/stats", h.HandleDatabaseStats)
		r.Get("/disk", h.HandleDiskUsage)
		r.Get("/backups", h.HandleListBackups)
		r.Post("/backups", h.HandleTriggerBackup)
		r.Get("/backups/{filename}", h.HandleDownloadBackup)
	})
}

// HandleStatus handles GET /api/system/status
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"version":           version.Version,
		"uptime_seconds":    int64(time.Since(h.startedAt).Seconds()),
		"backend_reachable": h.health.Reachable(),
		"system":            h.getSystemStats(),
	}
	h.writeJSON(w, http.StatusOK, status)
}

// getSystemStats returns CPU and memory usage
func (h *SystemHandlers) getSystemStats() map[string]interface{} {
	stats := map[string]interface{}{}

	if percentages, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percentages) > 0 {
		stats["cpu_percent"] = percentages[0]
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		stats["memory_percent"] = vmStat.UsedPercent
		stats["memory_used_mb"] = float64(vmStat.Used) / 1024 / 1024
		stats["memory_total_mb"] = float64(vmStat.Total) / 1024 / 1024
	}

	return stats
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.mirrorDB.GetStats()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get database stats")
		h.writeDetail(w, http.StatusInternalServerError, "Failed to get database stats")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":           h.mirrorDB.Name(),
		"path":           h.mirrorDB.Path(),
		"size_mb":        float64(stats.SizeBytes) / 1024 / 1024,
		"wal_size_mb":    float64(stats.WALSizeBytes) / 1024 / 1024,
		"page_count":     stats.PageCount,
		"page_size":      stats.PageSize,
		"freelist_count": stats.FreelistCount,
	})
}

// HandleDiskUsage handles GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	size, err := getDirSize(h.cfg.DataDir)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to calculate disk usage")
		h.writeDetail(w, http.StatusInternalServerError, "Failed to calculate disk usage")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data_dir": h.cfg.DataDir,
		"size_mb":  float64(size) / 1024 / 1024,
	})
}

// HandleListBackups handles GET /api/system/backups
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeDetail(w, http.StatusServiceUnavailable, "Backups are not configured")
		return
	}

	backups, err := h.backups.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		h.writeDetail(w, http.StatusInternalServerError, "Failed to list backups")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"backups": backups})
}

// HandleTriggerBackup handles POST /api/system/backups
func (h *SystemHandlers) HandleTriggerBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeDetail(w, http.StatusServiceUnavailable, "Backups are not configured")
		return
	}

	if err := h.backups.CreateAndUploadBackup(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Manual backup failed")
		h.writeDetail(w, http.StatusInternalServerError, "Backup failed: "+err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// HandleDownloadBackup handles GET /api/system/backups/{filename}
func (h *SystemHandlers) HandleDownloadBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.writeDetail(w, http.StatusServiceUnavailable, "Backups are not configured")
		return
	}

	filename := chi.URLParam(r, "filename")
	body, err := h.backups.DownloadBackup(r.Context(), filename)
	if err != nil {
		h.log.Error().Err(err).Str("filename", filename).Msg("Failed to download backup")
		h.writeDetail(w, http.StatusNotFound, "Backup not found")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := io.Copy(w, body); err != nil {
		h.log.Warn().Err(err).Str("filename", filename).Msg("Backup download interrupted")
	}
}

// getDirSize calculates the total size of files in a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *SystemHandlers) writeDetail(w http.ResponseWriter, status int, detail string) {
	h.writeJSON(w, status, map[string]string{"detail": detail})
}
