// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for the mirror database and staging dirs (always absolute)
	PredictorURL string // Base URL of the remote prediction service
	LogLevel     string
	Port         int
	DevMode      bool

	// Request handling
	RequestTimeoutSeconds int // Timeout for individual backend calls

	// Janitor
	RowRetentionDays int // Closed-session rows older than this are pruned (0 = keep forever)

	// Backup holds cloud backup configuration (nil-equivalent when Enabled is false)
	Backup BackupConfig
}

// BackupConfig holds R2/S3 backup settings. The endpoint is any
// S3-compatible endpoint; Cloudflare R2 in the default deployment.
type BackupConfig struct {
	Enabled       bool
	Endpoint      string
	AccessKeyID   string
	SecretKey     string
	Bucket        string
	RetentionDays int
	Schedule      string // cron spec for the backup job
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// .env loading is done by the caller (main) before Load so tests can
	// control the environment directly.

	// Determine data directory with fallback logic:
	// 1. Check CROUPIER_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path
	// 4. Ensure directory exists
	dataDir := getEnv("CROUPIER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:               absDataDir,
		Port:                  getEnvAsInt("CROUPIER_PORT", 8090),
		DevMode:               getEnvAsBool("DEV_MODE", false),
		PredictorURL:          getEnv("PREDICTOR_SERVICE_URL", "http://localhost:8000"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		RequestTimeoutSeconds: getEnvAsInt("PREDICTOR_TIMEOUT_SECONDS", 30),
		RowRetentionDays:      getEnvAsInt("ROW_RETENTION_DAYS", 90),
		Backup: BackupConfig{
			Enabled:       getEnvAsBool("BACKUP_ENABLED", false),
			Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKeyID:   getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretKey:     getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Bucket:        getEnv("BACKUP_S3_BUCKET", "croupier-backups"),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
			Schedule:      getEnv("BACKUP_SCHEDULE", "0 4 * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.PredictorURL == "" {
		return fmt.Errorf("PREDICTOR_SERVICE_URL must not be empty")
	}
	if c.Backup.Enabled {
		if c.Backup.Endpoint == "" || c.Backup.AccessKeyID == "" || c.Backup.SecretKey == "" {
			return fmt.Errorf("backup enabled but S3 endpoint/credentials are not configured")
		}
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
