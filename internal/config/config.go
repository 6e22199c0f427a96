// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration. It is constructed once at startup
// and passed by reference into every component that needs it.
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Optimizer policy
	AcceptInaccurate bool // accept optimal_inaccurate solver statuses

	// Scheduled rebalancing
	RebalanceSchedule string   // cron spec, empty disables the job
	Universe          []string // symbols the scheduled job optimizes over
	Benchmark         string   // benchmark symbol for scenarios and betas
	ScenarioWindow    int      // number of trailing scenarios per problem
	BetaWindow        int      // number of trailing returns for beta estimation

	// Default optimizer hyperparameters for the scheduled job
	LambdaLPM1         float64
	LambdaCVaR         float64
	LambdaBeta         float64
	Kappa              float64
	CVaRAlpha          float64
	BetaTarget         float64
	RebalanceThreshold float64

	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup storage settings. Backups are
// disabled unless all connection fields are present.
type BackupConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Schedule        string // cron spec for the backup job
	Retention       int    // number of backups to keep
}

// Enabled reports whether backups are fully configured.
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Endpoint != "" && b.AccessKeyID != "" && b.SecretAccessKey != "" && b.Bucket != ""
}

// Load reads configuration from environment variables (.env supported).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("REBALANCER_DATA_DIR", "")
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
		DataDir:           absDataDir,
		Port:              getEnvAsInt("PORT", 8010),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		AcceptInaccurate:  getEnvAsBool("OPTIMIZER_ACCEPT_INACCURATE", true),
		RebalanceSchedule: getEnv("REBALANCE_SCHEDULE", ""),
		Universe:          getEnvAsList("REBALANCER_UNIVERSE"),
		Benchmark:         getEnv("REBALANCER_BENCHMARK", "SPY"),
		ScenarioWindow:    getEnvAsInt("SCENARIO_WINDOW", 250),
		BetaWindow:        getEnvAsInt("BETA_WINDOW", 250),

		LambdaLPM1:         getEnvAsFloat("LAMBDA_LPM1", 1.0),
		LambdaCVaR:         getEnvAsFloat("LAMBDA_CVAR", 1.0),
		LambdaBeta:         getEnvAsFloat("LAMBDA_BETA", 0.5),
		Kappa:              getEnvAsFloat("KAPPA", 0.05),
		CVaRAlpha:          getEnvAsFloat("CVAR_ALPHA", 0.95),
		BetaTarget:         getEnvAsFloat("BETA_TARGET", 1.0),
		RebalanceThreshold: getEnvAsFloat("REBALANCE_THRESHOLD", 0.0),
		Backup: &BackupConfig{
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Schedule:        getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
			Retention:       getEnvAsInt("BACKUP_RETENTION", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that would otherwise surface much later.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ScenarioWindow <= 0 {
		return fmt.Errorf("scenario window must be positive, got %d", c.ScenarioWindow)
	}
	if c.BetaWindow <= 0 {
		return fmt.Errorf("beta window must be positive, got %d", c.BetaWindow)
	}
	if c.CVaRAlpha <= 0 || c.CVaRAlpha >= 1 {
		return fmt.Errorf("cvar alpha must be in (0, 1), got %g", c.CVaRAlpha)
	}
	if c.RebalanceSchedule != "" && len(c.Universe) == 0 {
		return fmt.Errorf("scheduled rebalancing requires REBALANCER_UNIVERSE")
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvAsList parses a comma-separated environment variable, trimming
// whitespace and dropping empty entries.
func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
