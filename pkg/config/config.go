package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for biomark-engine.
// Configuration can come from YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values. Secrets
// (the database password) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// UploadDir is where uploaded spreadsheets are stored. Import file URLs
	// are resolved relative to this directory.
	UploadDir string `yaml:"upload_dir" env:"UPLOAD_DIR" env-default:"uploads"`

	// MigrationsPath is the directory containing SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Import pipeline tuning
	Import ImportConfig `yaml:"import"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"biomark"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"biomark_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ImportConfig holds the bulk-import engine's tuning knobs.
type ImportConfig struct {
	// BatchSize is the number of rows processed between job-control checks
	// and progress persists.
	BatchSize int `yaml:"batch_size" env:"IMPORT_BATCH_SIZE" env-default:"100"`
	// FlushSize is the number of buffered result cells that triggers a
	// bulk flush.
	FlushSize int `yaml:"flush_size" env:"IMPORT_FLUSH_SIZE" env-default:"500"`
	// ConsecutiveErrorThreshold pauses a job after this many row failures
	// in a row.
	ConsecutiveErrorThreshold int `yaml:"consecutive_error_threshold" env:"IMPORT_CONSECUTIVE_ERROR_THRESHOLD" env-default:"10"`
	// PreviewRowLimit caps the per-row detail returned by import previews.
	PreviewRowLimit int `yaml:"preview_row_limit" env:"IMPORT_PREVIEW_ROW_LIMIT" env-default:"100"`
	// ProgressInterval is how many rows a streaming import processes
	// between progress events.
	ProgressInterval int `yaml:"progress_interval" env:"IMPORT_PROGRESS_INTERVAL" env-default:"25"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. If config.yaml does not exist, environment variables and
// defaults alone are used.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
