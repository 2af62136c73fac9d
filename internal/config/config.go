package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv           string
	Port              string
	JWTSecret         string
	AdminEmail        string
	AdminPasswordHash string
	TrustProxy        bool
	Database          DatabaseConfig
	Snapshot          SnapshotConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string // postgres (default) or sqlite
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Path     string // sqlite file path
	Alter    bool
}

// SnapshotConfig controls where collection snapshots are written
type SnapshotConfig struct {
	Dir    string
	Format string // json, yaml
	S3     S3MirrorConfig
}

// S3MirrorConfig configures the optional off-site copy of every snapshot
type S3MirrorConfig struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // set for MinIO and other S3-compatible stores
	User     string
	Password string
}

// Enabled reports whether an S3 mirror has been configured
func (c S3MirrorConfig) Enabled() bool {
	return c.Bucket != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	cfg := &Config{
		NodeEnv:           getEnv("NODE_ENV", "development"),
		Port:              getEnv("PORT", "3210"),
		JWTSecret:         jwtSecret,
		AdminEmail:        os.Getenv("ADMIN_EMAIL"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		TrustProxy:        getBoolEnv("TRUST_PROXY", false),
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "trainingcms"),
			Path:     getEnv("SQLITE_PATH", "./data/trainingcms.db"),
			Alter:    getEnv("DB_ALTER", "false") == "true",
		},
		Snapshot: SnapshotConfig{
			Dir:    getEnv("SNAPSHOT_DIR", "./data/snapshots"),
			Format: getEnv("SNAPSHOT_FORMAT", "json"),
			S3: S3MirrorConfig{
				Bucket:   os.Getenv("SNAPSHOT_S3_BUCKET"),
				Prefix:   getEnv("SNAPSHOT_S3_PREFIX", "snapshots"),
				Region:   getEnv("SNAPSHOT_S3_REGION", "us-east-1"),
				Endpoint: os.Getenv("SNAPSHOT_S3_ENDPOINT"),
				User:     os.Getenv("SNAPSHOT_S3_USER"),
				Password: os.Getenv("SNAPSHOT_S3_PASSWORD"),
			},
		},
	}

	if cfg.Snapshot.Format != "json" && cfg.Snapshot.Format != "yaml" {
		return nil, fmt.Errorf("SNAPSHOT_FORMAT must be json or yaml, got %q", cfg.Snapshot.Format)
	}
	if cfg.Database.Driver != "postgres" && cfg.Database.Driver != "sqlite" {
		return nil, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", cfg.Database.Driver)
	}

	return cfg, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}
