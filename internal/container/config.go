// Package container wires the workflow service together and owns its lifecycle.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/bi-workflow/internal/infrastructure/external/kafka"
)

// Config holds all configuration for the Container.
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Workflow  WorkflowConfig
	Directory DirectoryConfig
	Kafka     kafka.Config
	Metrics   MetricsConfig

	// DisableWorkers skips background workers; one-shot CLI commands set it
	DisableWorkers bool
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is "sqlite" or "memory"
	Driver string

	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// MigrationsDir overrides the embedded migrations when set
	MigrationsDir string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WorkflowConfig holds approval engine settings.
type WorkflowConfig struct {
	DefaultSLA  time.Duration
	SLAScanCron string
	// SeedFile is loaded on start when set
	SeedFile    string
	SystemActor string
}

// DirectoryConfig points at the casbin org policy.
type DirectoryConfig struct {
	PolicyPath string
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "sqlite",
			Path:         "data/workflow.db",
			MaxOpenConns: 4,
			MaxIdleConns: 4,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Workflow: WorkflowConfig{
			DefaultSLA:  48 * time.Hour,
			SLAScanCron: "*/15 * * * *",
			SystemActor: "system",
		},
		Kafka: kafka.Config{
			Topic:        kafka.DefaultTopic,
			WriteTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Workflow.DefaultSLA <= 0 {
		return fmt.Errorf("workflow.default_sla must be positive")
	}
	if c.Workflow.SystemActor == "" {
		return fmt.Errorf("workflow.system_actor is required")
	}

	return nil
}
