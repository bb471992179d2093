package config

import (
	"github.com/garyjia/bi-workflow/internal/container"
	"github.com/garyjia/bi-workflow/internal/infrastructure/external/kafka"
	"github.com/garyjia/bi-workflow/pkg/utils"
)

// ToContainerConfig converts the file and environment configuration into
// the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Workflow: container.WorkflowConfig{
			DefaultSLA:  c.Workflow.DefaultSLA(),
			SLAScanCron: c.Workflow.SLAScanCron,
			SeedFile:    c.Workflow.SeedFile,
			SystemActor: c.Workflow.SystemActor,
		},
		Directory: container.DirectoryConfig{
			PolicyPath: c.Directory.PolicyPath,
		},
		Kafka: kafka.Config{
			Brokers:      c.Notifications.Kafka.Brokers,
			Topic:        c.Notifications.Kafka.Topic,
			WriteTimeout: c.Notifications.Kafka.WriteTimeout,
		},
		Metrics: container.MetricsConfig{
			Enabled: c.Metrics.Enabled,
			Path:    c.Metrics.Path,
		},
	}
}

// ToLoggerConfig converts the logger section for utils.NewLogger.
func (c *Config) ToLoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
		MaxSizeMB:  c.Logger.MaxSizeMB,
		MaxBackups: c.Logger.MaxBackups,
		MaxAgeDays: c.Logger.MaxAgeDays,
		Compress:   c.Logger.Compress,
	}
}
