package config

import (
	"github.com/garyjia/loan-workflow/internal/container"
	"github.com/garyjia/loan-workflow/pkg/utils"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Workflow: container.WorkflowConfig{
			AdminRole:      c.Workflow.AdminRole,
			SystemActor:    c.Workflow.SystemActor,
			SystemRole:     c.Workflow.SystemRole,
			DefinitionsDir: c.Workflow.DefinitionsDir,
			SeedOnStart:    c.Workflow.SeedOnStart,
			MaxAttempts:    c.Workflow.MaxAttempts,
		},
		Committee: container.CommitteeConfig{
			DefaultDeadlineHours: c.Committee.DefaultDeadlineHours,
		},
		SLA: container.SLAConfig{
			Enabled:            c.SLA.Enabled,
			PollInterval:       c.SLA.PollInterval,
			BatchSize:          c.SLA.BatchSize,
			EscalateAfter:      c.SLA.EscalateAfter,
			MaxEscalationLevel: c.SLA.MaxEscalationLevel,
		},
		NATS: container.NATSConfig{
			URL:           c.NATS.URL,
			SubjectPrefix: c.NATS.SubjectPrefix,
			Timeout:       c.NATS.Timeout,
		},
	}
}

// ToLoggerConfig converts the logger section for utils.NewLogger
func (c *Config) ToLoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
	}
}
