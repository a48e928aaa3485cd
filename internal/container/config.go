// Package container provides dependency injection and lifecycle management
// for the loan workflow service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Workflow engine and integration configuration
	Workflow WorkflowConfig

	// Committee configuration
	Committee CommitteeConfig

	// SLA sweeper configuration
	SLA SLAConfig

	// NATS event bus configuration
	NATS NATSConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long a writer waits for the SQLite write lock
	BusyTimeout time.Duration
}

// WorkflowConfig holds workflow engine settings.
type WorkflowConfig struct {
	// AdminRole is exempt from edge role checks; empty disables the exemption
	AdminRole string

	// SystemActor and SystemRole identify transitions fired by integration handlers
	SystemActor string
	SystemRole  string

	// DefinitionsDir holds YAML definitions; empty uses the built-in seeds
	DefinitionsDir string

	// SeedOnStart saves changed definitions during Start
	SeedOnStart bool

	// MaxAttempts bounds integration retries after a lost race
	MaxAttempts int
}

// CommitteeConfig holds committee review settings.
type CommitteeConfig struct {
	DefaultDeadlineHours int
}

// SLAConfig holds SLA sweeper settings.
type SLAConfig struct {
	Enabled            bool
	PollInterval       time.Duration
	BatchSize          int
	EscalateAfter      time.Duration
	MaxEscalationLevel int
}

// NATSConfig holds NATS settings. An empty URL keeps events in-process.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Timeout       time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "data/loanflow.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			BusyTimeout:  5 * time.Second,
		},
		Workflow: WorkflowConfig{
			AdminRole:   "Admin",
			SystemActor: "system",
			SystemRole:  "System",
			SeedOnStart: true,
			MaxAttempts: 3,
		},
		Committee: CommitteeConfig{
			DefaultDeadlineHours: 72,
		},
		SLA: SLAConfig{
			Enabled:            true,
			PollInterval:       time.Minute,
			BatchSize:          100,
			EscalateAfter:      4 * time.Hour,
			MaxEscalationLevel: 3,
		},
		NATS: NATSConfig{
			SubjectPrefix: "loanflow",
			Timeout:       10 * time.Second,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Workflow.SystemActor == "" || c.Workflow.SystemRole == "" {
		return fmt.Errorf("workflow.system_actor and workflow.system_role are required")
	}
	if c.Committee.DefaultDeadlineHours <= 0 {
		return fmt.Errorf("committee.default_deadline_hours must be positive")
	}
	if c.SLA.Enabled && c.SLA.PollInterval <= 0 {
		return fmt.Errorf("sla.poll_interval must be positive")
	}
	return nil
}
