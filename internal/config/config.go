package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. LOANFLOW_DATABASE_PATH
const EnvPrefix = "LOANFLOW"

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Committee CommitteeConfig `mapstructure:"committee"`
	SLA       SLAConfig       `mapstructure:"sla"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// WorkflowConfig holds workflow engine configuration
type WorkflowConfig struct {
	AdminRole      string `mapstructure:"admin_role"`
	SystemActor    string `mapstructure:"system_actor"`
	SystemRole     string `mapstructure:"system_role"`
	DefinitionsDir string `mapstructure:"definitions_dir"` // empty uses the built-in seeds
	SeedOnStart    bool   `mapstructure:"seed_on_start"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
}

// CommitteeConfig holds committee review configuration
type CommitteeConfig struct {
	DefaultDeadlineHours int `mapstructure:"default_deadline_hours"`
}

// SLAConfig holds SLA sweeper configuration
type SLAConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	EscalateAfter      time.Duration `mapstructure:"escalate_after"`
	MaxEscalationLevel int           `mapstructure:"max_escalation_level"`
}

// NATSConfig holds event bus configuration. An empty URL disables NATS.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// MetricsConfig holds Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Load loads configuration from an optional YAML file, an optional .env file
// in the working directory and LOANFLOW_* environment variables, in rising
// order of precedence
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Every key needs a default
// so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "data/loanflow.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Workflow defaults
	v.SetDefault("workflow.admin_role", "Admin")
	v.SetDefault("workflow.system_actor", "system")
	v.SetDefault("workflow.system_role", "System")
	v.SetDefault("workflow.definitions_dir", "")
	v.SetDefault("workflow.seed_on_start", true)
	v.SetDefault("workflow.max_attempts", 3)

	// Committee defaults
	v.SetDefault("committee.default_deadline_hours", 72)

	// SLA defaults
	v.SetDefault("sla.enabled", true)
	v.SetDefault("sla.poll_interval", time.Minute)
	v.SetDefault("sla.batch_size", 100)
	v.SetDefault("sla.escalate_after", 4*time.Hour)
	v.SetDefault("sla.max_escalation_level", 3)

	// NATS defaults
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "loanflow")
	v.SetDefault("nats.timeout", 10*time.Second)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9090")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout must not be negative")
	}

	if c.Workflow.SystemActor == "" {
		return fmt.Errorf("workflow.system_actor is required")
	}
	if c.Workflow.SystemRole == "" {
		return fmt.Errorf("workflow.system_role is required")
	}
	if c.Workflow.SystemRole == c.Workflow.AdminRole {
		return fmt.Errorf("workflow.system_role must differ from workflow.admin_role")
	}
	if c.Workflow.MaxAttempts < 1 {
		return fmt.Errorf("workflow.max_attempts must be at least 1")
	}

	if c.Committee.DefaultDeadlineHours <= 0 {
		return fmt.Errorf("committee.default_deadline_hours must be positive")
	}

	if c.SLA.Enabled {
		if c.SLA.PollInterval <= 0 {
			return fmt.Errorf("sla.poll_interval must be positive")
		}
		if c.SLA.BatchSize <= 0 {
			return fmt.Errorf("sla.batch_size must be positive")
		}
		if c.SLA.EscalateAfter < 0 {
			return fmt.Errorf("sla.escalate_after must not be negative")
		}
		if c.SLA.MaxEscalationLevel < 0 {
			return fmt.Errorf("sla.max_escalation_level must not be negative")
		}
	}

	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("nats.subject_prefix is required when nats.url is set")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}

	return nil
}
