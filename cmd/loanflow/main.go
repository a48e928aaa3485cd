package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/config"
	"github.com/garyjia/loan-workflow/pkg/utils"
)

const version = "1.0.0"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "loanflow",
		Short: "Loan workflow engine and credit committee service",
		Long: `loanflow runs the loan approval workflow engine: data-driven stage
definitions, per-application workflow instances with SLA tracking, and
credit committee reviews whose decisions move the workflow.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", getDefaultConfig(), "Path to YAML config file (optional)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newDefinitionsCommand())
	rootCmd.AddCommand(newSLACommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func getDefaultConfig() string {
	if path := os.Getenv(config.EnvPrefix + "_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("configs/config.yaml"); err == nil {
		return "configs/config.yaml"
	}
	return ""
}

// bootstrap loads configuration and builds the logger every command shares
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := utils.NewLogger(cfg.ToLoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, logger, nil
}
