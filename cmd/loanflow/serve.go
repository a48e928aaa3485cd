package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/container"
	httpserver "github.com/garyjia/loan-workflow/internal/interfaces/http"
	"github.com/garyjia/loan-workflow/internal/metrics"
	"github.com/garyjia/loan-workflow/pkg/utils"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow engine, integration handlers and SLA sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("Starting loanflow", zap.String("version", version))

			var opts []container.Option
			if cfg.Metrics.Enabled {
				opts = append(opts, container.WithMetrics(metrics.NewMetrics()))
			}

			c, err := container.NewContainer(cfg.ToContainerConfig(), logger, opts...)
			if err != nil {
				return err
			}
			if err := c.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					logger.Error("Container close failed", zap.Error(err))
				}
			}()

			if !cfg.Metrics.Enabled {
				<-ctx.Done()
				logger.Info("Shutting down...")
				return nil
			}

			ops := httpserver.NewServer(httpserver.ServerConfig{
				Address:      cfg.Metrics.Address,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
			}, c, nil, utils.NewKeyValueLogger(logger.Named("http")))

			if err := ops.Start(ctx); err != nil {
				return err
			}

			logger.Info("Shutting down...")
			logger.Info("Server exited successfully")
			return nil
		},
	}
}
