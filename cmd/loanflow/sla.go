package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/container"
	"github.com/garyjia/loan-workflow/internal/infrastructure/worker"
)

func newSLACommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sla",
		Short: "SLA maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Run one SLA sweep: flag breaches and escalate overdue instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ccfg := cfg.ToContainerConfig()
			sweeperCfg := container.SweeperConfig(ccfg)

			// no background sweeper next to the one-shot run
			ccfg.SLA.Enabled = false

			c, err := container.NewContainer(ccfg, logger)
			if err != nil {
				return err
			}
			if err := c.Start(cmd.Context()); err != nil {
				return err
			}
			defer c.Close()

			sweeper := worker.NewSLASweeper(sweeperCfg, c.WorkflowEngine(), logger.Named("sla"))
			result, err := sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}

			logger.Info("One-shot SLA sweep finished",
				zap.Int("scanned", result.Scanned),
				zap.Int("breached", result.Breached),
				zap.Int("escalated", result.Escalated))
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, breached %d, escalated %d, skipped %d, failed %d\n",
				result.Scanned, result.Breached, result.Escalated, result.Skipped, result.Failed)
			return nil
		},
	})

	return cmd
}
