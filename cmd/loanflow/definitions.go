package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/container"
	"github.com/garyjia/loan-workflow/internal/infrastructure/definition"
)

func newDefinitionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definitions",
		Short: "Validate and seed workflow definitions",
	}

	var dir string
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Definitions directory (default: workflow.definitions_dir, else built-in seeds)")

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load every definition and report its shape",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			wf := cfg.ToContainerConfig().Workflow
			if dir != "" {
				wf.DefinitionsDir = dir
			}

			defs, err := container.ProvideDefinitions(&wf)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, def := range defs {
				terminal := 0
				for _, s := range def.Stages() {
					if s.IsTerminal {
						terminal++
					}
				}
				fmt.Fprintf(out, "%s (%s): %d stages, %d terminal, %d transitions\n",
					def.Name, def.ApplicationType, len(def.Stages()), terminal, len(def.Transitions()))
			}
			fmt.Fprintf(out, "%d definition(s) valid\n", len(defs))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Save definitions whose graph changed as new active versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ccfg := cfg.ToContainerConfig()
			if dir != "" {
				ccfg.Workflow.DefinitionsDir = dir
			}

			defs, err := container.ProvideDefinitions(&ccfg.Workflow)
			if err != nil {
				return err
			}

			bundle, err := container.ProvideDatabase(&ccfg.Database, logger)
			if err != nil {
				return err
			}
			defer bundle.Conn.Close()

			repos, err := container.ProvideRepositories(bundle.TransactionMgr, logger)
			if err != nil {
				return err
			}

			saved, err := definition.Seed(cmd.Context(), repos.Definition, defs, logger)
			if err != nil {
				return err
			}

			logger.Info("Seeding finished", zap.Int("loaded", len(defs)), zap.Int("saved", saved))
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d definition(s) saved\n", saved, len(defs))
			return nil
		},
	})

	return cmd
}
