package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/pipeline"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and run the operation preflight checks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx := cmd.Context()
		mon, err := buildMonitor(ctx, cfg, logger)
		if err != nil {
			return err
		}
		if err := pipeline.PreflightAll(ctx, mon.stages); err != nil {
			return err
		}
		if err := pipeline.PostflightAll(ctx, mon.stages); err != nil {
			logger.Warn("postflight failed", zap.Error(err))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: engine %s, %d operations ok\n",
			cfg.Name, mon.engine.Name(), len(mon.stages))
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVarP(&configFile, "config", "c", "filemon.yml", "path to the monitor configuration")
}
