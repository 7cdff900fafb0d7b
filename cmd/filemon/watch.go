package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/studio1767/filemon/internal/config"
	"github.com/studio1767/filemon/internal/logging"
	"github.com/studio1767/filemon/internal/metrics"
	"github.com/studio1767/filemon/internal/queue"
)

const stopTimeout = 30 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor the configured source and process items as they settle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return watch(ctx, cfg, logger)
	},
}

func init() {
	watchCmd.Flags().StringVarP(&configFile, "config", "c", "filemon.yml", "path to the monitor configuration")
	_ = watchCmd.MarkFlagFilename("config", "yml", "yaml")
}

func watch(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("ensure state directory: %w", err)
	}

	lockPath := filepath.Join(cfg.StateDir, "filemon.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another filemon instance holds %s", lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release lock", zap.Error(err))
		}
	}()

	mon, err := buildMonitor(ctx, cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg, cfg.Name)

	mgr := queue.New(cfg.QueueConfig(), mon.stages,
		queue.WithLogger(logger),
		queue.WithObserver(collector.Observe),
	)
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	logger.Info("monitoring started",
		zap.String("engine", mon.engine.Name()),
		zap.Strings("operations", cfg.OperationTypes()),
		zap.String("lock", lockPath))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.engine.Run(gctx, mgr)
	})
	if cfg.Metrics.Listen != "" {
		server := metrics.NewServer(cfg.Metrics.Listen, reg, logger)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}
	if cfg.Status.Interval > 0 && logging.IsTerminal(os.Stdout) {
		g.Go(func() error {
			return showStatus(gctx, os.Stdout, mgr, cfg.Status.Interval)
		})
	}

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("monitoring failed", zap.Error(runErr))
	}

	stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
	defer stop()
	stopErr := mgr.Stop(stopCtx)

	logger.Info("monitoring stopped")
	return errors.Join(runErr, stopErr)
}
