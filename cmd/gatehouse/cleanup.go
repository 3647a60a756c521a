// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	accountpg "github.com/gatehouse/gatehouse/internal/account/postgres"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/store"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// cleanupConfig holds configuration for the cleanup command.
type cleanupConfig struct {
	interval    time.Duration
	metricsAddr string
}

// NewCleanupCmd creates the cleanup subcommand. Token expiry is enforced at
// read time; this command only reclaims storage from rows that can no longer
// verify.
func NewCleanupCmd() *cobra.Command {
	cfg := &cleanupConfig{}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired token rows",
		Long: `Delete token rows older than their context's validity window.
With --interval the command runs as a periodic maintenance daemon and can
expose metrics and health probes via --metrics-addr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanup(cmd, cfg)
		},
	}

	cmd.Flags().DurationVar(&cfg.interval, "interval", 0, "purge interval (0 runs once and exits)")
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "", "metrics/health HTTP address (empty = disabled)")

	return cmd
}

func runCleanup(cmd *cobra.Command, cfg *cleanupConfig) error {
	appCfg, err := config.Load(resolveConfigFile(), cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("gatehouse", cmd.Root().Version, appCfg.LogFormat)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, appCfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	tokens := accountpg.NewTokenRepository(pool)

	purge := func() {
		now := time.Now().UTC()
		deleted, err := tokens.DeleteExpired(ctx,
			now.Add(-appCfg.Auth.SessionValidity),
			now.Add(-appCfg.Auth.LoginValidity),
			now.Add(-appCfg.Auth.ChangeValidity),
		)
		if err != nil {
			errutil.LogError(logger, "expired token purge failed", err)
			return
		}
		logger.Info("expired tokens purged", "deleted", deleted)
	}

	if cfg.interval <= 0 {
		purge()
		return nil
	}

	var obs *observability.Server
	if cfg.metricsAddr != "" {
		obs = observability.NewServer(cfg.metricsAddr, func() bool {
			return pool.Ping(ctx) == nil
		})
		if _, err := obs.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := obs.Stop(shutdownCtx); err != nil {
				errutil.LogError(logger, "observability server shutdown failed", err)
			}
		}()
	}

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	logger.Info("cleanup daemon started", "interval", cfg.interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup daemon stopping")
			return nil
		case <-ticker.C:
			purge()
		}
	}
}
