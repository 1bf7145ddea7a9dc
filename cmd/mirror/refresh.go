package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolmirror/internal/config"
	"poolmirror/internal/reconcile"
)

type refreshFunc func(ctx context.Context, rec *reconcile.Reconciler, cfg config.RefreshConfig) (reconcile.Result, error)

func runRefreshPools(cmd *cobra.Command, _ []string) error {
	return runRefresh(cmd, "pools", func(ctx context.Context, rec *reconcile.Reconciler, cfg config.RefreshConfig) (reconcile.Result, error) {
		return rec.ReconcilePools(ctx, cfg.Source)
	})
}

func runRefreshPool(cmd *cobra.Command, _ []string) error {
	return runRefresh(cmd, "pool", func(ctx context.Context, rec *reconcile.Reconciler, cfg config.RefreshConfig) (reconcile.Result, error) {
		if cfg.Pool == "" {
			return reconcile.Result{}, fmt.Errorf("pool is required")
		}
		return rec.ReconcilePool(ctx, cfg.Source, cfg.Pool)
	})
}

func runRefreshPositions(cmd *cobra.Command, _ []string) error {
	return runRefresh(cmd, "positions", func(ctx context.Context, rec *reconcile.Reconciler, cfg config.RefreshConfig) (reconcile.Result, error) {
		if cfg.Pool == "" {
			return reconcile.Result{}, fmt.Errorf("pool is required")
		}
		return rec.ReconcilePoolPositions(ctx, cfg.Pool)
	})
}

func runRefreshTokens(cmd *cobra.Command, _ []string) error {
	return runRefresh(cmd, "tokens", func(ctx context.Context, rec *reconcile.Reconciler, cfg config.RefreshConfig) (reconcile.Result, error) {
		return rec.ReconcileTokens(ctx, cfg.Source)
	})
}

func runRefresh(cmd *cobra.Command, kind string, fn refreshFunc) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadRefresh(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg.Common, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := fn(ctx, a.reconciler, cfg)
	if err != nil {
		return err
	}
	logger.Info("refresh done",
		zap.String("kind", kind),
		zap.String("source", cfg.Source),
		zap.String("pool", cfg.Pool),
		zap.Int("updated", res.Updated),
		zap.Int("added", res.Added),
		zap.Int("removed", res.Removed),
		zap.Int("stale", res.Stale),
	)
	return writeJSON(cmd, res)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
