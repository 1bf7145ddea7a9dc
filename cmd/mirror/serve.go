package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolmirror/internal/api"
	"poolmirror/internal/config"
	"poolmirror/internal/jobs"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
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

	schedDone := make(chan struct{})
	if cfg.Schedule {
		var state jobs.StateStore = &jobs.DBStateStore{Store: a.store}
		if cfg.StateBackend == config.StateBackendFile {
			state = &jobs.FileStateStore{Path: cfg.StateFile}
		}
		sched := jobs.NewScheduler(jobs.Config{
			Sources:      a.dexes,
			Interval:     cfg.Interval,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
			Concurrency:  cfg.Concurrency,
		}, a.reconciler, a.store, a.registry, state, logger)

		go func() {
			defer close(schedDone)
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler stopped", zap.Error(err))
			}
		}()
		logger.Info("scheduler start",
			zap.Strings("sources", a.dexes),
			zap.Duration("interval", cfg.Interval),
			zap.String("state_backend", cfg.StateBackend),
		)
	} else {
		close(schedDone)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(api.Config{
		Addr:           cfg.Addr,
		RequestTimeout: cfg.RequestTimeout,
		Gatherer:       a.promReg,
	}, a.store, a.engine, a.reconciler, logger)

	err = srv.Run(ctx)
	stop()
	<-schedDone
	return err
}
