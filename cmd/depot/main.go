package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fabric-depot/cmd/depot/cli"
	"github.com/odyssey-erp/fabric-depot/internal/app"
	jobmetrics "github.com/odyssey-erp/fabric-depot/internal/jobs"
	"github.com/odyssey-erp/fabric-depot/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	if cfg.StoreDriver == app.DriverMemory {
		logger.Warn("memory store selected; nothing survives this process")
	}

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open depot", slog.Any("error", err))
		os.Exit(1)
	}

	opts := cli.Options{
		Depot:     rt.Depot,
		Rolls:     rt.Rolls,
		Ledger:    rt.Ledger,
		Reconcile: jobs.NewReconcileJob(rt.Store, logger, jobmetrics.NewMetrics(nil)),
	}
	if rt.Redis != nil {
		jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer func() {
			if err := jobsCLI.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
		}()
		opts.Jobs = jobsCLI
	}

	depotCLI, err := cli.New(opts)
	if err != nil {
		logger.Error("init cli", slog.Any("error", err))
		rt.Close()
		os.Exit(1)
	}
	code := depotCLI.Run(ctx, os.Args[1:])
	if lines, err := rt.Metrics.Summary(); err == nil {
		for _, line := range lines {
			logger.Debug("metric", slog.String("sample", line))
		}
	}
	rt.Close()
	if code != cli.ExitOK {
		// os.Exit skips deferred calls; close the queue client first.
		if opts.Jobs != nil {
			_ = opts.Jobs.Close()
		}
		os.Exit(code)
	}
}
