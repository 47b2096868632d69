package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/settlement-bridge/internal/app"
	"github.com/odyssey-erp/settlement-bridge/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
	slog.SetDefault(logger)

	bridge, err := app.NewBridge(ctx, cfg, logger, "worker")
	if err != nil {
		logger.Error("connect dependencies", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := bridge.Close(closeCtx); err != nil {
			logger.Warn("close dependencies", slog.Any("error", err))
		}
	}()

	settleJob := jobs.NewSettleDecisionJob(bridge.Orders, logger, bridge.JobMetrics)
	avstemmingJob := jobs.NewGrensesnittavstemmingJob(bridge.Avstemming, bridge.Leader, logger, bridge.JobMetrics)
	avstemmingJob.MinWindow = cfg.AvstemmingMinWindow

	avstemmingTask, err := jobs.NewGrensesnittavstemmingTask(jobs.TriggerSchedule)
	if err != nil {
		logger.Error("build avstemming task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSettleDecision, Handler: settleJob.Handle},
			{Type: jobs.TaskGrensesnittavstemming, Handler: avstemmingJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{
				Spec:    cfg.AvstemmingCron,
				Task:    avstemmingTask,
				Options: jobs.GrensesnittavstemmingCronOptions(cfg.AvstemmingMinWindow),
			},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
