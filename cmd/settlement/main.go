package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/settlement-bridge/internal/app"
	avstemminghttp "github.com/odyssey-erp/settlement-bridge/internal/avstemming/http"
	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag"
	oppdraghttp "github.com/odyssey-erp/settlement-bridge/internal/oppdrag/http"
	"github.com/odyssey-erp/settlement-bridge/internal/platform/queue"
	"github.com/odyssey-erp/settlement-bridge/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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

	bridge, err := app.NewBridge(ctx, cfg, logger, "api")
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

	if err := bridge.Provision(ctx, cfg); err != nil {
		logger.Error("provision pubsub", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("close job client", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("close inspector", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		OrderHandler:      oppdraghttp.NewHandler(logger, bridge.Orders, jobClient),
		AvstemmingHandler: avstemminghttp.NewHandler(logger, bridge.Avstemming, jobClient),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           bridge.Metrics,
		Readiness:         bridge.Readiness(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	listener := oppdrag.NewListener(
		bridge.Queue.Subscriber(cfg.OppdragReplySubscription, queue.ReceiveSettings{MaxOutstandingMessages: 100}),
		bridge.Orders,
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("starting kvittering listener", slog.String("subscription", cfg.OppdragReplySubscription))
		return listener.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("settlement bridge stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("settlement bridge stopped")
}
