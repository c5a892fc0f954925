package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/crimson-crm/internal/bootstrap"
	"github.com/kirillkom/crimson-crm/internal/config"
	"github.com/kirillkom/crimson-crm/internal/observability/logging"
)

const serviceName = "worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	os.Exit(run(cfg, logger))
}

// run returns the process exit code; deferred cleanup finishes before main exits.
func run(cfg config.Config, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		return 1
	}
	defer app.Close()

	subscribe := app.Queue != nil && cfg.NATSSyncTriggerSubject != ""
	if !subscribe && cfg.SyncScheduleMinutes <= 0 {
		logger.Error("worker_has_no_triggers", "hint", "set NATS_URL and NATS_SYNC_TRIGGER_SUBJECT or SYNC_SCHEDULE_MINUTES")
		return 1
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           app.SyncMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	if cfg.SyncScheduleMinutes > 0 {
		interval := time.Duration(cfg.SyncScheduleMinutes) * time.Minute
		g.Go(func() error {
			logger.Info("sync_schedule_started", "interval", interval.String())
			app.TriggerUC.RunSchedule(gctx, interval)
			return nil
		})
	}
	if subscribe {
		g.Go(func() error {
			logger.Info("worker_subscribed", "subject", cfg.NATSSyncTriggerSubject)
			return app.Queue.SubscribeSyncTriggers(gctx, func(handlerCtx context.Context, reason string) error {
				if reason == "" {
					reason = "nats"
				}
				return app.TriggerUC.Trigger(handlerCtx, reason)
			})
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker_failed", "error", err)
		return 1
	}
	return 0
}
