package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/crimson-crm/internal/adapters/mcp"
	"github.com/kirillkom/crimson-crm/internal/bootstrap"
	"github.com/kirillkom/crimson-crm/internal/config"
	"github.com/kirillkom/crimson-crm/internal/observability/logging"
)

const serviceName = "mcp"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	// stdout carries the protocol.
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	tools := mcpadapter.NewTools(app.SyncUC, app.QueryUC, logger)
	if app.Queue != nil && cfg.NATSSyncTriggerSubject != "" {
		// A stdio session is short-lived; long runs belong to the worker.
		tools.WithRemoteTrigger(app.Queue)
	}
	stdio := server.NewStdioServer(tools.Server())
	stdio.SetErrorLogger(log.New(os.Stderr, "mcp: ", log.LstdFlags))

	logger.Info("mcp_stdio_started")
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("mcp_server_failed", "error", err)
	}
}
