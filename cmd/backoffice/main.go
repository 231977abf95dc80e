package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/motodesk/backoffice/internal/app"
	"github.com/motodesk/backoffice/internal/sales"
	"github.com/motodesk/backoffice/jobs"
)

const usage = `usage: backoffice <command> [flags]

commands:
  serve        run the HTTP API (default)
  import       replay a branch sales ledger (csv or xlsx) as backfill sales
  reconcile    audit lot counters and sale totals in process
  jobs         trigger or inspect background jobs
  migrate      apply the database schema
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	var code int
	switch command {
	case "serve":
		code = serve(ctx, cfg)
	case "import":
		code = runImport(ctx, cfg, args)
	case "reconcile":
		code = runReconcile(ctx, cfg, args)
	case "jobs":
		code = runJobs(ctx, cfg, args)
	case "migrate":
		code = runMigrate(ctx, cfg)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		code = 1
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, cfg *app.Config) int {
	logger := app.NewLogger(cfg)

	svc, err := app.BuildServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		return 1
	}
	defer svc.Close()

	var inspector jobs.QueueInspector
	if svc.Redis != nil {
		asynqInspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := asynqInspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		inspector = asynqInspector
	}

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		SalesHandler: sales.NewHandler(logger, svc.Sales),
		JobHandler:   jobs.NewHandler(inspector, logger),
		Metrics:      svc.Metrics,
		Ready:        svc.Ping,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server", slog.Any("error", err))
			return 1
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}
