package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"hisob/internal/amqp"
	"hisob/internal/backend"
	"hisob/internal/coalescer"
	"hisob/internal/config"
	apphttp "hisob/internal/http"
	"hisob/internal/log"
	"hisob/internal/metrics"
	"hisob/internal/services"
	"hisob/internal/storage"
)

// manualRefresh asks the worker to publish a group right away.
type manualRefresh struct {
	client *amqp.Client
}

func (m manualRefresh) UpdateNow(ctx context.Context, groupID int64) error {
	return m.client.PublishLedgerChanged(ctx, groupID, amqp.ReasonManual)
}

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentApp,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("hisob stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	var (
		notifier  services.Notifier
		dashboard apphttp.DashboardUpdater
		pipeline  *backend.Pipeline
	)
	if cfg.UseAMQP() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return err
		}
		defer client.Close()
		notifier, dashboard = client, manualRefresh{client: client}
		logger.Info("Dashboard updates delegated to hisob-worker", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		pipeline, err = backend.NewFactory(logger.Logger).CreatePipeline(ctx, cfg, repo, m)
		if err != nil {
			return err
		}
		notifier, dashboard = pipeline.Coalescer, pipeline.Coalescer
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Store:     repo,
		Recorder:  services.NewRecorder(repo, notifier, m),
		Dashboard: dashboard,
		Notifier:  notifier,
		Logger:    logger.WithComponent(log.ComponentHTTP),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting hisob server", "port", cfg.Port, "target", cfg.PublishTarget, "amqp", cfg.UseAMQP())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if pipeline != nil {
			return drain(shutdownCtx, pipeline.Coalescer, logger)
		}
		return nil
	})
	return g.Wait()
}

func drain(ctx context.Context, c *coalescer.Coalescer, logger *log.Logger) error {
	start := time.Now()
	if err := c.Drain(ctx); err != nil {
		return err
	}
	logger.Info("Pending dashboards flushed", log.FieldOperation, log.OpDrain, log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}
