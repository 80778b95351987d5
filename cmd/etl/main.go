package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/fire-data-etl/internal/adapter/file"
	"github.com/couchcryptid/fire-data-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/fire-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/fire-data-etl/internal/config"
	"github.com/couchcryptid/fire-data-etl/internal/domain"
	"github.com/couchcryptid/fire-data-etl/internal/observability"
	"github.com/couchcryptid/fire-data-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	sources := pipeline.Sources{
		Incidents: file.CSVFile{Path: cfg.FireDataPath},
		Weather:   file.CSVFile{Path: cfg.WeatherDataPath},
		Socio:     file.JSONFile{Path: cfg.SocioDataPath},
	}

	// View publishing is feature-flagged via KAFKA_ENABLED.
	var publisher pipeline.ViewPublisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("kafka view publishing enabled", "topic", cfg.KafkaSinkTopic, "interval", cfg.PublishInterval)
	} else {
		logger.Info("kafka view publishing disabled")
	}

	session := pipeline.New(domain.NewNormalizer(cfg.Location), sources, publisher, logger, metrics, pipeline.Options{
		Lenient:         cfg.LenientLoad,
		PublishInterval: cfg.PublishInterval,
		CacheSize:       cfg.ViewCacheSize,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, session, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Load the data set and publish views. A load that cannot succeed stops the service.
	runErr := make(chan error, 1)
	go func() {
		err := session.Run(ctx)
		if err != nil {
			logger.Error("session error", "error", err)
			stop()
		}
		runErr <- err
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")

	if err := <-runErr; err != nil {
		cancel()
		os.Exit(1)
	}
}
