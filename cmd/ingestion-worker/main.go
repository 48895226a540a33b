// Command ingestion-worker consumes the submit topic, assigns durable
// sequence numbers, appends to the message log, and republishes to the
// persisted topic. Lifecycle follows the signal.Notify-then-block-then-
// cancel idiom from ws/main.go and go-server/internal/server/server.go.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/chat4all/backbone/internal/bus/kafka"
	"github.com/chat4all/backbone/internal/config"
	"github.com/chat4all/backbone/internal/idempotency"
	"github.com/chat4all/backbone/internal/ingestion"
	"github.com/chat4all/backbone/internal/logging"
	"github.com/chat4all/backbone/internal/messagelog/cassandra"
	"github.com/chat4all/backbone/internal/metadata/postgres"
	"github.com/chat4all/backbone/internal/metrics"
)

type appConfig struct {
	config.Common
	ConsumerGroup string `env:"KAFKA_GROUP_ID" envDefault:"ingestion_group"`
	DedupeWindow  int    `env:"DEDUPE_WINDOW" envDefault:"10000"`
}

func main() {
	bootstrapLogger := logging.New("ingestion-worker", "info", "json")

	var cfg appConfig
	if err := config.Load(&cfg, &bootstrapLogger); err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("invalid config")
	}

	logger := logging.New("ingestion-worker", cfg.LogLevel, cfg.LogFormat)
	pipelineMetrics := metrics.NewPipeline("ingestion")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metaStore, err := postgres.Connect(ctx, cfg.MetadataDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to metadata store")
	}
	defer metaStore.Close()
	if err := metaStore.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("apply metadata schema")
	}

	msgLog, err := cassandra.Connect(cfg.ScyllaHostList(), cfg.ScyllaKeyspace)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to message log")
	}
	defer msgLog.Close()

	producer, err := kafka.NewProducer(cfg.Brokers(), logger, cfg.BusPublishTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("create producer")
	}
	defer producer.Close()

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       cfg.Brokers(),
		ConsumerGroup: cfg.ConsumerGroup,
		Topics:        []string{cfg.TopicSubmit},
		Logger:        logger,
		MaxRetries:    cfg.MaxRetries,
		Producer:      producer,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create consumer")
	}
	defer consumer.Close()

	worker := &ingestion.Worker{
		Metadata:    metaStore,
		MessageLog:  msgLog,
		Dedupe:      idempotency.NewSeen(cfg.DedupeWindow),
		Producer:    producer,
		OutputTopic: cfg.TopicPersisted,
		Metrics:     pipelineMetrics,
		Logger:      logger,
	}

	go serveMetrics(cfg.MetricsAddr, logger)

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx, worker.Handle) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down ingestion worker")
	case err := <-done:
		if err != nil {
			logger.Error().Err(err).Msg("consumer loop exited with error")
		}
	}

	cancel()
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server exited")
	}
}
