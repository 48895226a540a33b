// Command status-processor consumes status-change events, applies them
// to the durable log as a monotone max, and notifies the original
// sender over NATS when somebody else's status changed.
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
	"github.com/chat4all/backbone/internal/logging"
	"github.com/chat4all/backbone/internal/messagelog/cassandra"
	"github.com/chat4all/backbone/internal/metrics"
	"github.com/chat4all/backbone/internal/pubsub/natsps"
	"github.com/chat4all/backbone/internal/status"
)

type appConfig struct {
	config.Common
	ConsumerGroup string `env:"KAFKA_GROUP_ID" envDefault:"status_service_group"`
}

func main() {
	bootstrapLogger := logging.New("status-processor", "info", "json")

	var cfg appConfig
	if err := config.Load(&cfg, &bootstrapLogger); err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("invalid config")
	}

	logger := logging.New("status-processor", cfg.LogLevel, cfg.LogFormat)
	pipelineMetrics := metrics.NewPipeline("status")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgLog, err := cassandra.Connect(cfg.ScyllaHostList(), cfg.ScyllaKeyspace)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to message log")
	}
	defer msgLog.Close()

	ps, err := natsps.Connect(cfg.NatsURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to nats")
	}
	defer ps.Close()

	producer, err := kafka.NewProducer(cfg.Brokers(), logger, cfg.BusPublishTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("create producer")
	}
	defer producer.Close()

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       cfg.Brokers(),
		ConsumerGroup: cfg.ConsumerGroup,
		Topics:        []string{cfg.TopicStatus},
		Logger:        logger,
		MaxRetries:    cfg.MaxRetries,
		Producer:      producer,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create consumer")
	}
	defer consumer.Close()

	worker := &status.Worker{MessageLog: msgLog, PubSub: ps, Metrics: pipelineMetrics, Logger: logger}

	go serveMetrics(cfg.MetricsAddr, logger)

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx, worker.Handle) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down status processor")
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
