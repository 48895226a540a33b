// Command fanout-dispatcher consumes the persisted topic and emits one
// delivery job per (recipient, channel) pair.
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
	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/fanout"
	"github.com/chat4all/backbone/internal/logging"
	"github.com/chat4all/backbone/internal/metadata/postgres"
	"github.com/chat4all/backbone/internal/metrics"
)

type appConfig struct {
	config.Common
	ConsumerGroup        string `env:"KAFKA_GROUP_ID" envDefault:"fanout_group"`
	TopicOutboundWhatsapp string `env:"TOPIC_OUTBOUND_WHATSAPP" envDefault:"connector.whatsapp.outbound.v1"`
	TopicOutboundInstagram string `env:"TOPIC_OUTBOUND_INSTAGRAM" envDefault:"connector.instagram.outbound.v1"`
}

func main() {
	bootstrapLogger := logging.New("fanout-dispatcher", "info", "json")

	var cfg appConfig
	if err := config.Load(&cfg, &bootstrapLogger); err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("invalid config")
	}

	logger := logging.New("fanout-dispatcher", cfg.LogLevel, cfg.LogFormat)
	pipelineMetrics := metrics.NewPipeline("fanout")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metaStore, err := postgres.Connect(ctx, cfg.MetadataDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to metadata store")
	}
	defer metaStore.Close()

	producer, err := kafka.NewProducer(cfg.Brokers(), logger, cfg.BusPublishTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("create producer")
	}
	defer producer.Close()

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       cfg.Brokers(),
		ConsumerGroup: cfg.ConsumerGroup,
		Topics:        []string{cfg.TopicPersisted},
		Logger:        logger,
		MaxRetries:    cfg.MaxRetries,
		Producer:      producer,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create consumer")
	}
	defer consumer.Close()

	worker := &fanout.Worker{
		Metadata: metaStore,
		Producer: producer,
		ChannelTopics: map[string]string{
			domain.DeliveryChannel: cfg.TopicDelivery,
			"whatsapp":             cfg.TopicOutboundWhatsapp,
			"instagram":            cfg.TopicOutboundInstagram,
		},
		Metrics: pipelineMetrics,
		Logger:  logger,
	}

	go serveMetrics(cfg.MetricsAddr, logger)

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx, worker.Handle) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down fanout dispatcher")
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
