// Command socket-gateway terminates authenticated websocket sessions
// and forwards each user's NATS pub/sub channel onto their socket.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chat4all/backbone/internal/config"
	"github.com/chat4all/backbone/internal/gateway"
	"github.com/chat4all/backbone/internal/logging"
	"github.com/chat4all/backbone/internal/metrics"
	"github.com/chat4all/backbone/internal/pubsub/natsps"
)

type appConfig struct {
	config.Common
	ListenAddr string `env:"GATEWAY_LISTEN_ADDR" envDefault:":8080"`
}

func main() {
	bootstrapLogger := logging.New("socket-gateway", "info", "json")

	var cfg appConfig
	if err := config.Load(&cfg, &bootstrapLogger); err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("invalid config")
	}

	logger := logging.New("socket-gateway", cfg.LogLevel, cfg.LogFormat)
	sessionMetrics := metrics.NewGatewaySessions()

	ps, err := natsps.Connect(cfg.NatsURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to nats")
	}
	defer ps.Close()

	tokens := gateway.NewTokenManager(cfg.TokenSigningSecret, cfg.TokenTTL)
	wsServer := &gateway.Server{Tokens: tokens, PubSub: ps, Metrics: sessionMetrics, Logger: logger}

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("socket gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down socket gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
