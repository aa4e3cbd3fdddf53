package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"figureworks/internal/infra"
	"figureworks/internal/queue"
	"figureworks/internal/webhook"
)

// The relay turns the Kafka job topic into signed worker deliveries, the
// self-hosted counterpart of QStash.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signer, err := webhook.NewSigner(cfg.QStashCurrentKey, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("relay: signer")
	}
	consumer, err := queue.NewKafkaConsumer(ctx, queue.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		Group:   cfg.QueueGroup,
		Topic:   cfg.QueueTopic,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("relay: kafka consumer")
	}
	defer consumer.Close()

	relay, err := queue.NewRelay(consumer, signer, queue.RelayConfig{
		Retries: cfg.RelayRetries,
		Backoff: cfg.RelayRetryBackoff,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("relay: init")
	}

	logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.QueueTopic).Msg("relay started")
	if err := relay.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("relay stopped with error")
		return
	}
	logger.Info().Msg("relay stopped")
}
