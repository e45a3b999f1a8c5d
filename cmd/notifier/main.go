package main

import (
	"context"
	"os/signal"
	"syscall"

	"marketplace-auth/internal/client"
	"marketplace-auth/internal/config"
	"marketplace-auth/internal/notification"
	"marketplace-auth/internal/util"
)

// The notifier drains the notification topic written by the auth server and
// hands each message to the delivery gateway. Until SMS and e-mail gateways
// are wired in, delivery goes to the log.
func main() {
	cfg := config.LoadConfig()
	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	consumer, err := client.NewKafkaConsumer(cfg, cfg.Kafka.NotificationTopic, cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		util.Fatal("Failed to create Kafka consumer", util.ErrorField(err))
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := notification.NewRelay(
		consumer,
		notification.NewLogNotifier(logger, !cfg.IsProduction()),
		notification.DispatcherConfig{MaxAttempts: cfg.Notification.MaxAttempts},
		logger,
	)

	util.Info("Notifier started",
		util.String("topic", cfg.Kafka.NotificationTopic),
		util.String("group", cfg.Kafka.ConsumerGroup),
	)
	if err := relay.Run(ctx); err != nil {
		util.Error("Notifier stopped", util.ErrorField(err))
		return
	}
	util.Info("Notifier shutdown completed")
}
