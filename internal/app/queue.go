package app

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"payup/internal/config"
	"payup/internal/kafka"
	"payup/internal/queue"
	internalRedis "payup/internal/redis"
)

// NewQueue selects the webhook job queue named by QUEUE_DRIVER.
func NewQueue(cfg config.QueueConfig, client *redis.Client, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.Driver {
	case "redis":
		return internalRedis.NewStreamQueue(client, internalRedis.StreamQueueConfig{
			Stream:          cfg.Stream,
			Group:           cfg.Group,
			Consumer:        cfg.Consumer,
			RetryBackoff:    cfg.RetryBackoff,
			MaxRetryBackoff: cfg.MaxRetryBackoff,
		}, logger), nil
	case "kafka":
		return kafka.NewQueue(kafka.Config{
			Brokers:         cfg.KafkaBrokers,
			Topic:           cfg.KafkaTopic,
			GroupID:         cfg.Group,
			MaxRetries:      uint64(cfg.KafkaMaxRetries),
			RetryBackoff:    cfg.RetryBackoff,
			MaxRetryBackoff: cfg.MaxRetryBackoff,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}
