// Package backend picks the queue implementation named by queue.backend.
package backend

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmerrifield20/mailcode/internal/config"
	"github.com/jmerrifield20/mailcode/internal/queue"
	"github.com/jmerrifield20/mailcode/internal/queue/rabbit"
	"github.com/jmerrifield20/mailcode/internal/queue/redisstream"
)

// Backend is an opened queue implementation.
type Backend struct {
	Name   string
	Dialer queue.Dialer
	// InProcess is true when producer and consumer must share this process.
	InProcess bool
	// ConsumerTag is the subscription name consumers should use. Empty lets
	// the consumer pick a random one.
	ConsumerTag string

	closeFn func() error
}

// Close releases clients shared across sessions.
func (b *Backend) Close() error {
	if b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// Open builds the Dialer for cfg.Queue.Backend. Nothing is dialed yet.
func Open(cfg config.Config, logger *zap.Logger) (*Backend, error) {
	switch cfg.Queue.Backend {
	case config.BackendRabbitMQ:
		rc := rabbit.DefaultConfig()
		rc.URL = cfg.RabbitMQ.URL
		if cfg.RabbitMQ.DialTimeout > 0 {
			rc.DialTimeout = cfg.RabbitMQ.DialTimeout
		}
		logger.Info("queue backend: rabbitmq", zap.String("url", redactURL(rc.URL)))
		return &Backend{Name: cfg.Queue.Backend, Dialer: rabbit.NewDialer(rc, logger)}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logger.Info("queue backend: redis streams",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("group", cfg.Redis.Group),
			zap.String("consumer", cfg.Redis.Consumer),
		)
		return &Backend{
			Name: cfg.Queue.Backend,
			Dialer: redisstream.NewDialer(client, redisstream.Config{
				Group:     cfg.Redis.Group,
				ClaimIdle: cfg.Redis.ClaimIdle,
			}, logger),
			ConsumerTag: cfg.Redis.Consumer,
			closeFn:     client.Close,
		}, nil

	case config.BackendMemory:
		logger.Warn("queue backend: memory (tasks are lost on exit)")
		return &Backend{Name: cfg.Queue.Backend, Dialer: queue.NewMemoryBroker(), InProcess: true}, nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
}
