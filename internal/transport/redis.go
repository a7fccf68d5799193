package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// RedisConfig describes a Redis pub/sub source. Channels are named like
// MQTT topics, e.g. qos_testing/<device>.
type RedisConfig struct {
	Addr      string
	TopicRoot string // pattern-subscribes to <TopicRoot>/*
	Jitter    Jitter
}

// RedisSubscriber pattern-subscribes to a channel hierarchy on Redis
type RedisSubscriber struct {
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisSubscriber creates a subscriber; no connection is made until Run
func NewRedisSubscriber(cfg RedisConfig, logger *zap.Logger) *RedisSubscriber {
	return &RedisSubscriber{cfg: cfg, logger: logger}
}

// Pattern returns the PSUBSCRIBE pattern
func (s *RedisSubscriber) Pattern() string {
	return s.cfg.TopicRoot + "/*"
}

func (s *RedisSubscriber) clientOption() rueidis.ClientOption {
	opts := rueidis.ClientOption{
		InitAddress: []string{s.cfg.Addr},
	}

	// Add custom dialer if latency injection is enabled
	if s.cfg.Jitter.Enabled() {
		opts.DialFn = latencyDialer(s.cfg.Jitter)
	}
	return opts
}

// Run subscribes and forwards messages to handle until ctx is done
func (s *RedisSubscriber) Run(ctx context.Context, handle Handler) error {
	client, err := rueidis.NewClient(s.clientOption())
	if err != nil {
		return fmt.Errorf("connect to redis %s: %w", s.cfg.Addr, err)
	}
	defer client.Close()

	s.logger.Info("subscribed",
		zap.String("redis", s.cfg.Addr),
		zap.String("pattern", s.Pattern()))

	err = client.Receive(ctx, client.B().Psubscribe().Pattern(s.Pattern()).Build(), func(msg rueidis.PubSubMessage) {
		handle(Message{
			Topic:    msg.Channel,
			Payload:  []byte(msg.Message),
			Received: time.Now(),
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("redis subscription: %w", err)
	}
	return nil
}
