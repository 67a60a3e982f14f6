package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	errMissingRedisClient  = errors.New("realtime: redis client required")
	errMissingRedisPrefix  = errors.New("realtime: redis channel prefix required")
	errMissingBridgeTarget = errors.New("realtime: registry required for redis bridge")
)

// RedisBridgeConfig wires a bridge between the local registry and a Redis Pub/Sub channel
// family.
type RedisBridgeConfig struct {
	Client        *goredis.Client
	ChannelPrefix string
	Registry      *Registry
	Logger        *zap.Logger
}

// RedisBridge shares rooms across instances. As a Sink it publishes each event on the
// post's channel; Run subscribes to every post channel and replays incoming events into the
// local registry, so each instance delivers to its own connections.
type RedisBridge struct {
	client   *goredis.Client
	prefix   string
	registry *Registry
	logger   *zap.Logger
	ready    chan struct{}
}

func NewRedisBridge(cfg RedisBridgeConfig) (*RedisBridge, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	if strings.TrimSpace(cfg.ChannelPrefix) == "" {
		return nil, errMissingRedisPrefix
	}
	if cfg.Registry == nil {
		return nil, errMissingBridgeTarget
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		client:   cfg.Client,
		prefix:   cfg.ChannelPrefix,
		registry: cfg.Registry,
		logger:   logger,
		ready:    make(chan struct{}),
	}, nil
}

// Channel returns the Redis channel carrying events for postID.
func (b *RedisBridge) Channel(postID string) string {
	return b.prefix + postID
}

// Deliver publishes the event and reports how many instances received it.
func (b *RedisBridge) Deliver(ctx context.Context, postID string, event Event) (int, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}
	receivers, err := b.client.Publish(ctx, b.Channel(postID), payload).Result()
	if err != nil {
		return 0, err
	}
	return int(receivers), nil
}

// Ready is closed once Run's subscription is confirmed by Redis.
func (b *RedisBridge) Ready() <-chan struct{} {
	return b.ready
}

// Run relays events from Redis into the local registry until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe failed: %w", err)
	}
	close(b.ready)
	b.logger.Info("redis fanout bridge subscribed", zap.String("pattern", b.prefix+"*"))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			postID := strings.TrimPrefix(message.Channel, b.prefix)
			var event Event
			if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
				b.logger.Warn("dropping malformed redis fanout message",
					zap.String("channel", message.Channel),
					zap.Error(err))
				continue
			}
			b.registry.Publish(postID, event)
		}
	}
}
