package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "plural-api/internal/shared/errors"
	"plural-api/internal/shared/logger"
	"plural-api/internal/socket/domain/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay fans direct pushes out to every server instance over a Redis
// pub/sub channel. Every subscribed instance, the publisher included, receives
// each envelope once; the publisher skips its own.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  logger.Logger
}

// NewRedisRelay creates a relay on channel.
func NewRedisRelay(client *redis.Client, channel string, log logger.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		logger:  log,
	}
}

// Publish sends envelope to all subscribed instances.
func (r *RedisRelay) Publish(ctx context.Context, envelope model.RelayEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}

	receivers, err := r.client.Publish(ctx, r.channel, data).Result()
	if err != nil {
		r.logger.Error("Failed to publish relay envelope",
			zap.String("channel", r.channel),
			zap.String("kind", envelope.Kind),
			zap.Error(err))
		return apperrors.NewInfrastructureError("relay publish").
			WithCause(err).
			WithCode("RELAY_PUBLISH").
			WithComponent("redis")
	}
	// Nobody listening means not even this instance got it.
	if receivers == 0 {
		return fmt.Errorf("relay channel %s has no subscribers", r.channel)
	}

	r.logger.Debug("Relay envelope published",
		zap.String("channel", r.channel),
		zap.String("kind", envelope.Kind),
		zap.Int64("receivers", receivers))
	return nil
}

// Subscribe delivers envelopes to handler until ctx is cancelled.
func (r *RedisRelay) Subscribe(ctx context.Context, handler func(context.Context, model.RelayEnvelope)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	r.logger.Info("Relay subscribed", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var envelope model.RelayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				r.logger.Warn("Discarding malformed relay envelope", zap.Error(err))
				continue
			}
			handler(ctx, envelope)
		}
	}
}

// Close releases the Redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
