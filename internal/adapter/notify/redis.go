package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/port"
)

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, Channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

type RedisTransport struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisTransport(client *redis.Client, logger zerolog.Logger) *RedisTransport {
	return &RedisTransport{client: client, logger: logger.With().Str("transport", "redis").Logger()}
}

func (t *RedisTransport) Connect(ctx context.Context) (port.ChangeStream, error) {
	ps := t.client.Subscribe(ctx, Channel)
	// the first reply confirms the subscription
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	return &redisStream{ps: ps, logger: t.logger}, nil
}

type redisStream struct {
	ps     *redis.PubSub
	logger zerolog.Logger
}

func (s *redisStream) Receive(ctx context.Context) (domain.ChangeEvent, error) {
	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("redis receive: %w", err)
		}
		ev, err := decode([]byte(msg.Payload))
		if err != nil {
			s.logger.Warn().Err(err).Msg("skip malformed change event")
			continue
		}
		return ev, nil
	}
}

func (s *redisStream) Close() error {
	return s.ps.Close()
}
