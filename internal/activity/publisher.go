// Package activity publishes avatar session lifecycle events to a
// Redis stream for audit and operational visibility. It never carries
// application DataMessage payloads — that persistence is an explicit
// non-goal (spec §1).
package activity

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lifecycleStream = "gateway:avatar_lifecycle"

// Event kinds recorded on the lifecycle stream.
const (
	EventCreated           = "created"
	EventAuthenticated     = "authenticated"
	EventConnectionLost    = "connection_lost"
	EventReconnected       = "reconnected"
	EventReaped            = "reaped"
	EventDestroyed         = "destroyed"
	EventUnauthorizedLogin = "unauthorized_login"
)

// Publisher writes avatar lifecycle events onto a Redis stream.
type Publisher struct {
	client *redis.Client
	logger *zap.Logger
}

// New connects to redisURL and verifies it with a PING before
// returning, the same eager-connect pattern the teacher's
// RedisPublisher uses.
func New(redisURL string, logger *zap.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("connected to redis activity stream")
	return &Publisher{client: client, logger: logger}, nil
}

// Publish records one lifecycle event for avatarID.
func (p *Publisher) Publish(ctx context.Context, avatarID, event string, fields map[string]string) error {
	values := map[string]interface{}{
		"avatar_id": avatarID,
		"event":     event,
	}
	for k, v := range fields {
		values[k] = v
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: lifecycleStream,
		MaxLen: 100000,
		Approx: true,
		Values: values,
	}).Err()
}

// Close releases the underlying Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
