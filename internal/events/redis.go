// Package events publishes usage events to a Redis-backed buffer for
// downstream consumers (dashboards, alerting). Publishing is best
// effort and happens outside the settlement transaction: a Redis outage
// can lose events but can never un-charge or double-charge a wallet.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nmelo/metergate/internal/observability"
)

// Config holds Redis event buffer settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	QueueKey string // Redis list key for the event queue
	MaxSize  int64  // Maximum queue size (older entries dropped when full)
}

// Event is the serialized envelope pushed onto the queue.
type Event struct {
	Type string                 `json:"type"`
	Time time.Time              `json:"time"`
	Data map[string]interface{} `json:"data"`
}

// RedisPublisher implements the EventPublisher interface over a
// bounded Redis list.
type RedisPublisher struct {
	client   *redis.Client
	queueKey string
	maxSize  int64
}

// enqueueScript appends atomically and trims the oldest entries once
// the queue exceeds its bound.
var enqueueScript = redis.NewScript(`
	local key = KEYS[1]
	local value = ARGV[1]
	local max_size = tonumber(ARGV[2])

	redis.call('RPUSH', key, value)

	local len = redis.call('LLEN', key)
	if max_size > 0 and len > max_size then
		redis.call('LTRIM', key, len - max_size, -1)
	end

	return len
`)

// NewRedisPublisher creates a publisher and verifies the connection.
func NewRedisPublisher(ctx context.Context, cfg Config) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisPublisher{
		client:   client,
		queueKey: cfg.QueueKey,
		maxSize:  cfg.MaxSize,
	}, nil
}

// Publish enqueues an event. Failures are logged, never propagated:
// observability must not affect billing outcomes.
func (p *RedisPublisher) Publish(ctx context.Context, eventType string, data map[string]interface{}) {
	event := Event{
		Type: eventType,
		Time: time.Now().UTC(),
		Data: data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		observability.FromContext(ctx).Warn("failed to marshal event",
			observability.String("event_type", eventType),
			observability.Error(err))
		return
	}

	if err := enqueueScript.Run(ctx, p.client, []string{p.queueKey}, payload, p.maxSize).Err(); err != nil {
		observability.FromContext(ctx).Warn("failed to enqueue event",
			observability.String("event_type", eventType),
			observability.Error(err))
	}
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
