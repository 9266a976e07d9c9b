package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

//go:generate mockgen -source=publisher.go -destination=mock/publisher.go -package=mock

// ChannelScoreApplied is the redis pub/sub channel carrying ScoreApplied.
const ChannelScoreApplied = "deliveryscore.score_applied"

// ScoreApplied is emitted once per committed scoring, after commit.
type ScoreApplied struct {
	ShipmentID    snowflake.ID `json:"shipment_id"`
	CustomerID    snowflake.ID `json:"customer_id"`
	TenantID      snowflake.ID `json:"tenant_id"`
	Delta         int          `json:"delta"`
	Reason        string       `json:"reason"`
	NewScore      int          `json:"new_score"`
	CorrelationID string       `json:"correlation_id"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event ScoreApplied) error
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("events")}
}

func (p *LogPublisher) Publish(ctx context.Context, event ScoreApplied) error {
	p.log.Info("score applied",
		zap.String("shipment_id", event.ShipmentID.String()),
		zap.String("customer_id", event.CustomerID.String()),
		zap.String("tenant_id", event.TenantID.String()),
		zap.Int("delta", event.Delta),
		zap.String("reason", event.Reason),
		zap.Int("new_score", event.NewScore),
		zap.String("correlation_id", event.CorrelationID),
	)
	return nil
}

// RedisPublisher publishes JSON encoded events on ChannelScoreApplied.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	if client == nil {
		return nil
	}
	return &RedisPublisher{client: client, channel: ChannelScoreApplied}
}

func (p *RedisPublisher) Publish(ctx context.Context, event ScoreApplied) error {
	if p == nil || p.client == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}

// MultiPublisher fans an event out to every publisher and joins their errors.
type MultiPublisher struct {
	publishers []Publisher
}

func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	filtered := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			filtered = append(filtered, p)
		}
	}
	return &MultiPublisher{publishers: filtered}
}

func (m *MultiPublisher) Publish(ctx context.Context, event ScoreApplied) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
