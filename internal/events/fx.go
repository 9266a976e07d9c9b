package events

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Redis *redis.Client `optional:"true"`
}

// NewPublisher always logs events and also publishes to redis when a client is configured.
func NewPublisher(p Params) Publisher {
	logPublisher := NewLogPublisher(p.Log)
	if p.Redis == nil {
		return logPublisher
	}
	return NewMultiPublisher(logPublisher, NewRedisPublisher(p.Redis))
}
