package messaging

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/pagebatch/pkg/batch/core/config"
)

// Channels are the three queues of a remote partitioned step:
// manager -> Requests -> workers -> Replies -> aggregator -> Aggregated -> manager.
type Channels struct {
	Requests   *QueueChannel
	Replies    *QueueChannel
	Aggregated *QueueChannel
}

// NewChannels creates the queues with the configured capacity.
func NewChannels(cfg *config.BatchConfig) *Channels {
	capacity := cfg.Messaging.ChannelCapacity
	return &Channels{
		Requests:   NewQueueChannel("partition.requests", capacity),
		Replies:    NewQueueChannel("partition.replies", capacity),
		Aggregated: NewQueueChannel("partition.aggregated", capacity),
	}
}

// NewGatewayProvider creates the manager gateway. Its receive timeout is the partition timeout.
func NewGatewayProvider(cfg *config.BatchConfig, ch *Channels) MessagingGateway {
	return NewChannelGateway(ch.Requests, cfg.Partition.Timeout())
}

// NewAggregatorProvider creates the reply aggregator and ties it to the application lifecycle.
func NewAggregatorProvider(lc fx.Lifecycle, cfg *config.BatchConfig, ch *Channels) (*Aggregator, error) {
	agg, err := NewAggregator(AggregatorConfig{
		Input:                      ch.Replies,
		Output:                     ch.Aggregated,
		GroupTimeout:               cfg.Messaging.GroupTimeout(),
		SendPartialResultsOnExpiry: cfg.Messaging.SendPartialResultsOnExpiry,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			agg.Start(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			agg.Stop()
			return nil
		},
	})
	return agg, nil
}

// Module provides the channels, the gateway and a running aggregator.
var Module = fx.Options(
	fx.Provide(
		NewChannels,
		NewGatewayProvider,
		NewAggregatorProvider,
	),
	fx.Invoke(func(*Aggregator) {}),
)
