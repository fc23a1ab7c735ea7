package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrReceiveTimeout is returned by Receive when nothing arrived within the receive timeout.
var ErrReceiveTimeout = errors.New("receive timed out")

// MessagingGateway sends requests and receives replies on behalf of the manager.
type MessagingGateway interface {
	// Send delivers m to the default request channel.
	Send(ctx context.Context, m *Message) error
	// Receive waits for one message on channel, up to the gateway receive timeout.
	Receive(ctx context.Context, channel PollableChannel) (*Message, error)
}

// ChannelGateway is a MessagingGateway over in-process channels.
type ChannelGateway struct {
	requests       MessageChannel
	receiveTimeout time.Duration
}

// NewChannelGateway creates a gateway sending to requests. A receiveTimeout of zero or
// less waits until ctx is done.
func NewChannelGateway(requests MessageChannel, receiveTimeout time.Duration) *ChannelGateway {
	return &ChannelGateway{requests: requests, receiveTimeout: receiveTimeout}
}

// Send implements MessagingGateway.
func (g *ChannelGateway) Send(ctx context.Context, m *Message) error {
	return g.requests.Send(ctx, m)
}

// Receive implements MessagingGateway.
func (g *ChannelGateway) Receive(ctx context.Context, channel PollableChannel) (*Message, error) {
	if g.receiveTimeout <= 0 {
		return channel.Receive(ctx)
	}
	rctx, cancel := context.WithTimeout(ctx, g.receiveTimeout)
	defer cancel()

	m, err := channel.Receive(rctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, ErrReceiveTimeout
	}
	return m, err
}

// ReceiveTimeout returns the configured receive timeout.
func (g *ChannelGateway) ReceiveTimeout() time.Duration { return g.receiveTimeout }

var _ MessagingGateway = (*ChannelGateway)(nil)
