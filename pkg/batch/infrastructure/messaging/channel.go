package messaging

import (
	"context"
	"errors"
	"fmt"
)

// ErrChannelClosed is returned by operations on a closed channel.
var ErrChannelClosed = errors.New("message channel is closed")

// MessageChannel accepts messages.
type MessageChannel interface {
	Name() string
	// Send delivers m, blocking while the channel is full until ctx is done.
	Send(ctx context.Context, m *Message) error
}

// PollableChannel is a MessageChannel that consumers receive from.
type PollableChannel interface {
	MessageChannel
	// Receive blocks until a message arrives or ctx is done.
	Receive(ctx context.Context) (*Message, error)
}

// QueueChannel is a buffered point-to-point channel. Each message is received by
// exactly one consumer.
type QueueChannel struct {
	name   string
	queue  chan *Message
	closed chan struct{}
}

// NewQueueChannel creates a channel buffering up to capacity messages.
func NewQueueChannel(name string, capacity int) *QueueChannel {
	if capacity < 0 {
		capacity = 0
	}
	return &QueueChannel{name: name, queue: make(chan *Message, capacity), closed: make(chan struct{})}
}

// Name implements MessageChannel.
func (c *QueueChannel) Name() string { return c.name }

// Send implements MessageChannel. The receiver gets a copy of m.
func (c *QueueChannel) Send(ctx context.Context, m *Message) error {
	if m == nil {
		return fmt.Errorf("channel %s: nil message", c.name)
	}
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	select {
	case c.queue <- m.Copy():
		return nil
	case <-c.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements PollableChannel.
func (c *QueueChannel) Receive(ctx context.Context) (*Message, error) {
	select {
	case m := <-c.queue:
		return m, nil
	case <-c.closed:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of buffered messages.
func (c *QueueChannel) Len() int { return len(c.queue) }

// Close stops the channel. Buffered messages are dropped. Close is not safe to call twice.
func (c *QueueChannel) Close() {
	close(c.closed)
}

var _ PollableChannel = (*QueueChannel)(nil)
