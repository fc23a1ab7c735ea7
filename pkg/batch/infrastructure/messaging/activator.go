package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// Handler processes one request message and returns the reply payload.
// A nil payload sends no reply.
type Handler func(ctx context.Context, m *Message) (interface{}, error)

// ActivatorConfig configures a ServiceActivator.
type ActivatorConfig struct {
	Input   PollableChannel
	Handler Handler
	// Output receives replies. When nil, replies go to the request's reply channel header.
	Output MessageChannel
	// ErrorChannel receives handler errors as payloads. When nil, errors are only logged.
	ErrorChannel MessageChannel
	// Workers is the number of concurrent consumers. Defaults to 1.
	Workers int
}

// ServiceActivator consumes requests with a pool of workers and sends each handler
// result as a reply carrying the request's correlation headers.
type ServiceActivator struct {
	cfg    ActivatorConfig
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServiceActivator validates cfg and creates a ServiceActivator.
func NewServiceActivator(cfg ActivatorConfig) (*ServiceActivator, error) {
	if cfg.Input == nil {
		return nil, exception.NewConfigError("ServiceActivator", "Input", "must not be nil")
	}
	if cfg.Handler == nil {
		return nil, exception.NewConfigError("ServiceActivator", "Handler", "must not be nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &ServiceActivator{cfg: cfg}, nil
}

// Start launches the workers. They run until Stop is called or ctx is done.
func (s *ServiceActivator) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func(worker int) {
			defer s.wg.Done()
			s.consume(ctx, worker)
		}(i)
	}
	logger.Infof("ServiceActivator: %d workers consuming from '%s'.", s.cfg.Workers, s.cfg.Input.Name())
}

// Stop cancels the workers and waits for in-flight messages to finish.
func (s *ServiceActivator) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (s *ServiceActivator) consume(ctx context.Context, worker int) {
	for {
		m, err := s.cfg.Input.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrChannelClosed) {
				logger.Errorf("ServiceActivator worker %d: receive failed: %v", worker, err)
			}
			return
		}
		s.handle(ctx, worker, m)
	}
}

func (s *ServiceActivator) handle(ctx context.Context, worker int, m *Message) {
	result, err := s.cfg.Handler(ctx, m)
	if err != nil {
		logger.Errorf("ServiceActivator worker %d: message %s (correlation '%s') failed: %v", worker, m.ID, m.CorrelationID(), err)
		if s.cfg.ErrorChannel != nil {
			if sendErr := s.cfg.ErrorChannel.Send(ctx, ReplyHeaders(m, NewMessage(err))); sendErr != nil {
				logger.Errorf("ServiceActivator worker %d: failed to publish error: %v", worker, sendErr)
			}
		}
		return
	}
	if result == nil {
		return
	}

	target := s.cfg.Output
	if target == nil {
		target = m.ReplyChannel()
	}
	if target == nil {
		logger.Warnf("ServiceActivator worker %d: no output or reply channel for message %s, reply dropped.", worker, m.ID)
		return
	}
	if err := target.Send(ctx, ReplyHeaders(m, NewMessage(result))); err != nil {
		logger.Errorf("ServiceActivator worker %d: failed to send reply to '%s': %v", worker, target.Name(), err)
	}
}
