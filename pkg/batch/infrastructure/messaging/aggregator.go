package messaging

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// Reducer turns a released group, ordered by sequence number, into one payload.
type Reducer func(messages []*Message) interface{}

// CollectStepExecutions is the default Reducer. It returns the *model.StepExecution
// payloads of the group as a []*model.StepExecution.
func CollectStepExecutions(messages []*Message) interface{} {
	out := make([]*model.StepExecution, 0, len(messages))
	for _, m := range messages {
		if se, ok := m.Payload.(*model.StepExecution); ok {
			out = append(out, se)
		}
	}
	return out
}

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// Input is the channel worker replies arrive on.
	Input PollableChannel
	// Output receives released groups whose messages carry no reply channel header.
	Output MessageChannel
	// Reducer builds the released payload. Defaults to CollectStepExecutions.
	Reducer Reducer
	// GroupTimeout expires groups that stay incomplete this long. Zero disables expiry.
	GroupTimeout time.Duration
	// SendPartialResultsOnExpiry releases expired groups instead of discarding them.
	SendPartialResultsOnExpiry bool
}

type messageGroup struct {
	created  time.Time
	messages map[int]*Message
	order    []*Message
}

// Aggregator groups messages by correlation id and releases a group once it holds
// sequence-size messages.
type Aggregator struct {
	cfg AggregatorConfig

	mu     sync.Mutex
	groups map[string]*messageGroup

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAggregator validates cfg and creates an Aggregator.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Input == nil {
		return nil, exception.NewConfigError("Aggregator", "Input", "must not be nil")
	}
	if cfg.GroupTimeout < 0 {
		return nil, exception.NewConfigError("Aggregator", "GroupTimeout", "must not be negative")
	}
	if cfg.Reducer == nil {
		cfg.Reducer = CollectStepExecutions
	}
	return &Aggregator{cfg: cfg, groups: make(map[string]*messageGroup)}, nil
}

// Start runs the consumer loop in a goroutine until Stop is called or ctx is done.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		a.Run(ctx)
	}()
}

// Stop ends the consumer loop and waits for it.
func (a *Aggregator) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

// Pending returns the number of incomplete groups.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Run consumes Input until ctx is done or the channel is closed.
func (a *Aggregator) Run(ctx context.Context) {
	incoming := make(chan *Message)
	go func() {
		defer close(incoming)
		for {
			m, err := a.cfg.Input.Receive(ctx)
			if err != nil {
				return
			}
			select {
			case incoming <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	var expiry <-chan time.Time
	if a.cfg.GroupTimeout > 0 {
		period := a.cfg.GroupTimeout / 2
		if period < 10*time.Millisecond {
			period = 10 * time.Millisecond
		}
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		expiry = ticker.C
	}

	logger.Debugf("Aggregator: consuming from '%s'.", a.cfg.Input.Name())
	for {
		select {
		case m, ok := <-incoming:
			if !ok {
				return
			}
			a.add(ctx, m)
		case now := <-expiry:
			a.expire(ctx, now)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Aggregator) add(ctx context.Context, m *Message) {
	cid := m.CorrelationID()
	if cid == "" {
		logger.Warnf("Aggregator: dropping message %s without correlation id.", m.ID)
		return
	}

	a.mu.Lock()
	g, ok := a.groups[cid]
	if !ok {
		g = &messageGroup{created: time.Now(), messages: make(map[int]*Message)}
		a.groups[cid] = g
	}
	seq := m.SequenceNumber()
	if _, dup := g.messages[seq]; dup && seq >= 0 {
		a.mu.Unlock()
		logger.Warnf("Aggregator: duplicate sequence number %d for group '%s' ignored.", seq, cid)
		return
	}
	g.messages[seq] = m
	g.order = append(g.order, m)
	complete := m.SequenceSize() > 0 && len(g.order) >= m.SequenceSize()
	if complete {
		delete(a.groups, cid)
	}
	a.mu.Unlock()

	if complete {
		a.release(ctx, cid, g.order)
	}
}

func (a *Aggregator) expire(ctx context.Context, now time.Time) {
	a.mu.Lock()
	var expired []string
	released := map[string][]*Message{}
	for cid, g := range a.groups {
		if now.Sub(g.created) < a.cfg.GroupTimeout {
			continue
		}
		expired = append(expired, cid)
		released[cid] = g.order
		delete(a.groups, cid)
	}
	a.mu.Unlock()

	for _, cid := range expired {
		if a.cfg.SendPartialResultsOnExpiry {
			logger.Warnf("Aggregator: group '%s' expired with %d messages, releasing partial result.", cid, len(released[cid]))
			a.release(ctx, cid, released[cid])
		} else {
			logger.Warnf("Aggregator: group '%s' expired with %d messages, discarded.", cid, len(released[cid]))
		}
	}
}

func (a *Aggregator) release(ctx context.Context, cid string, messages []*Message) {
	sorted := append([]*Message(nil), messages...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SequenceNumber() < sorted[j].SequenceNumber() })

	out := NewMessage(a.cfg.Reducer(sorted)).
		WithHeader(HeaderCorrelationID, cid).
		WithHeader(HeaderSequenceSize, len(sorted))

	target := a.cfg.Output
	if reply := sorted[0].ReplyChannel(); reply != nil {
		target = reply
	}
	if target == nil {
		logger.Errorf("Aggregator: no reply channel for group '%s', %d messages lost.", cid, len(sorted))
		return
	}
	if err := target.Send(ctx, out); err != nil {
		logger.Errorf("Aggregator: failed to send group '%s' to '%s': %v", cid, target.Name(), err)
		return
	}
	logger.Debugf("Aggregator: released group '%s' (%d messages) to '%s'.", cid, len(sorted), target.Name())
}
