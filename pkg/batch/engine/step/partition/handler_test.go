package partition_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	usecase "github.com/tigerroll/pagebatch/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	partition "github.com/tigerroll/pagebatch/pkg/batch/engine/step/partition"
	messaging "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/messaging"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/pagebatch/pkg/batch/test"
)

// recordingGateway keeps every sent message and answers Receive with reply.
type recordingGateway struct {
	mu    sync.Mutex
	sent  []*messaging.Message
	reply func(sent []*messaging.Message) (*messaging.Message, error)
}

func (g *recordingGateway) Send(ctx context.Context, m *messaging.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, m)
	return nil
}

func (g *recordingGateway) Receive(ctx context.Context, ch messaging.PollableChannel) (*messaging.Message, error) {
	g.mu.Lock()
	sent := append([]*messaging.Message(nil), g.sent...)
	g.mu.Unlock()
	return g.reply(sent)
}

func completedReplies(n int) func(sent []*messaging.Message) (*messaging.Message, error) {
	return func(sent []*messaging.Message) (*messaging.Message, error) {
		var results []*model.StepExecution
		for _, m := range sent[:n] {
			req := m.Payload.(model.StepExecutionRequest)
			se := model.NewStepExecution("worker", nil)
			se.ID = req.StepExecutionID
			se.MarkAsStarted()
			se.MarkAsCompleted()
			results = append(results, se)
		}
		return messaging.NewMessage(results), nil
	}
}

func TestMessageChannelPartitionHandler_SendsCorrelatedRequests(t *testing.T) {
	f := newFixture(t)
	reply := messaging.NewQueueChannel("aggregated", 1)
	gw := &recordingGateway{reply: completedReplies(3)}
	h, err := partition.NewMessageChannelPartitionHandler(partition.HandlerConfig{
		StepName:     "worker",
		GridSize:     3,
		Gateway:      gw,
		ReplyChannel: reply,
	})
	require.NoError(t, err)
	assert.False(t, h.PollMode())

	results, err := h.Handle(context.Background(), f.splitter(t), f.manager)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	require.Len(t, gw.sent, 3)
	wantCorrelation := fmt.Sprintf("%d:worker", f.job.ID)
	assert.Equal(t, wantCorrelation, partition.CorrelationID(f.job.ID, "worker"))
	for i, m := range gw.sent {
		assert.Equal(t, wantCorrelation, m.Headers[messaging.HeaderCorrelationID])
		assert.Equal(t, i, m.Headers[messaging.HeaderSequenceNumber], "sequence numbers start at 0")
		assert.Equal(t, 3, m.Headers[messaging.HeaderSequenceSize])
		assert.Equal(t, wantCorrelation, m.CorrelationID())
		assert.Equal(t, i, m.SequenceNumber())
		assert.Equal(t, 3, m.SequenceSize())
		assert.Equal(t, messaging.MessageChannel(reply), m.ReplyChannel())

		req := m.Payload.(model.StepExecutionRequest)
		assert.Equal(t, "worker", req.StepName)
		assert.Equal(t, f.job.ID, req.JobExecutionID)
		child, err := f.repo.FindStepExecutionByID(context.Background(), req.StepExecutionID)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("manager:partition%d", i), child.StepName)
	}
}

func TestMessageChannelPartitionHandler_ReplyTimeout(t *testing.T) {
	f := newFixture(t)
	gw := &recordingGateway{reply: func([]*messaging.Message) (*messaging.Message, error) {
		return nil, messaging.ErrReceiveTimeout
	}}
	h, err := partition.NewMessageChannelPartitionHandler(partition.HandlerConfig{
		StepName: "worker", GridSize: 2, Gateway: gw, ReplyChannel: messaging.NewQueueChannel("aggregated", 1),
	})
	require.NoError(t, err)

	results, err := h.Handle(context.Background(), f.splitter(t), f.manager)
	assert.ErrorIs(t, err, partition.ErrPartitionTimeout)
	assert.Empty(t, results)
}

func TestMessageChannelPartitionHandler_PartialReply(t *testing.T) {
	f := newFixture(t)
	gw := &recordingGateway{reply: completedReplies(1)}
	h, err := partition.NewMessageChannelPartitionHandler(partition.HandlerConfig{
		StepName: "worker", GridSize: 3, Gateway: gw, ReplyChannel: messaging.NewQueueChannel("aggregated", 1),
	})
	require.NoError(t, err)

	results, err := h.Handle(context.Background(), f.splitter(t), f.manager)
	assert.ErrorIs(t, err, partition.ErrPartitionTimeout)
	assert.Len(t, results, 1)
}

func TestMessageChannelPartitionHandler_EmptySplit(t *testing.T) {
	f := newFixture(t)
	p := &test.MockPartitioner{}
	p.On("Partition", mock.Anything, 4).Return(map[string]*model.ExecutionContext{}, nil)
	splitter, err := partition.NewSimpleStepExecutionSplitter(partition.SplitterConfig{JobRepository: f.repo, StepName: "manager", Partitioner: p})
	require.NoError(t, err)

	gw := &recordingGateway{}
	h, err := partition.NewMessageChannelPartitionHandler(partition.HandlerConfig{
		StepName: "worker", GridSize: 4, Gateway: gw, ReplyChannel: messaging.NewQueueChannel("aggregated", 1),
	})
	require.NoError(t, err)

	results, err := h.Handle(context.Background(), splitter, f.manager)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, gw.sent)
	p.AssertExpectations(t)
}

// startWorkers runs the worker side on channels: requests are executed by step and,
// when replies is set, answered through the aggregator.
func startWorkers(t *testing.T, f *fixture, ch *messaging.Channels, step stepFunc, reply bool) {
	t.Helper()
	inner, err := partition.NewStepExecutionRequestHandler(usecase.NewSimpleJobExplorer(f.repo), partition.NewMapStepLocator(step))
	require.NoError(t, err)

	cfg := messaging.ActivatorConfig{
		Input:   ch.Requests,
		Handler: partition.NewMessageHandler(partition.NewPersistingRequestHandler(inner, f.repo)),
		Workers: 2,
	}
	if reply {
		cfg.Output = ch.Replies
		agg, err := messaging.NewAggregator(messaging.AggregatorConfig{Input: ch.Replies, Output: ch.Aggregated})
		require.NoError(t, err)
		agg.Start(context.Background())
		t.Cleanup(agg.Stop)
	}
	activator, err := messaging.NewServiceActivator(cfg)
	require.NoError(t, err)
	activator.Start(context.Background())
	t.Cleanup(activator.Stop)
}

func newChannels() *messaging.Channels {
	return &messaging.Channels{
		Requests:   messaging.NewQueueChannel("requests", 10),
		Replies:    messaging.NewQueueChannel("replies", 10),
		Aggregated: messaging.NewQueueChannel("aggregated", 10),
	}
}

func countingStep() stepFunc {
	return stepFunc{name: "worker", fn: func(ctx context.Context, se *model.StepExecution) error {
		se.ReadCount = 5
		se.WriteCount = 5
		return nil
	}}
}

func TestPartitionStep_ReplyModeEndToEnd(t *testing.T) {
	f := newFixture(t)
	ch := newChannels()
	startWorkers(t, f, ch, countingStep(), true)

	h, err := partition.NewMessageChannelPartitionHandler(partition.HandlerConfig{
		StepName:     "worker",
		GridSize:     3,
		Gateway:      messaging.NewChannelGateway(ch.Requests, 5*time.Second),
		ReplyChannel: ch.Aggregated,
	})
	require.NoError(t, err)
	step, err := partition.NewPartitionStep("manager", f.splitter(t), h, f.repo)
	require.NoError(t, err)

	require.NoError(t, step.Execute(context.Background(), f.manager))
	assert.Equal(t, model.BatchStatusCompleted, f.manager.Status)
	assert.EqualValues(t, 15, f.manager.ReadCount)
	assert.EqualValues(t, 15, f.manager.WriteCount)

	children, err := f.repo.FindStepExecutionsByJobExecutionID(context.Background(), f.job.ID)
	require.NoError(t, err)
	completed := 0
	for _, c := range children {
		if c.Status == model.BatchStatusCompleted && c.ID != f.manager.ID {
			completed++
		}
	}
	assert.Equal(t, 3, completed)
}

func TestMessageChannelPartitionHandler_PollMode(t *testing.T) {
	f := newFixture(t)
	ch := newChannels()
	startWorkers(t, f, ch, countingStep(), false)

	h, err := partition.NewMessageChannelPartitionHandler(partition.HandlerConfig{
		StepName:     "worker",
		GridSize:     4,
		Gateway:      messaging.NewChannelGateway(ch.Requests, 0),
		JobExplorer:  usecase.NewSimpleJobExplorer(f.repo),
		PollInterval: 10 * time.Millisecond,
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, h.PollMode())

	results, err := h.Handle(context.Background(), f.splitter(t), f.manager)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, model.BatchStatusCompleted, r.Status)
		assert.Equal(t, fmt.Sprintf("manager:partition%d", i), r.StepName)
	}
	assert.Zero(t, ch.Aggregated.Len())
}

func TestMessageChannelPartitionHandler_PollTimeout(t *testing.T) {
	f := newFixture(t)
	gw := &recordingGateway{}
	h, err := partition.NewMessageChannelPartitionHandler(partition.HandlerConfig{
		StepName:     "worker",
		GridSize:     2,
		Gateway:      gw,
		JobExplorer:  usecase.NewSimpleJobExplorer(f.repo),
		PollInterval: 10 * time.Millisecond,
		Timeout:      50 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), f.splitter(t), f.manager)
	assert.ErrorIs(t, err, partition.ErrPartitionTimeout)
	assert.Len(t, gw.sent, 2)
}

func TestMessageChannelPartitionHandler_ZeroTimeoutWaitsForContext(t *testing.T) {
	f := newFixture(t)
	gw := &recordingGateway{}
	h, err := partition.NewMessageChannelPartitionHandler(partition.HandlerConfig{
		StepName:     "worker",
		GridSize:     2,
		Gateway:      gw,
		JobExplorer:  usecase.NewSimpleJobExplorer(f.repo),
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = h.Handle(ctx, f.splitter(t), f.manager)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, partition.ErrPartitionTimeout, "no handler timeout applies")
}

func TestNewMessageChannelPartitionHandler_Validation(t *testing.T) {
	gw := &recordingGateway{}
	for _, cfg := range []partition.HandlerConfig{
		{GridSize: 1, Gateway: gw, ReplyChannel: messaging.NewQueueChannel("r", 1)},
		{StepName: "w", GridSize: 1, ReplyChannel: messaging.NewQueueChannel("r", 1)},
		{StepName: "w", GridSize: 0, Gateway: gw, ReplyChannel: messaging.NewQueueChannel("r", 1)},
		{StepName: "w", GridSize: 1, Gateway: gw},
	} {
		_, err := partition.NewMessageChannelPartitionHandler(cfg)
		assert.True(t, exception.IsConfigError(err), "%+v", cfg)
	}
}
