package partition_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	usecase "github.com/tigerroll/pagebatch/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	partition "github.com/tigerroll/pagebatch/pkg/batch/engine/step/partition"
	messaging "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/messaging"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/pagebatch/pkg/batch/test"
)

func TestMapStepLocator(t *testing.T) {
	a := stepFunc{name: "a"}
	b := stepFunc{name: "b"}
	l := partition.NewMapStepLocator(b)
	require.NoError(t, l.Register(a))

	err := l.Register(stepFunc{name: "a"})
	assert.True(t, exception.IsConfigError(err))

	got, err := l.GetStep("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.StepName())

	_, err = l.GetStep("c")
	assert.ErrorIs(t, err, partition.ErrNoSuchStep)
	assert.Equal(t, []string{"a", "b"}, l.StepNames())
}

func newChild(t *testing.T, f *fixture, name string) *model.StepExecution {
	t.Helper()
	return test.NewTestStepExecution(t, f.repo, f.job, name)
}

func TestStepExecutionRequestHandler_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		fn         func(ctx context.Context, se *model.StepExecution) error
		wantStatus model.JobStatus
		wantFail   string
	}{
		{
			name: "success completes",
			fn: func(ctx context.Context, se *model.StepExecution) error {
				se.ReadCount = 3
				return nil
			},
			wantStatus: model.BatchStatusCompleted,
		},
		{
			name:       "error fails",
			fn:         func(ctx context.Context, se *model.StepExecution) error { return errors.New("boom") },
			wantStatus: model.BatchStatusFailed,
			wantFail:   "boom",
		},
		{
			name: "interruption stops",
			fn: func(ctx context.Context, se *model.StepExecution) error {
				return fmt.Errorf("%w: shutting down", port.ErrJobInterrupted)
			},
			wantStatus: model.BatchStatusStopped,
		},
		{
			name:       "panic fails",
			fn:         func(ctx context.Context, se *model.StepExecution) error { panic("nil map") },
			wantStatus: model.BatchStatusFailed,
			wantFail:   "nil map",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			child := newChild(t, f, "manager:partition0")
			locator := partition.NewMapStepLocator(stepFunc{name: "worker", fn: tt.fn})
			h, err := partition.NewStepExecutionRequestHandler(usecase.NewSimpleJobExplorer(f.repo), locator)
			require.NoError(t, err)

			se, err := h.Handle(context.Background(), model.NewStepExecutionRequest("worker", f.job.ID, child.ID))
			require.NoError(t, err)
			require.NotNil(t, se)
			assert.Equal(t, tt.wantStatus, se.Status)
			assert.Equal(t, child.ID, se.ID)
			if tt.wantFail != "" {
				require.NotEmpty(t, se.Failures)
				assert.Contains(t, se.Failures[0], tt.wantFail)
			}
		})
	}
}

func TestStepExecutionRequestHandler_UnresolvableRequests(t *testing.T) {
	f := newFixture(t)
	child := newChild(t, f, "manager:partition0")
	worker := &test.MockStep{Name: "worker"}
	h, err := partition.NewStepExecutionRequestHandler(usecase.NewSimpleJobExplorer(f.repo), partition.NewMapStepLocator(worker))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = h.Handle(ctx, model.NewStepExecutionRequest("worker", f.job.ID, 999))
	assert.ErrorIs(t, err, partition.ErrNoSuchStepExecution)

	_, err = h.Handle(ctx, model.NewStepExecutionRequest("worker", f.job.ID+1, child.ID))
	assert.ErrorIs(t, err, partition.ErrNoSuchStepExecution)

	_, err = h.Handle(ctx, model.NewStepExecutionRequest("unknown", f.job.ID, child.ID))
	assert.ErrorIs(t, err, partition.ErrNoSuchStep)

	worker.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	stored, err := f.repo.FindStepExecutionByID(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarting, stored.Status)
}

func TestPersistingRequestHandler_WritesTerminalStatus(t *testing.T) {
	f := newFixture(t)
	child := newChild(t, f, "manager:partition0")
	locator := partition.NewMapStepLocator(stepFunc{name: "worker", fn: func(ctx context.Context, se *model.StepExecution) error {
		se.WriteCount = 7
		return nil
	}})
	inner, err := partition.NewStepExecutionRequestHandler(usecase.NewSimpleJobExplorer(f.repo), locator)
	require.NoError(t, err)

	handler := partition.NewMessageHandler(partition.NewPersistingRequestHandler(inner, f.repo))
	reply, err := handler(context.Background(), messaging.NewMessage(model.NewStepExecutionRequest("worker", f.job.ID, child.ID)))
	require.NoError(t, err)
	require.IsType(t, &model.StepExecution{}, reply)

	stored, err := f.repo.FindStepExecutionByID(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.EqualValues(t, 7, stored.WriteCount)

	_, err = handler(context.Background(), messaging.NewMessage("not a request"))
	assert.True(t, exception.IsBatchError(err))
}
