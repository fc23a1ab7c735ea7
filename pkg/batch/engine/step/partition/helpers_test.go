package partition_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	partitioner "github.com/tigerroll/pagebatch/pkg/batch/component/partitioner"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	partition "github.com/tigerroll/pagebatch/pkg/batch/engine/step/partition"
	inmemory "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/pagebatch/pkg/batch/test"
)

// stepFunc is a port.Step backed by a function.
type stepFunc struct {
	name string
	fn   func(ctx context.Context, se *model.StepExecution) error
}

func (s stepFunc) StepName() string { return s.name }

func (s stepFunc) Execute(ctx context.Context, se *model.StepExecution) error { return s.fn(ctx, se) }

// fixture is a job execution with a saved manager StepExecution.
type fixture struct {
	repo    *inmemory.InMemoryJobRepository
	job     *model.JobExecution
	manager *model.StepExecution
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := inmemory.NewInMemoryJobRepository()
	je := test.NewTestJobExecution(t, repo, "partitionJob")
	manager := test.NewTestStepExecution(t, repo, je, "manager")
	manager.MarkAsStarted()
	require.NoError(t, repo.UpdateStepExecution(context.Background(), manager))
	return &fixture{repo: repo, job: je, manager: manager}
}

func (f *fixture) splitter(t *testing.T) *partition.SimpleStepExecutionSplitter {
	t.Helper()
	s, err := partition.NewSimpleStepExecutionSplitter(partition.SplitterConfig{
		JobRepository: f.repo,
		StepName:      "manager",
		Partitioner:   partitioner.NewSimplePartitioner(),
	})
	require.NoError(t, err)
	return s
}
