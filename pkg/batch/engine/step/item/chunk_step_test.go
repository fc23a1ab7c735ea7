package item_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reader "github.com/tigerroll/pagebatch/pkg/batch/component/step/reader"
	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	item "github.com/tigerroll/pagebatch/pkg/batch/engine/step/item"
	retry "github.com/tigerroll/pagebatch/pkg/batch/engine/step/retry"
	inmemory "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/pagebatch/pkg/batch/test"
)

type recordingWriter struct {
	mu     sync.Mutex
	chunks [][]int
	fail   func(call int, items []int) error
	calls  int
}

func (w *recordingWriter) Write(ctx context.Context, items []int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.fail != nil {
		if err := w.fail(w.calls, items); err != nil {
			return err
		}
	}
	w.chunks = append(w.chunks, append([]int(nil), items...))
	return nil
}

func (w *recordingWriter) written() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []int
	for _, c := range w.chunks {
		out = append(out, c...)
	}
	return out
}

func sequence(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func newNumberReader(t *testing.T, n int) *reader.PagingReader[int] {
	t.Helper()
	cfg := reader.NewPagingReaderConfig("numbers")
	cfg.PageSize = 4
	r, err := reader.NewPagingReader[int](cfg, reader.NewSlicePageSource(sequence(1, n)))
	require.NoError(t, err)
	return r
}

func TestChunkStep_WritesAllItemsInChunks(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	je := test.NewTestJobExecution(t, repo, "chunkJob")
	se := test.NewTestStepExecution(t, repo, je, "chunkStep")

	w := &recordingWriter{}
	step, err := item.NewChunkStep[int]("chunkStep", newNumberReader(t, 25), w, 10, repo)
	require.NoError(t, err)

	require.NoError(t, step.Execute(context.Background(), se))
	require.Len(t, w.chunks, 3)
	assert.Len(t, w.chunks[0], 10)
	assert.Len(t, w.chunks[2], 5)
	assert.Equal(t, sequence(1, 25), w.written())
	assert.EqualValues(t, 25, se.ReadCount)
	assert.EqualValues(t, 25, se.WriteCount)
	assert.EqualValues(t, 3, se.CommitCount)

	stored, err := repo.FindStepExecutionByID(context.Background(), se.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 25, stored.WriteCount)
}

func TestChunkStep_RestartResumesAfterLastCommit(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	je := test.NewTestJobExecution(t, repo, "chunkJob")
	first := test.NewTestStepExecution(t, repo, je, "chunkStep")

	failing := &recordingWriter{fail: func(call int, items []int) error {
		if call == 2 {
			return errors.New("disk full")
		}
		return nil
	}}
	step, err := item.NewChunkStep[int]("chunkStep", newNumberReader(t, 25), failing, 10, repo)
	require.NoError(t, err)

	err = step.Execute(ctx, first)
	require.Error(t, err)
	assert.True(t, exception.IsBatchError(err))
	assert.Equal(t, sequence(1, 10), failing.written())
	assert.EqualValues(t, 1, first.RollbackCount)

	stored, err := repo.FindStepExecutionByID(ctx, first.ID)
	require.NoError(t, err)

	second := model.NewStepExecution("chunkStep", je)
	second.ExecutionContext = stored.ExecutionContext.Copy()
	require.NoError(t, repo.SaveStepExecution(ctx, second))

	w := &recordingWriter{}
	step, err = item.NewChunkStep[int]("chunkStep", newNumberReader(t, 25), w, 10, repo)
	require.NoError(t, err)
	require.NoError(t, step.Execute(ctx, second))
	assert.Equal(t, sequence(11, 25), w.written())
}

func TestChunkStep_RetriesRetryableWrite(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	je := test.NewTestJobExecution(t, repo, "chunkJob")
	se := test.NewTestStepExecution(t, repo, je, "chunkStep")

	w := &recordingWriter{fail: func(call int, items []int) error {
		if call == 1 {
			return exception.NewBatchError("writer", "deadlock", errors.New("deadlock detected"), false, true)
		}
		return nil
	}}
	step, err := item.NewChunkStep[int]("chunkStep", newNumberReader(t, 5), w, 10, repo)
	require.NoError(t, err)
	step.SetRetryPolicy(retry.NewRetryPolicy(2, 0))

	require.NoError(t, step.Execute(context.Background(), se))
	assert.Equal(t, sequence(1, 5), w.written())
	assert.EqualValues(t, 1, se.RollbackCount)
	assert.EqualValues(t, 1, se.CommitCount)
}

func TestChunkStep_NonRetryableWriteFailsImmediately(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	je := test.NewTestJobExecution(t, repo, "chunkJob")
	se := test.NewTestStepExecution(t, repo, je, "chunkStep")

	w := &recordingWriter{fail: func(call int, items []int) error { return errors.New("constraint violation") }}
	step, err := item.NewChunkStep[int]("chunkStep", newNumberReader(t, 5), w, 10, repo)
	require.NoError(t, err)
	step.SetRetryPolicy(retry.NewRetryPolicy(3, 0))

	require.Error(t, step.Execute(context.Background(), se))
	assert.Equal(t, 1, w.calls)
}

func TestChunkStep_CancellationInterrupts(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	je := test.NewTestJobExecution(t, repo, "chunkJob")
	se := test.NewTestStepExecution(t, repo, je, "chunkStep")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &recordingWriter{fail: func(call int, items []int) error {
		if call == 1 {
			cancel()
		}
		return nil
	}}
	step, err := item.NewChunkStep[int]("chunkStep", newNumberReader(t, 25), w, 10, repo)
	require.NoError(t, err)

	err = step.Execute(ctx, se)
	require.Error(t, err)
	assert.ErrorIs(t, err, port.ErrJobInterrupted)
	assert.EqualValues(t, 1, se.CommitCount)
	assert.Equal(t, sequence(1, 10), w.written())
}

func TestNewChunkStep_Validation(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	r := newNumberReader(t, 1)
	w := &recordingWriter{}

	_, err := item.NewChunkStep[int]("", r, w, 1, repo)
	assert.True(t, exception.IsConfigError(err))
	_, err = item.NewChunkStep[int]("s", nil, w, 1, repo)
	assert.True(t, exception.IsConfigError(err))
	_, err = item.NewChunkStep[int]("s", r, w, -1, repo)
	assert.True(t, exception.IsConfigError(err))

	step, err := item.NewChunkStep[int]("s", r, w, 0, repo)
	require.NoError(t, err)
	assert.Equal(t, item.DefaultCommitInterval, step.CommitInterval())
}
